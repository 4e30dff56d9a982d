package domain

// SeedMaterial is the caller-supplied part of a randomness request.
type SeedMaterial struct {
	Account AccountID
}

// Randomness derives 16 bytes the caller cannot predict ahead of time.
// Identical inputs (including the source's own seed and sequence state) must
// yield identical outputs so a ledger can be replayed.
type Randomness interface {
	Derive(material SeedMaterial) Genes
}

// SequencedRandomness is a Randomness whose position can be recorded with the
// ledger and resumed after a restart.
type SequencedRandomness interface {
	Randomness
	// Sequence returns the position the next Derive call will use.
	Sequence() uint64
}
