// Package randomness provides the gene randomness used by kitty creation and
// breeding.
package randomness

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"kittycore/pkg/domain"
)

// SeedSize is the length of the external seed in bytes.
const SeedSize = 32

var _ domain.SequencedRandomness = (*Source)(nil)

// Source derives 16 bytes as blake2b-128(seed || sequence || account). The
// sequence increments on every call, so identical accounts get distinct
// outputs while a replay from the same seed and sequence reproduces them.
type Source struct {
	mu   sync.Mutex
	seed [SeedSize]byte
	seq  uint64
}

// NewSource returns a source over seed starting at sequence 0.
func NewSource(seed [SeedSize]byte) *Source {
	return &Source{seed: seed}
}

// NewSourceAt returns a source that resumes at sequence seq.
func NewSourceAt(seed [SeedSize]byte, seq uint64) *Source {
	return &Source{seed: seed, seq: seq}
}

// NewRandomSource draws its seed from crypto/rand.
func NewRandomSource() (*Source, error) {
	var seed [SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return NewSource(seed), nil
}

// ParseSeed decodes a hex seed of exactly SeedSize bytes.
func ParseSeed(s string) ([SeedSize]byte, error) {
	var seed [SeedSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return seed, fmt.Errorf("parse seed: %w", err)
	}
	if len(b) != SeedSize {
		return seed, fmt.Errorf("parse seed: want %d bytes, got %d", SeedSize, len(b))
	}
	copy(seed[:], b)
	return seed, nil
}

// Sequence returns the sequence number the next Derive call will use.
func (s *Source) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Derive implements domain.Randomness.
func (s *Source) Derive(material domain.SeedMaterial) domain.Genes {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()
	return derive(s.seed, seq, material.Account)
}

func derive(seed [SeedSize]byte, seq uint64, account domain.AccountID) domain.Genes {
	h, err := blake2b.New(domain.GenesLen, nil)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], seq)
	h.Write(seed[:])
	h.Write(nonce[:])
	h.Write([]byte(account))
	var out domain.Genes
	copy(out[:], h.Sum(nil))
	return out
}
