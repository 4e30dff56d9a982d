// Package buckets encodes a ledger snapshot as one JSON payload per logical
// key space, the layout shared by the sqlite and postgres stores.
package buckets

import (
	"encoding/json"
	"fmt"

	"kittycore/pkg/domain"
)

// Bucket names in write order.
const (
	NextKittyID = "next_kitty_id"
	Kitties     = "kitties"
	Owners      = "owners"
	Parents     = "parents"
	Listings    = "listings"
	RandomSeq   = "random_sequence"
)

// Names lists every bucket in write order.
var Names = []string{NextKittyID, Kitties, Owners, Parents, Listings, RandomSeq}

// Payload is one encoded bucket.
type Payload struct {
	Bucket string
	Data   []byte
}

// Encode splits the snapshot into bucket payloads ordered as Names.
func Encode(s domain.Snapshot) ([]Payload, error) {
	out := make([]Payload, 0, len(Names))
	for _, name := range Names {
		var (
			data []byte
			err  error
		)
		switch name {
		case NextKittyID:
			data, err = json.Marshal(s.NextKittyID)
		case Kitties:
			data, err = json.Marshal(s.Kitties)
		case Owners:
			data, err = json.Marshal(s.Owners)
		case Parents:
			data, err = json.Marshal(s.Parents)
		case Listings:
			data, err = json.Marshal(s.Listings)
		case RandomSeq:
			data, err = json.Marshal(s.RandomSequence)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out = append(out, Payload{Bucket: name, Data: data})
	}
	return out, nil
}

// Decoder accumulates bucket payloads into a snapshot. Unknown buckets are
// ignored so older binaries can read newer databases.
type Decoder struct {
	snapshot domain.Snapshot
	seen     int
}

// Add decodes one bucket payload.
func (d *Decoder) Add(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case NextKittyID:
		target = &d.snapshot.NextKittyID
	case Kitties:
		target = &d.snapshot.Kitties
	case Owners:
		target = &d.snapshot.Owners
	case Parents:
		target = &d.snapshot.Parents
	case Listings:
		target = &d.snapshot.Listings
	case RandomSeq:
		target = &d.snapshot.RandomSequence
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	d.seen++
	return nil
}

// Empty reports whether no known bucket was decoded.
func (d *Decoder) Empty() bool { return d.seen == 0 }

// Snapshot returns the decoded snapshot.
func (d *Decoder) Snapshot() domain.Snapshot { return d.snapshot }
