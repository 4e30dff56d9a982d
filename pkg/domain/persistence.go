package domain

import (
	"context"
	"fmt"
)

// TransactionView provides read-only access to ledger state. Rules and
// queries receive it; it never exposes mutation.
type TransactionView interface {
	NextKittyID() KittyID
	FindKitty(id KittyID) (Kitty, bool)
	Exists(id KittyID) bool
	Owner(id KittyID) (AccountID, bool)
	Parents(id KittyID) (Parents, bool)
	IsListed(id KittyID) bool
	ListKitties() []Kitty
	ListListings() []KittyID
	// RandomSequence is the randomness position recorded by the last
	// committed draw. A resumed source starts here.
	RandomSequence() uint64
}

// Transaction exposes the ledger operations that a persistence implementation
// must support within an atomic scope. Writes are visible to later reads of
// the same transaction and to nobody else until commit.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	// AllocateKittyID returns the current counter value and stages counter+1.
	// It fails with ErrIDSpaceExhausted, leaving the counter unchanged, when
	// the increment would overflow.
	AllocateKittyID() (KittyID, error)
	// InsertKitty stores a new kitty; ErrDuplicateKittyID if the id is taken.
	InsertKitty(kitty Kitty) error
	// SetOwner unconditionally assigns the owner.
	SetOwner(id KittyID, owner AccountID)
	// SetParents records parentage once; ErrParentsAlreadySet on a second call.
	SetParents(id KittyID, parents Parents) error
	ListForSale(id KittyID)
	UnlistForSale(id KittyID)
	// AdvanceRandomSequence stages next as the recorded randomness position.
	// Lower values are ignored.
	AdvanceRandomSequence(next uint64)
}

// PersistentStore is a minimal abstraction over durable backends. Every
// implementation serializes transactions: fn runs with exclusive access and
// its writes are committed only when fn and the rules engine both succeed.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	ExportState() Snapshot
	ImportState(snapshot Snapshot)
}

// Snapshot is the logical persisted layout of the ledger.
type Snapshot struct {
	NextKittyID    KittyID               `json:"next_kitty_id"`
	Kitties        map[KittyID]Kitty     `json:"kitties"`
	Owners         map[KittyID]AccountID `json:"owners"`
	Parents        map[KittyID]Parents   `json:"parents"`
	Listings       []KittyID             `json:"listings"`
	RandomSequence uint64                `json:"random_sequence,omitempty"`
}

// PersistError reports that a transaction committed in memory but could not
// be written to the durable backend. The state change stands.
type PersistError struct {
	Backend string
	Err     error
}

func (e PersistError) Error() string {
	return fmt.Sprintf("persist %s snapshot: %v", e.Backend, e.Err)
}

func (e PersistError) Unwrap() error { return e.Err }
