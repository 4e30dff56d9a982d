package domain

import "context"

// EventKind enumerates the notifications emitted by successful transitions.
type EventKind string

// Event kinds, one per transition handler.
const (
	EventKittyCreated     EventKind = "kitty_created"
	EventKittyBred        EventKind = "kitty_bred"
	EventKittyTransferred EventKind = "kitty_transferred"
	EventKittyListed      EventKind = "kitty_listed"
	EventKittySold        EventKind = "kitty_sold"
)

// Event is the structured notification for one successful transition.
// Recipient is set for transfers, Seller for sales and Genes for creation and
// breeding.
type Event struct {
	Kind      EventKind `json:"kind"`
	Who       AccountID `json:"who"`
	KittyID   KittyID   `json:"kitty_id"`
	Recipient AccountID `json:"recipient,omitempty"`
	Seller    AccountID `json:"seller,omitempty"`
	Genes     *Genes    `json:"genes,omitempty"`
}

// EventSink consumes transition notifications. Sinks must not block the
// caller for long and never feed data back into the ledger.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}
