package domain

import "context"

// Escrow is the reservation contract of the external currency ledger.
type Escrow interface {
	// Reserve moves amount from the account's free balance into its reserved
	// balance. It returns an error wrapping ErrInsufficientBalance when the
	// free balance is too small, leaving both balances unchanged.
	Reserve(ctx context.Context, account AccountID, amount Balance) error
	// Unreserve releases up to amount of the account's reserved balance and
	// returns how much was actually released. It never fails.
	Unreserve(ctx context.Context, account AccountID, amount Balance) Balance
}
