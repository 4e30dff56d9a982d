package core

import (
	"context"

	"kittycore/pkg/domain"
)

type escrowOp struct {
	account  AccountID
	reserved Balance
	released Balance
}

// escrowJournal forwards reserve/unreserve calls to the escrow and remembers
// what actually moved so a failed transition can be compensated.
type escrowJournal struct {
	escrow domain.Escrow
	ops    []escrowOp
}

func newEscrowJournal(escrow domain.Escrow) *escrowJournal {
	return &escrowJournal{escrow: escrow}
}

func (j *escrowJournal) Reserve(ctx context.Context, account AccountID, amount Balance) error {
	if err := j.escrow.Reserve(ctx, account, amount); err != nil {
		return err
	}
	j.ops = append(j.ops, escrowOp{account: account, reserved: amount})
	return nil
}

func (j *escrowJournal) Unreserve(ctx context.Context, account AccountID, amount Balance) Balance {
	released := j.escrow.Unreserve(ctx, account, amount)
	j.ops = append(j.ops, escrowOp{account: account, released: released})
	return released
}

// revert undoes every journaled operation in reverse order. Re-reserving an
// amount that was just released cannot fail unless the account was spent
// concurrently; such failures are returned for logging.
func (j *escrowJournal) revert(ctx context.Context) []error {
	var errs []error
	for i := len(j.ops) - 1; i >= 0; i-- {
		op := j.ops[i]
		if op.reserved > 0 {
			j.escrow.Unreserve(ctx, op.account, op.reserved)
		}
		if op.released > 0 {
			if err := j.escrow.Reserve(ctx, op.account, op.released); err != nil {
				errs = append(errs, err)
			}
		}
	}
	j.ops = nil
	return errs
}
