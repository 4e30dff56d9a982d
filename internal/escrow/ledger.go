// Package escrow implements an in-process reservable currency ledger. Each
// account has a free balance and a reserved balance; reserving moves funds
// from free to reserved and unreserving moves them back.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"kittycore/pkg/domain"
)

var _ domain.Escrow = (*Ledger)(nil)

// ErrBalanceOverflow is returned when a deposit would overflow a balance.
var ErrBalanceOverflow = errors.New("balance overflow")

// Account holds the two balances of one account.
type Account struct {
	Free     domain.Balance `yaml:"free" json:"free"`
	Reserved domain.Balance `yaml:"reserved" json:"reserved"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]Account
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[domain.AccountID]Account)}
}

// Deposit credits amount to the free balance of account.
func (l *Ledger) Deposit(account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if amount > math.MaxUint64-acct.Free {
		return fmt.Errorf("deposit %d to %s: %w", amount, account, ErrBalanceOverflow)
	}
	acct.Free += amount
	l.accounts[account] = acct
	return nil
}

// Free returns the unreserved balance of account.
func (l *Ledger) Free(account domain.AccountID) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account].Free
}

// Reserved returns the reserved balance of account.
func (l *Ledger) Reserved(account domain.AccountID) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account].Reserved
}

// Account returns both balances of account.
func (l *Ledger) Account(account domain.AccountID) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account]
}

// Reserve implements domain.Escrow.
func (l *Ledger) Reserve(_ context.Context, account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if acct.Free < amount {
		return fmt.Errorf("reserve %d from %s (free %d): %w", amount, account, acct.Free, domain.ErrInsufficientBalance)
	}
	if amount > math.MaxUint64-acct.Reserved {
		return fmt.Errorf("reserve %d from %s: %w", amount, account, ErrBalanceOverflow)
	}
	acct.Free -= amount
	acct.Reserved += amount
	l.accounts[account] = acct
	return nil
}

// Unreserve implements domain.Escrow. It releases at most the reserved
// balance and reports how much moved.
func (l *Ledger) Unreserve(_ context.Context, account domain.AccountID, amount domain.Balance) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return 0
	}
	released := min(amount, acct.Reserved)
	acct.Reserved -= released
	acct.Free += released
	l.accounts[account] = acct
	return released
}

// Accounts returns a copy of every account.
func (l *Ledger) Accounts() map[domain.AccountID]Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.AccountID]Account, len(l.accounts))
	for id, acct := range l.accounts {
		out[id] = acct
	}
	return out
}

// AccountIDs returns the known account ids in sorted order.
func (l *Ledger) AccountIDs() []domain.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]domain.AccountID, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Replace swaps in the given accounts.
func (l *Ledger) Replace(accounts map[domain.AccountID]Account) {
	next := make(map[domain.AccountID]Account, len(accounts))
	for id, acct := range accounts {
		next[id] = acct
	}
	l.mu.Lock()
	l.accounts = next
	l.mu.Unlock()
}
