package core

import (
	"context"
	"errors"
	"testing"

	"kittycore/internal/escrow"
	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/randomness"
	"kittycore/pkg/domain"
)

type harness struct {
	svc    *Service
	store  *memory.Store
	ledger *escrow.Ledger
	random *randomness.Fixed
	events *EventLog
}

func newHarness(t *testing.T, genes []domain.Genes, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  memory.NewStore(NewDefaultRulesEngine()),
		ledger: escrow.NewLedger(),
		random: randomness.NewFixed(genes...),
		events: NewEventLog(),
	}
	opts = append([]Option{WithEventSink(h.events)}, opts...)
	h.svc = NewService(h.store, h.ledger, h.random, opts...)
	return h
}

func (h *harness) fund(t *testing.T, account AccountID, amount Balance) {
	t.Helper()
	if err := h.ledger.Deposit(account, amount); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func (h *harness) create(t *testing.T, caller AccountID) Kitty {
	t.Helper()
	k, err := h.svc.Create(context.Background(), caller)
	if err != nil {
		t.Fatalf("create for %s: %v", caller, err)
	}
	return k
}

func (h *harness) owner(t *testing.T, id KittyID) AccountID {
	t.Helper()
	owner, ok, err := h.svc.Owner(context.Background(), id)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if !ok {
		t.Fatalf("kitty %s has no owner", id)
	}
	return owner
}

func (h *harness) listed(t *testing.T, id KittyID) bool {
	t.Helper()
	listed, err := h.svc.IsListed(context.Background(), id)
	if err != nil {
		t.Fatalf("is listed: %v", err)
	}
	return listed
}

func (h *harness) balances(account AccountID) escrow.Account {
	return h.ledger.Account(account)
}

func requireErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("want %v, got %v", target, err)
	}
}

// persistFailingStore commits through the memory store and then reports a
// persistence failure, mimicking a durable backend that went away.
type persistFailingStore struct {
	*memory.Store
}

func (s persistFailingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, domain.PersistError{Backend: "flaky", Err: errors.New("disk full")}
}
