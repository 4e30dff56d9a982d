package core

import (
	"context"
	"errors"
	"testing"

	"kittycore/pkg/domain"
)

func fill(b byte) Genes {
	var g Genes
	for i := range g {
		g[i] = b
	}
	return g
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	g0, g1, selector := fill(0xFF), fill(0x00), fill(0xF0)
	h := newHarness(t, []Genes{g0, g1, selector})
	for _, acct := range []AccountID{"1", "2", "3"} {
		h.fund(t, acct, 100)
	}

	k0 := h.create(t, "1")
	k1 := h.create(t, "1")
	if k0.ID != 0 || k1.ID != 1 {
		t.Fatalf("want ids 0 and 1, got %s and %s", k0.ID, k1.ID)
	}
	child, err := h.svc.Breed(ctx, "1", 0, 1)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if child.ID != 2 || child.Genes != fill(0xF0) {
		t.Fatalf("unexpected child %+v", child)
	}
	parents, ok, err := h.svc.Parents(ctx, 2)
	if err != nil || !ok || parents != (Parents{A: 0, B: 1}) {
		t.Fatalf("want parents (0,1), got %+v ok=%v err=%v", parents, ok, err)
	}
	if err := h.svc.Transfer(ctx, "1", 2, "2"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := h.svc.ListForSale(ctx, "2", 2); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := h.svc.Buy(ctx, "3", 2); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if owner := h.owner(t, 2); owner != "3" {
		t.Fatalf("want owner 3, got %s", owner)
	}
	if h.listed(t, 2) {
		t.Fatalf("listing should be cleared")
	}
	if got := h.balances("1").Reserved; got != 30 {
		t.Fatalf("account 1 should hold three stakes, got %d", got)
	}
	if got := h.balances("3").Reserved; got != 10 {
		t.Fatalf("buyer should hold one stake, got %d", got)
	}
	if got := h.balances("2"); got.Reserved != 0 || got.Free != 100 {
		t.Fatalf("seller had nothing reserved, got %+v", got)
	}

	var kinds []EventKind
	for _, e := range h.events.Events() {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EventKittyCreated, EventKittyCreated, EventKittyBred, EventKittyTransferred, EventKittyListed, EventKittySold}
	if len(kinds) != len(want) {
		t.Fatalf("want events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: want %s, got %s", i, want[i], kinds[i])
		}
	}
	sold, _ := h.events.Last()
	if sold.Who != "3" || sold.Seller != "2" || sold.KittyID != 2 {
		t.Fatalf("unexpected sale event %+v", sold)
	}
}

func TestCreateAssignsOwnerAndEmitsGenes(t *testing.T) {
	ctx := context.Background()
	genes := fill(0x5A)
	h := newHarness(t, []Genes{genes})
	h.fund(t, "alice", 10)

	k := h.create(t, "alice")
	if k.ID != 0 || k.Genes != genes {
		t.Fatalf("unexpected kitty %+v", k)
	}
	if owner := h.owner(t, k.ID); owner != "alice" {
		t.Fatalf("want alice, got %s", owner)
	}
	stored, err := h.svc.Kitty(ctx, k.ID)
	if err != nil || stored != k {
		t.Fatalf("stored kitty %+v err=%v", stored, err)
	}
	if got := h.balances("alice"); got.Free != 0 || got.Reserved != 10 {
		t.Fatalf("stake not reserved: %+v", got)
	}
	ev, ok := h.events.Last()
	if !ok || ev.Kind != EventKittyCreated || ev.Who != "alice" || ev.Genes == nil || *ev.Genes != genes {
		t.Fatalf("unexpected event %+v", ev)
	}
	if reqs := h.random.Requests(); len(reqs) != 1 || reqs[0].Account != "alice" {
		t.Fatalf("randomness should be seeded with the caller, got %v", reqs)
	}
}

func TestCreateWithoutFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "poor", 9)

	_, err := h.svc.Create(ctx, "poor")
	requireErr(t, err, domain.ErrInsufficientBalance)

	next, err := h.svc.NextKittyID(ctx)
	if err != nil || next != 0 {
		t.Fatalf("counter should be unchanged, got %d err=%v", next, err)
	}
	if _, err := h.svc.Kitty(ctx, 0); !errors.Is(err, domain.ErrInvalidKittyID) {
		t.Fatalf("no kitty may exist, got %v", err)
	}
	if _, ok, _ := h.svc.Owner(ctx, 0); ok {
		t.Fatalf("no owner may exist")
	}
	if got := h.balances("poor"); got.Free != 9 || got.Reserved != 0 {
		t.Fatalf("balances moved: %+v", got)
	}
	if n := len(h.events.Events()); n != 0 {
		t.Fatalf("failed create must not emit, got %d events", n)
	}

	h.fund(t, "poor", 1)
	k := h.create(t, "poor")
	if k.ID != 0 {
		t.Fatalf("retry should receive id 0, got %s", k.ID)
	}
}

func TestCreateAtIDSpaceExhaustion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 100)
	h.store.ImportState(Snapshot{NextKittyID: domain.MaxKittyID})

	_, err := h.svc.Create(ctx, "alice")
	requireErr(t, err, domain.ErrIDSpaceExhausted)
	if next, _ := h.svc.NextKittyID(ctx); next != domain.MaxKittyID {
		t.Fatalf("counter changed to %d", next)
	}
	if got := h.balances("alice"); got.Reserved != 0 {
		t.Fatalf("no stake should be reserved: %+v", got)
	}
}

func TestAllocatorIDsFollowSuccessfulCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 50)
	for want := KittyID(0); want < 5; want++ {
		if k := h.create(t, "alice"); k.ID != want {
			t.Fatalf("want id %d, got %d", want, k.ID)
		}
		if _, err := h.svc.Create(ctx, "broke"); err == nil {
			t.Fatalf("unfunded create should fail")
		}
	}
	if next, _ := h.svc.NextKittyID(ctx); next != 5 {
		t.Fatalf("want counter 5, got %d", next)
	}
}

func TestBreedPreconditionOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 100)
	h.create(t, "alice")

	cases := []struct {
		name string
		a, b KittyID
		want error
	}{
		{name: "identical missing ids", a: 7, b: 7, want: domain.ErrIdenticalParents},
		{name: "identical existing ids", a: 0, b: 0, want: domain.ErrIdenticalParents},
		{name: "missing first", a: 9, b: 0, want: domain.ErrInvalidKittyID},
		{name: "missing second", a: 0, b: 9, want: domain.ErrInvalidKittyID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Breed(ctx, "alice", tc.a, tc.b)
			requireErr(t, err, tc.want)
		})
	}
	if next, _ := h.svc.NextKittyID(ctx); next != 1 {
		t.Fatalf("failed breeds must not allocate, counter %d", next)
	}
	if got := h.balances("alice").Reserved; got != 10 {
		t.Fatalf("failed breeds must not reserve, reserved %d", got)
	}
}

func TestBreedRecordsParentsInCallOrder(t *testing.T) {
	ctx := context.Background()
	a := Genes{0b1111_0000}
	b := Genes{0b0000_1111}
	selector := Genes{0b1010_1010}
	h := newHarness(t, []Genes{a, b, selector})
	h.fund(t, "alice", 100)
	h.create(t, "alice")
	h.create(t, "alice")

	child, err := h.svc.Breed(ctx, "alice", 1, 0)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if want := domain.Crossover(b, a, selector); child.Genes != want {
		t.Fatalf("want genes %s, got %s", want, child.Genes)
	}
	if child.Genes[0] != 0b0101_1010 {
		t.Fatalf("unexpected first byte %08b", child.Genes[0])
	}
	parents, ok, _ := h.svc.Parents(ctx, child.ID)
	if !ok || parents != (Parents{A: 1, B: 0}) {
		t.Fatalf("want parents (1,0), got %+v", parents)
	}
	if _, ok, _ := h.svc.Parents(ctx, 0); ok {
		t.Fatalf("created kitties have no parentage")
	}
	ev, _ := h.events.Last()
	if ev.Kind != EventKittyBred || ev.KittyID != child.ID || *ev.Genes != child.Genes {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBreedDoesNotRequireParentOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 20)
	h.fund(t, "bob", 10)
	h.create(t, "alice")
	h.create(t, "alice")

	child, err := h.svc.Breed(ctx, "bob", 0, 1)
	if err != nil {
		t.Fatalf("breed by non-owner: %v", err)
	}
	if owner := h.owner(t, child.ID); owner != "bob" {
		t.Fatalf("child belongs to the caller, got %s", owner)
	}
	if got := h.balances("bob").Reserved; got != 10 {
		t.Fatalf("stake comes from the caller, reserved %d", got)
	}
}

func TestBreedWithoutFundsRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 20)
	h.create(t, "alice")
	h.create(t, "alice")

	_, err := h.svc.Breed(ctx, "alice", 0, 1)
	requireErr(t, err, domain.ErrInsufficientBalance)
	if next, _ := h.svc.NextKittyID(ctx); next != 2 {
		t.Fatalf("counter moved to %d", next)
	}
	if _, ok, _ := h.svc.Parents(ctx, 2); ok {
		t.Fatalf("parentage leaked")
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 10)
	h.create(t, "alice")

	requireErr(t, h.svc.Transfer(ctx, "alice", 5, "bob"), domain.ErrInvalidKittyID)
	requireErr(t, h.svc.Transfer(ctx, "mallory", 0, "mallory"), domain.ErrNotOwner)
	if owner := h.owner(t, 0); owner != "alice" {
		t.Fatalf("ownership changed by failed transfer: %s", owner)
	}

	if err := h.svc.Transfer(ctx, "alice", 0, "bob"); err != nil {
		t.Fatalf("alice -> bob: %v", err)
	}
	if err := h.svc.Transfer(ctx, "bob", 0, "alice"); err != nil {
		t.Fatalf("bob -> alice: %v", err)
	}
	if owner := h.owner(t, 0); owner != "alice" {
		t.Fatalf("want alice, got %s", owner)
	}
	if got := h.balances("alice"); got.Reserved != 10 {
		t.Fatalf("transfers do not move stake: %+v", got)
	}
	ev, _ := h.events.Last()
	if ev.Kind != EventKittyTransferred || ev.Who != "bob" || ev.Recipient != "alice" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestListingPolarity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 10)
	h.fund(t, "bob", 10)
	h.create(t, "alice")

	requireErr(t, h.svc.ListForSale(ctx, "alice", 3), domain.ErrInvalidKittyID)
	requireErr(t, h.svc.ListForSale(ctx, "bob", 0), domain.ErrNotOwner)
	requireErr(t, h.svc.Buy(ctx, "bob", 0), domain.ErrNotListed)

	if err := h.svc.ListForSale(ctx, "alice", 0); err != nil {
		t.Fatalf("list unlisted kitty: %v", err)
	}
	requireErr(t, h.svc.ListForSale(ctx, "alice", 0), domain.ErrAlreadyListed)
	if !h.listed(t, 0) {
		t.Fatalf("kitty should be listed")
	}
	ev, _ := h.events.Last()
	if ev.Kind != EventKittyListed || ev.Who != "alice" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBuyMovesStakeAndOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 10)
	h.fund(t, "bob", 25)
	h.create(t, "alice")

	requireErr(t, h.svc.Buy(ctx, "bob", 4), domain.ErrInvalidKittyID)
	if err := h.svc.ListForSale(ctx, "alice", 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	requireErr(t, h.svc.Buy(ctx, "alice", 0), domain.ErrAlreadyOwned)

	if err := h.svc.Buy(ctx, "bob", 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if owner := h.owner(t, 0); owner != "bob" {
		t.Fatalf("want bob, got %s", owner)
	}
	if h.listed(t, 0) {
		t.Fatalf("listing should be cleared")
	}
	if got := h.balances("alice"); got.Free != 10 || got.Reserved != 0 {
		t.Fatalf("seller stake should be released: %+v", got)
	}
	if got := h.balances("bob"); got.Free != 15 || got.Reserved != 10 {
		t.Fatalf("buyer stake should be reserved: %+v", got)
	}
	requireErr(t, h.svc.Buy(ctx, "bob", 0), domain.ErrAlreadyOwned)
	requireErr(t, h.svc.Buy(ctx, "carol", 0), domain.ErrNotListed)
}

func TestBuyWithoutFundsLeavesListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 10)
	h.create(t, "alice")
	if err := h.svc.ListForSale(ctx, "alice", 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	events := len(h.events.Events())

	requireErr(t, h.svc.Buy(ctx, "bob", 0), domain.ErrInsufficientBalance)
	if owner := h.owner(t, 0); owner != "alice" || !h.listed(t, 0) {
		t.Fatalf("failed buy changed state: owner %s listed %v", owner, h.listed(t, 0))
	}
	if got := h.balances("alice").Reserved; got != 10 {
		t.Fatalf("seller stake released by failed buy: %d", got)
	}
	if len(h.events.Events()) != events {
		t.Fatalf("failed buy emitted an event")
	}
}

func TestBuyOfUnownedKittyFailsNotOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "bob", 10)
	h.store.ImportState(Snapshot{
		NextKittyID: 1,
		Kitties:     map[KittyID]Kitty{0: {ID: 0}},
		Listings:    []KittyID{0},
	})
	requireErr(t, h.svc.Buy(ctx, "bob", 0), domain.ErrNotOwner)
}

func TestFailedTransitionCompensatesEscrow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 10)
	h.fund(t, "bob", 10)
	h.create(t, "alice")
	if err := h.svc.ListForSale(ctx, "alice", 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	h.store.RulesEngine().Register(freezeListingsRule{})

	err := h.svc.Buy(ctx, "bob", 0)
	var violation RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("want rule violation, got %v", err)
	}
	if got := h.balances("bob"); got.Free != 10 || got.Reserved != 0 {
		t.Fatalf("buyer reservation not reverted: %+v", got)
	}
	if got := h.balances("alice"); got.Free != 0 || got.Reserved != 10 {
		t.Fatalf("seller release not reverted: %+v", got)
	}
	if owner := h.owner(t, 0); owner != "alice" {
		t.Fatalf("ownership changed: %s", owner)
	}
}

func TestPersistErrorKeepsCommittedTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 10)
	svc := NewService(persistFailingStore{Store: h.store}, h.ledger, h.random, WithEventSink(h.events))

	k, err := svc.Create(ctx, "alice")
	var pErr PersistError
	if !errors.As(err, &pErr) {
		t.Fatalf("want PersistError, got %v", err)
	}
	if k.ID != 0 {
		t.Fatalf("committed kitty should still be returned, got %+v", k)
	}
	if got := h.balances("alice").Reserved; got != 10 {
		t.Fatalf("stake must stay reserved after commit, got %d", got)
	}
	if n := len(h.events.Events()); n != 1 {
		t.Fatalf("committed transition should publish, got %d events", n)
	}
}

func TestReadQueries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", 30)
	h.fund(t, "bob", 10)
	h.create(t, "alice")
	h.create(t, "bob")
	if _, err := h.svc.Breed(ctx, "alice", 0, 1); err != nil {
		t.Fatalf("breed: %v", err)
	}
	if err := h.svc.ListForSale(ctx, "alice", 2); err != nil {
		t.Fatalf("list: %v", err)
	}

	details, err := h.svc.Describe(ctx, 2)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if details.Owner != "alice" || !details.Listed || details.Parents == nil || *details.Parents != (Parents{A: 0, B: 1}) {
		t.Fatalf("unexpected details %+v", details)
	}
	if _, err := h.svc.Describe(ctx, 42); !errors.Is(err, domain.ErrInvalidKittyID) {
		t.Fatalf("want ErrInvalidKittyID, got %v", err)
	}

	all, err := h.svc.ListKitties(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("want 3 kitties, got %d err=%v", len(all), err)
	}
	for i, d := range all {
		if d.ID != KittyID(i) {
			t.Fatalf("kitties not ordered: %+v", all)
		}
	}
	mine, _ := h.svc.ListKitties(ctx, "alice")
	if len(mine) != 2 || mine[0].ID != 0 || mine[1].ID != 2 {
		t.Fatalf("unexpected alice kitties %+v", mine)
	}
	if h.svc.Stake() != DefaultStake || h.svc.Store() == nil {
		t.Fatalf("unexpected service accessors")
	}
}

func TestWithStake(t *testing.T) {
	h := newHarness(t, nil, WithStake(3), WithStake(0))
	h.fund(t, "alice", 3)
	h.create(t, "alice")
	if got := h.balances("alice").Reserved; got != 3 {
		t.Fatalf("want stake 3 reserved, got %d", got)
	}
}

func TestIsCallerError(t *testing.T) {
	if !IsCallerError(errors.Join(errors.New("ctx"), domain.ErrNotListed)) {
		t.Fatalf("wrapped sentinel should be a caller error")
	}
	if !IsCallerError(RuleViolationError{}) {
		t.Fatalf("rule violations are caller errors")
	}
	if IsCallerError(PersistError{Backend: "sqlite", Err: errors.New("io")}) {
		t.Fatalf("persistence failures are not caller errors")
	}
}

// freezeListingsRule blocks every listing removal.
type freezeListingsRule struct{}

func (freezeListingsRule) Name() string { return "freeze_listings" }

func (freezeListingsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityListing && c.Action == domain.ActionDelete {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "freeze_listings",
				Severity: domain.SeverityBlock,
				Message:  "listings are frozen",
				Entity:   domain.EntityListing,
				KittyID:  c.KittyID,
			})
		}
	}
	return res, nil
}
