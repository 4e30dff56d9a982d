// Package memory provides the in-memory implementation of the ledger store.
// It is the transactional core that the sqlite and postgres stores snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kittycore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.TransactionView = stateView{}
)

type (
	// Kitty aliases domain.Kitty.
	Kitty = domain.Kitty
	// KittyID aliases domain.KittyID.
	KittyID = domain.KittyID
	// AccountID aliases domain.AccountID.
	AccountID = domain.AccountID
	// Parents aliases domain.Parents.
	Parents = domain.Parents
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Snapshot aliases domain.Snapshot.
	Snapshot = domain.Snapshot
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	nextID    KittyID
	randomSeq uint64
	kitties   map[KittyID]domain.Genes
	owners    map[KittyID]AccountID
	parents   map[KittyID]Parents
	listings  map[KittyID]struct{}
}

func newMemoryState() memoryState {
	return memoryState{
		kitties:  make(map[KittyID]domain.Genes),
		owners:   make(map[KittyID]AccountID),
		parents:  make(map[KittyID]Parents),
		listings: make(map[KittyID]struct{}),
	}
}

func snapshotFromMemoryState(state *memoryState) Snapshot {
	s := Snapshot{
		NextKittyID:    state.nextID,
		Kitties:        make(map[KittyID]Kitty, len(state.kitties)),
		Owners:         make(map[KittyID]AccountID, len(state.owners)),
		Parents:        make(map[KittyID]Parents, len(state.parents)),
		Listings:       make([]KittyID, 0, len(state.listings)),
		RandomSequence: state.randomSeq,
	}
	for id, genes := range state.kitties {
		s.Kitties[id] = Kitty{ID: id, Genes: genes}
	}
	for id, owner := range state.owners {
		s.Owners[id] = owner
	}
	for id, p := range state.parents {
		s.Parents[id] = p
	}
	for id := range state.listings {
		s.Listings = append(s.Listings, id)
	}
	sortIDs(s.Listings)
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.nextID = s.NextKittyID
	state.randomSeq = s.RandomSequence
	for id, k := range s.Kitties {
		state.kitties[id] = k.Genes
	}
	for id, owner := range s.Owners {
		state.owners[id] = owner
	}
	for id, p := range s.Parents {
		state.parents[id] = p
	}
	for _, id := range s.Listings {
		state.listings[id] = struct{}{}
	}
	return state
}

func sortIDs(ids []KittyID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Store provides an in-memory transactional store for the ledger. All
// transactions are serialized by a single write lock.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(&s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn against a staging overlay of the committed
// state. The overlay is applied only when fn returns nil and no rule blocks;
// otherwise every staged write, including the id counter, is discarded.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTransaction(&s.state)
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	tx.commit()
	return result, nil
}

// View executes fn against the committed state under a read lock. The view
// must not be retained after fn returns.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(stateView{state: &s.state})
}

// stateView reads committed state directly.
type stateView struct {
	state *memoryState
}

func (v stateView) NextKittyID() KittyID { return v.state.nextID }

func (v stateView) RandomSequence() uint64 { return v.state.randomSeq }

func (v stateView) FindKitty(id KittyID) (Kitty, bool) {
	genes, ok := v.state.kitties[id]
	if !ok {
		return Kitty{}, false
	}
	return Kitty{ID: id, Genes: genes}, true
}

func (v stateView) Exists(id KittyID) bool {
	_, ok := v.state.kitties[id]
	return ok
}

func (v stateView) Owner(id KittyID) (AccountID, bool) {
	owner, ok := v.state.owners[id]
	return owner, ok
}

func (v stateView) Parents(id KittyID) (Parents, bool) {
	p, ok := v.state.parents[id]
	return p, ok
}

func (v stateView) IsListed(id KittyID) bool {
	_, ok := v.state.listings[id]
	return ok
}

func (v stateView) ListKitties() []Kitty {
	out := make([]Kitty, 0, len(v.state.kitties))
	for id, genes := range v.state.kitties {
		out = append(out, Kitty{ID: id, Genes: genes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v stateView) ListListings() []KittyID {
	out := make([]KittyID, 0, len(v.state.listings))
	for id := range v.state.listings {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// transaction stages writes on top of the committed state. Reads consult the
// staged maps first and fall back to the base.
type transaction struct {
	base      *memoryState
	nextID    KittyID
	randomSeq uint64
	kitties   map[KittyID]domain.Genes
	owners    map[KittyID]AccountID
	parents   map[KittyID]Parents
	listings  map[KittyID]bool
	changes   []Change
}

func newTransaction(base *memoryState) *transaction {
	return &transaction{
		base:      base,
		nextID:    base.nextID,
		randomSeq: base.randomSeq,
		kitties:   make(map[KittyID]domain.Genes),
		owners:    make(map[KittyID]AccountID),
		parents:   make(map[KittyID]Parents),
		listings:  make(map[KittyID]bool),
	}
}

func (tx *transaction) commit() {
	tx.base.nextID = tx.nextID
	tx.base.randomSeq = tx.randomSeq
	for id, genes := range tx.kitties {
		tx.base.kitties[id] = genes
	}
	for id, owner := range tx.owners {
		tx.base.owners[id] = owner
	}
	for id, p := range tx.parents {
		tx.base.parents[id] = p
	}
	for id, listed := range tx.listings {
		if listed {
			tx.base.listings[id] = struct{}{}
		} else {
			delete(tx.base.listings, id)
		}
	}
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view of the transaction including staged writes.
func (tx *transaction) Snapshot() TransactionView { return tx }

func (tx *transaction) NextKittyID() KittyID { return tx.nextID }

func (tx *transaction) RandomSequence() uint64 { return tx.randomSeq }

func (tx *transaction) AdvanceRandomSequence(next uint64) {
	if next > tx.randomSeq {
		tx.randomSeq = next
	}
}

func (tx *transaction) AllocateKittyID() (KittyID, error) {
	current := tx.nextID
	if current == domain.MaxKittyID {
		return 0, domain.ErrIDSpaceExhausted
	}
	tx.nextID = current + 1
	return current, nil
}

func (tx *transaction) FindKitty(id KittyID) (Kitty, bool) {
	if genes, ok := tx.kitties[id]; ok {
		return Kitty{ID: id, Genes: genes}, true
	}
	return stateView{state: tx.base}.FindKitty(id)
}

func (tx *transaction) Exists(id KittyID) bool {
	_, ok := tx.FindKitty(id)
	return ok
}

func (tx *transaction) InsertKitty(k Kitty) error {
	if tx.Exists(k.ID) {
		return fmt.Errorf("insert kitty %s: %w", k.ID, domain.ErrDuplicateKittyID)
	}
	tx.kitties[k.ID] = k.Genes
	tx.recordChange(Change{Entity: domain.EntityKitty, Action: domain.ActionCreate, KittyID: k.ID, After: k})
	return nil
}

func (tx *transaction) Owner(id KittyID) (AccountID, bool) {
	if owner, ok := tx.owners[id]; ok {
		return owner, true
	}
	owner, ok := tx.base.owners[id]
	return owner, ok
}

func (tx *transaction) SetOwner(id KittyID, owner AccountID) {
	_, had := tx.Owner(id)
	tx.owners[id] = owner
	change := Change{Entity: domain.EntityOwnership, Action: domain.ActionCreate, KittyID: id, After: owner}
	if had {
		change.Action = domain.ActionUpdate
	}
	tx.recordChange(change)
}

func (tx *transaction) Parents(id KittyID) (Parents, bool) {
	if p, ok := tx.parents[id]; ok {
		return p, true
	}
	p, ok := tx.base.parents[id]
	return p, ok
}

func (tx *transaction) SetParents(id KittyID, p Parents) error {
	if _, ok := tx.Parents(id); ok {
		return fmt.Errorf("set parents of kitty %s: %w", id, domain.ErrParentsAlreadySet)
	}
	tx.parents[id] = p
	tx.recordChange(Change{Entity: domain.EntityParentage, Action: domain.ActionCreate, KittyID: id, After: p})
	return nil
}

func (tx *transaction) IsListed(id KittyID) bool {
	if listed, ok := tx.listings[id]; ok {
		return listed
	}
	_, ok := tx.base.listings[id]
	return ok
}

func (tx *transaction) ListForSale(id KittyID) {
	if tx.IsListed(id) {
		return
	}
	tx.listings[id] = true
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionCreate, KittyID: id})
}

func (tx *transaction) UnlistForSale(id KittyID) {
	if !tx.IsListed(id) {
		return
	}
	tx.listings[id] = false
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionDelete, KittyID: id})
}

func (tx *transaction) ListKitties() []Kitty {
	out := stateView{state: tx.base}.ListKitties()
	for id, genes := range tx.kitties {
		out = append(out, Kitty{ID: id, Genes: genes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *transaction) ListListings() []KittyID {
	out := make([]KittyID, 0, len(tx.base.listings)+len(tx.listings))
	for id := range tx.base.listings {
		if listed, staged := tx.listings[id]; staged && !listed {
			continue
		}
		out = append(out, id)
	}
	for id, listed := range tx.listings {
		if _, inBase := tx.base.listings[id]; listed && !inBase {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}
