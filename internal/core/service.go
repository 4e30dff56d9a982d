package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"kittycore/pkg/domain"
)

// DefaultStake is the amount reserved per kitty when no stake is configured.
const DefaultStake Balance = 10

// Operation names used for logging, metrics, tracing and audit entries.
const (
	OpCreate      = "create"
	OpBreed       = "breed"
	OpTransfer    = "transfer"
	OpListForSale = "list_for_sale"
	OpBuy         = "buy"
)

// Service applies kitty transitions against a persistent store. Every
// transition runs inside one store transaction; escrow movements made by a
// transition that later fails are compensated before the error is returned.
type Service struct {
	store   domain.PersistentStore
	escrow  domain.Escrow
	random  domain.Randomness
	events  domain.EventSink
	stake   Balance
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder

	// publishMu is taken inside the store transaction and released once the
	// event is published, so sinks observe events in commit order.
	publishMu sync.Mutex
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLogger sets the service logger. A nil logger is ignored.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit recorder.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithEventSink sets where transition events are published.
func WithEventSink(sink domain.EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithStake sets the amount reserved per kitty. Zero keeps DefaultStake.
func WithStake(stake Balance) Option {
	return func(s *Service) {
		if stake > 0 {
			s.stake = stake
		}
	}
}

// NewService constructs a service over the given store, escrow and
// randomness source.
func NewService(store domain.PersistentStore, escrow domain.Escrow, random domain.Randomness, opts ...Option) *Service {
	s := &Service{
		store:   store,
		escrow:  escrow,
		random:  random,
		events:  discardSink{},
		stake:   DefaultStake,
		logger:  noopLogger{},
		clock:   systemClock{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Stake returns the configured per-kitty stake.
func (s *Service) Stake() Balance { return s.stake }

type transitionFunc func(ctx context.Context, tx domain.Transaction, escrow *escrowJournal) (*Event, error)

// run executes fn as a single ledger transition and handles the cross-cutting
// work: span, escrow compensation, event publication, metrics, audit and log.
func (s *Service) run(ctx context.Context, op string, caller AccountID, fn transitionFunc) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)

	journal := newEscrowJournal(s.escrow)
	var (
		event      *Event
		publishing bool
	)
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if !publishing {
			s.publishMu.Lock()
			publishing = true
		}
		var fnErr error
		event, fnErr = fn(ctx, tx, journal)
		return fnErr
	})

	var persistErr PersistError
	committed := err == nil || errors.As(err, &persistErr)
	if !committed {
		for _, rErr := range journal.revert(ctx) {
			s.logger.Error("escrow compensation failed", "operation", op, "caller", caller, "error", rErr)
		}
		event = nil
	}
	if committed && event != nil {
		s.events.Publish(ctx, *event)
	}
	if publishing {
		s.publishMu.Unlock()
	}

	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		ID:        newAuditID(),
		Operation: op,
		Caller:    caller,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: start,
	}
	if event != nil {
		entry.EntityID = event.KittyID.String()
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)

	switch {
	case err == nil:
		s.logger.Info("transition applied", "operation", op, "caller", caller, "kitty", entry.EntityID, "duration", duration)
	case IsCallerError(err):
		s.logger.Warn("transition rejected", "operation", op, "caller", caller, "error", err)
	default:
		s.logger.Error("transition failed", "operation", op, "caller", caller, "error", err)
	}
	return err
}

// draw derives 16 random bytes for caller and, for a sequenced source,
// stages its new position in tx. A restarted source resumes from the last
// committed position and never repeats a committed draw.
func (s *Service) draw(tx domain.Transaction, caller AccountID) Genes {
	genes := s.random.Derive(domain.SeedMaterial{Account: caller})
	if seq, ok := s.random.(domain.SequencedRandomness); ok {
		tx.AdvanceRandomSequence(seq.Sequence())
	}
	return genes
}

func newAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsCallerError reports whether err is a precondition failure attributable to
// the caller rather than to infrastructure.
func IsCallerError(err error) bool {
	for _, target := range []error{
		domain.ErrIDSpaceExhausted,
		domain.ErrInvalidKittyID,
		domain.ErrIdenticalParents,
		domain.ErrNotOwner,
		domain.ErrAlreadyOwned,
		domain.ErrAlreadyListed,
		domain.ErrNotListed,
		domain.ErrInsufficientBalance,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var violation RuleViolationError
	return errors.As(err, &violation)
}

func invalidKitty(id KittyID) error {
	return fmt.Errorf("kitty %s: %w", id, domain.ErrInvalidKittyID)
}

// requireOwner checks the kitty exists and is owned by caller.
func requireOwner(tx domain.TransactionView, id KittyID, caller AccountID) error {
	if !tx.Exists(id) {
		return invalidKitty(id)
	}
	owner, ok := tx.Owner(id)
	if !ok || owner != caller {
		return fmt.Errorf("kitty %s: %w", id, domain.ErrNotOwner)
	}
	return nil
}

// Create mints a kitty with random genes for caller, reserving the stake.
func (s *Service) Create(ctx context.Context, caller AccountID) (Kitty, error) {
	var created Kitty
	err := s.run(ctx, OpCreate, caller, func(ctx context.Context, tx domain.Transaction, escrow *escrowJournal) (*Event, error) {
		id, err := tx.AllocateKittyID()
		if err != nil {
			return nil, err
		}
		genes := s.draw(tx, caller)
		if err := escrow.Reserve(ctx, caller, s.stake); err != nil {
			return nil, err
		}
		kitty := Kitty{ID: id, Genes: genes}
		if err := tx.InsertKitty(kitty); err != nil {
			return nil, err
		}
		tx.SetOwner(id, caller)
		created = kitty
		return &Event{Kind: EventKittyCreated, Who: caller, KittyID: id, Genes: &genes}, nil
	})
	if err != nil && !isPersistError(err) {
		return Kitty{}, err
	}
	return created, err
}

// Breed mints a child of kitties a and b for caller. Parent genes are mixed
// bit by bit under a random selector. The caller need not own either parent.
func (s *Service) Breed(ctx context.Context, caller AccountID, a, b KittyID) (Kitty, error) {
	var child Kitty
	err := s.run(ctx, OpBreed, caller, func(ctx context.Context, tx domain.Transaction, escrow *escrowJournal) (*Event, error) {
		if a == b {
			return nil, fmt.Errorf("breed %s with itself: %w", a, domain.ErrIdenticalParents)
		}
		parentA, ok := tx.FindKitty(a)
		if !ok {
			return nil, invalidKitty(a)
		}
		parentB, ok := tx.FindKitty(b)
		if !ok {
			return nil, invalidKitty(b)
		}
		selector := s.draw(tx, caller)
		genes := domain.Crossover(parentA.Genes, parentB.Genes, selector)

		id, err := tx.AllocateKittyID()
		if err != nil {
			return nil, err
		}
		if err := escrow.Reserve(ctx, caller, s.stake); err != nil {
			return nil, err
		}
		kitty := Kitty{ID: id, Genes: genes}
		if err := tx.InsertKitty(kitty); err != nil {
			return nil, err
		}
		tx.SetOwner(id, caller)
		if err := tx.SetParents(id, Parents{A: a, B: b}); err != nil {
			return nil, err
		}
		child = kitty
		return &Event{Kind: EventKittyBred, Who: caller, KittyID: id, Genes: &genes}, nil
	})
	if err != nil && !isPersistError(err) {
		return Kitty{}, err
	}
	return child, err
}

// Transfer hands kitty id from caller to recipient. Stakes do not move.
func (s *Service) Transfer(ctx context.Context, caller AccountID, id KittyID, recipient AccountID) error {
	return s.run(ctx, OpTransfer, caller, func(_ context.Context, tx domain.Transaction, _ *escrowJournal) (*Event, error) {
		if err := requireOwner(tx, id, caller); err != nil {
			return nil, err
		}
		tx.SetOwner(id, recipient)
		return &Event{Kind: EventKittyTransferred, Who: caller, KittyID: id, Recipient: recipient}, nil
	})
}

// ListForSale offers caller's kitty at the fixed stake price.
func (s *Service) ListForSale(ctx context.Context, caller AccountID, id KittyID) error {
	return s.run(ctx, OpListForSale, caller, func(_ context.Context, tx domain.Transaction, _ *escrowJournal) (*Event, error) {
		if err := requireOwner(tx, id, caller); err != nil {
			return nil, err
		}
		if tx.IsListed(id) {
			return nil, fmt.Errorf("kitty %s: %w", id, domain.ErrAlreadyListed)
		}
		tx.ListForSale(id)
		return &Event{Kind: EventKittyListed, Who: caller, KittyID: id}, nil
	})
}

// Buy moves a listed kitty to caller. The stake is reserved from the buyer
// and released from the previous owner, and the listing is cleared.
func (s *Service) Buy(ctx context.Context, caller AccountID, id KittyID) error {
	return s.run(ctx, OpBuy, caller, func(ctx context.Context, tx domain.Transaction, escrow *escrowJournal) (*Event, error) {
		if !tx.Exists(id) {
			return nil, invalidKitty(id)
		}
		seller, ok := tx.Owner(id)
		if !ok {
			return nil, fmt.Errorf("kitty %s has no owner: %w", id, domain.ErrNotOwner)
		}
		if seller == caller {
			return nil, fmt.Errorf("kitty %s: %w", id, domain.ErrAlreadyOwned)
		}
		if !tx.IsListed(id) {
			return nil, fmt.Errorf("kitty %s: %w", id, domain.ErrNotListed)
		}
		if err := escrow.Reserve(ctx, caller, s.stake); err != nil {
			return nil, err
		}
		escrow.Unreserve(ctx, seller, s.stake)
		tx.SetOwner(id, caller)
		tx.UnlistForSale(id)
		return &Event{Kind: EventKittySold, Who: caller, KittyID: id, Seller: seller}, nil
	})
}

func isPersistError(err error) bool {
	var persistErr PersistError
	return errors.As(err, &persistErr)
}

// NextKittyID returns the id the next successful create or breed will receive.
func (s *Service) NextKittyID(ctx context.Context) (KittyID, error) {
	var next KittyID
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		next = v.NextKittyID()
		return nil
	})
	return next, err
}

// Kitty returns the stored kitty.
func (s *Service) Kitty(ctx context.Context, id KittyID) (Kitty, error) {
	var kitty Kitty
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		k, ok := v.FindKitty(id)
		if !ok {
			return invalidKitty(id)
		}
		kitty = k
		return nil
	})
	return kitty, err
}

// Owner returns the kitty's owner, if one is recorded.
func (s *Service) Owner(ctx context.Context, id KittyID) (AccountID, bool, error) {
	var (
		owner AccountID
		ok    bool
	)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		owner, ok = v.Owner(id)
		return nil
	})
	return owner, ok, err
}

// Parents returns the recorded parentage of a bred kitty.
func (s *Service) Parents(ctx context.Context, id KittyID) (Parents, bool, error) {
	var (
		parents Parents
		ok      bool
	)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		parents, ok = v.Parents(id)
		return nil
	})
	return parents, ok, err
}

// IsListed reports whether the kitty is listed for sale.
func (s *Service) IsListed(ctx context.Context, id KittyID) (bool, error) {
	var listed bool
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		listed = v.IsListed(id)
		return nil
	})
	return listed, err
}

// KittyDetails is the combined read model of one kitty.
type KittyDetails struct {
	Kitty
	Owner   AccountID `json:"owner,omitempty"`
	Parents *Parents  `json:"parents,omitempty"`
	Listed  bool      `json:"listed"`
}

// Describe returns the kitty together with its owner, parentage and listing.
func (s *Service) Describe(ctx context.Context, id KittyID) (KittyDetails, error) {
	var details KittyDetails
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		k, ok := v.FindKitty(id)
		if !ok {
			return invalidKitty(id)
		}
		details = describe(v, k)
		return nil
	})
	return details, err
}

// ListKitties returns every kitty ordered by id, optionally restricted to
// one owner.
func (s *Service) ListKitties(ctx context.Context, owner AccountID) ([]KittyDetails, error) {
	var out []KittyDetails
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, k := range v.ListKitties() {
			d := describe(v, k)
			if owner != "" && d.Owner != owner {
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

func describe(v domain.TransactionView, k Kitty) KittyDetails {
	d := KittyDetails{Kitty: k, Listed: v.IsListed(k.ID)}
	if owner, ok := v.Owner(k.ID); ok {
		d.Owner = owner
	}
	if p, ok := v.Parents(k.ID); ok {
		d.Parents = &p
	}
	return d
}
