// Package httpapi exposes the kitty ledger over HTTP/JSON.
//
// Mutating routes take the caller identity from the X-Account header. The
// header is trusted as-is; authentication belongs to whatever fronts the
// server.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"

	"kittycore/internal/core"
	"kittycore/internal/escrow"
	"kittycore/pkg/domain"
)

// AccountHeader carries the caller identity on mutating requests.
const AccountHeader = "X-Account"

// Balances is the read side of the escrow ledger.
type Balances interface {
	Account(domain.AccountID) escrow.Account
}

// Server routes HTTP requests to a core.Service.
type Server struct {
	svc      *core.Service
	balances Balances
	feed     http.Handler
	metrics  http.Handler
	logger   core.Logger
	after    func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithFeed serves the event stream at GET /v1/events.
func WithFeed(h http.Handler) Option { return func(s *Server) { s.feed = h } }

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAfterTransition registers a hook run after every successful
// transition, e.g. to persist escrow balances. A hook failure is logged and
// does not change the response: the transition has already committed.
func WithAfterTransition(fn func(context.Context) error) Option {
	return func(s *Server) { s.after = fn }
}

// New builds a server for svc.
func New(svc *core.Service, balances Balances, opts ...Option) *Server {
	s := &Server{svc: svc, balances: balances, logger: discardLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /v1/kitties", s.handleCreate)
	mux.HandleFunc("GET /v1/kitties", s.handleList)
	mux.HandleFunc("GET /v1/kitties/{id}", s.handleShow)
	mux.HandleFunc("POST /v1/kitties/{id}/breed/{other}", s.handleBreed)
	mux.HandleFunc("POST /v1/kitties/{id}/transfer/{recipient}", s.handleTransfer)
	mux.HandleFunc("POST /v1/kitties/{id}/listing", s.handleListForSale)
	mux.HandleFunc("POST /v1/kitties/{id}/purchase", s.handleBuy)
	mux.HandleFunc("GET /v1/accounts/{account}", s.handleAccount)
	if s.feed != nil {
		mux.Handle("GET /v1/events", s.feed)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.Handle("GET /debug/vars", expvar.Handler())
	return mux
}

// AccountView is the response body of GET /v1/accounts/{account}.
type AccountView struct {
	Account  domain.AccountID `json:"account"`
	Free     domain.Balance   `json:"free"`
	Reserved domain.Balance   `json:"reserved"`
	Kitties  []domain.KittyID `json:"kitties"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	kitty, err := s.svc.Create(r.Context(), caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.committed(r.Context())
	s.respondDetails(w, r, kitty.ID, http.StatusCreated)
}

func (s *Server) handleBreed(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	a, ok := s.pathKitty(w, r, "id")
	if !ok {
		return
	}
	b, ok := s.pathKitty(w, r, "other")
	if !ok {
		return
	}
	kitty, err := s.svc.Breed(r.Context(), caller, a, b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.committed(r.Context())
	s.respondDetails(w, r, kitty.ID, http.StatusCreated)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.pathKitty(w, r, "id")
	if !ok {
		return
	}
	recipient := domain.AccountID(strings.TrimSpace(r.PathValue("recipient")))
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "recipient required")
		return
	}
	if err := s.svc.Transfer(r.Context(), caller, id, recipient); err != nil {
		s.fail(w, r, err)
		return
	}
	s.committed(r.Context())
	s.respondDetails(w, r, id, http.StatusOK)
}

func (s *Server) handleListForSale(w http.ResponseWriter, r *http.Request) {
	s.simpleTransition(w, r, s.svc.ListForSale)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.simpleTransition(w, r, s.svc.Buy)
}

func (s *Server) simpleTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.AccountID, domain.KittyID) error) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.pathKitty(w, r, "id")
	if !ok {
		return
	}
	if err := fn(r.Context(), caller, id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.committed(r.Context())
	s.respondDetails(w, r, id, http.StatusOK)
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathKitty(w, r, "id")
	if !ok {
		return
	}
	s.respondDetails(w, r, id, http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner := domain.AccountID(r.URL.Query().Get("owner"))
	kitties, err := s.svc.ListKitties(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if kitties == nil {
		kitties = []core.KittyDetails{}
	}
	writeJSON(w, http.StatusOK, kitties)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account := domain.AccountID(r.PathValue("account"))
	owned, err := s.svc.ListKitties(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := AccountView{Account: account, Kitties: make([]domain.KittyID, 0, len(owned))}
	if s.balances != nil {
		acct := s.balances.Account(account)
		view.Free, view.Reserved = acct.Free, acct.Reserved
	}
	for _, k := range owned {
		view.Kitties = append(view.Kitties, k.ID)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) respondDetails(w http.ResponseWriter, r *http.Request, id domain.KittyID, status int) {
	details, err := s.svc.Describe(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, details)
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (domain.AccountID, bool) {
	caller := domain.AccountID(strings.TrimSpace(r.Header.Get(AccountHeader)))
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing_account", AccountHeader+" header required")
		return "", false
	}
	return caller, true
}

func (s *Server) pathKitty(w http.ResponseWriter, r *http.Request, name string) (domain.KittyID, bool) {
	id, err := domain.ParseKittyID(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return 0, false
	}
	return id, true
}

func (s *Server) committed(ctx context.Context) {
	if s.after == nil {
		return
	}
	if err := s.after(ctx); err != nil {
		s.logger.Error("after-transition hook failed", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	var persist domain.PersistError
	if errors.As(err, &persist) {
		// The transition committed in memory; keep side stores in step.
		s.committed(r.Context())
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}

// classify maps service errors to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	var violation domain.RuleViolationError
	var persist domain.PersistError
	switch {
	case errors.Is(err, domain.ErrInvalidKittyID):
		return http.StatusNotFound, "invalid_kitty_id"
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden, "not_owner"
	case errors.Is(err, domain.ErrAlreadyOwned):
		return http.StatusConflict, "already_owned"
	case errors.Is(err, domain.ErrAlreadyListed):
		return http.StatusConflict, "already_listed"
	case errors.Is(err, domain.ErrNotListed):
		return http.StatusConflict, "not_listed"
	case errors.Is(err, domain.ErrIdenticalParents):
		return http.StatusConflict, "identical_parents"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, domain.ErrIDSpaceExhausted):
		return http.StatusUnprocessableEntity, "id_space_exhausted"
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity, "rule_violation"
	case errors.As(err, &persist):
		return http.StatusInternalServerError, "persist_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: code, Message: message})
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
