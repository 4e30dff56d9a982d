// Package feed streams ledger events to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"kittycore/internal/core"
	"kittycore/pkg/domain"
)

const (
	defaultQueue = 32
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Message is the envelope written to subscribers, one JSON text frame per
// event.
type Message struct {
	Seq   uint64       `json:"seq"`
	At    time.Time    `json:"at"`
	Event domain.Event `json:"event"`
}

// Involves reports whether account took part in the event.
func (m Message) Involves(account domain.AccountID) bool {
	e := m.Event
	return e.Who == account || e.Recipient == account || e.Seller == account
}

type subscriber struct {
	out     chan Message
	account domain.AccountID // empty: every event
}

// Hub fans published events out to subscribers. Publish never blocks: a
// subscriber whose queue is full misses the event and the drop is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	seq     uint64
	dropped atomic.Uint64

	queue    int
	now      func() time.Time
	logger   core.Logger
	upgrader websocket.Upgrader
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-subscriber buffer.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l core.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithCheckOrigin replaces the upgrader's origin check; the default accepts
// any origin.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// NewHub returns a hub with no subscribers.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[*subscriber]struct{}),
		queue:  defaultQueue,
		now:    func() time.Time { return time.Now().UTC() },
		logger: nopLogger{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish implements domain.EventSink.
func (h *Hub) Publish(_ context.Context, event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg := Message{Seq: h.seq, At: h.now(), Event: event}
	for sub := range h.subs {
		if sub.account != "" && !msg.Involves(sub.account) {
			continue
		}
		select {
		case sub.out <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers an in-process subscriber. An empty account receives
// every event. The returned cancel func unregisters it and closes the
// channel; it is safe to call more than once.
func (h *Hub) Subscribe(account domain.AccountID) (<-chan Message, func()) {
	sub := &subscriber{out: make(chan Message, h.queue), account: account}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.out)
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects. The optional "account" query parameter narrows the
// stream to events involving that account.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("feed upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	account := domain.AccountID(r.URL.Query().Get("account"))
	events, cancel := h.Subscribe(account)
	defer cancel()
	h.logger.Debug("feed subscriber connected", "remote", r.RemoteAddr, "account", account)

	// Reader: consumes control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(conn, msg); err != nil {
				h.logger.Warn("feed write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
