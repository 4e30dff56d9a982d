package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"kittycore/pkg/domain"
)

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) {}

// EventLog retains published events in order. It is safe for concurrent use.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog constructs an empty log.
func NewEventLog() *EventLog { return &EventLog{} }

// Publish implements domain.EventSink.
func (l *EventLog) Publish(_ context.Context, event Event) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

// Events returns a copy of every event published so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Last returns the most recent event.
func (l *EventLog) Last() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// FanOut publishes each event to every wrapped sink in order.
type FanOut []domain.EventSink

// Publish implements domain.EventSink.
func (f FanOut) Publish(ctx context.Context, event Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Publish(ctx, event)
		}
	}
}

// EventJournal appends published events to a writer as JSON lines.
type EventJournal struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEventJournal constructs a journal writing to w.
func NewEventJournal(w io.Writer) *EventJournal {
	return &EventJournal{enc: json.NewEncoder(w)}
}

// Publish implements domain.EventSink. Write errors are dropped.
func (j *EventJournal) Publish(_ context.Context, event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(event)
}
