// Package eventlog is the append-only record of every raw protocol event a
// session sends or receives.
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionClient Direction = "client"
	DirectionServer Direction = "server"
)

type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	Seq       int64           `json:"seq"`
	Direction Direction       `json:"direction"`
	Name      string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Expanded  bool            `json:"expanded,omitempty"`
}

// Sink receives a copy of every recorded event.
type Sink interface {
	WriteEvent(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) WriteEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

type Options struct {
	SessionID string
	Sinks     []Sink
	Logger    *slog.Logger
	Now       func() time.Time
}

// Log never merges or rewrites events; the only mutable field is the
// display-only Expanded flag.
type Log struct {
	sessionID string
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	events []Event
	byID   map[string]int
	seq    int64
	sinks  []Sink
}

func New(opts Options) *Log {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Log{
		sessionID: opts.SessionID,
		logger:    logger,
		now:       now,
		byID:      make(map[string]int),
		sinks:     append([]Sink(nil), opts.Sinks...),
	}
}

// AddSink attaches a sink for events recorded from now on.
func (l *Log) AddSink(s Sink) {
	if s == nil {
		return
	}
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Record appends one event. payload may be json.RawMessage, []byte holding
// JSON, or any marshalable value. Sink failures are logged, never returned.
func (l *Log) Record(direction Direction, name string, payload any) Event {
	raw := encodePayload(payload)

	l.mu.Lock()
	l.seq++
	ev := Event{
		ID:        uuid.NewString(),
		SessionID: l.sessionID,
		Seq:       l.seq,
		Direction: direction,
		Name:      name,
		Payload:   raw,
		Timestamp: l.now().UTC(),
	}
	l.byID[ev.ID] = len(l.events)
	l.events = append(l.events, ev)
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.WriteEvent(context.Background(), ev); err != nil {
			l.logger.Warn("event log sink failed", "session_id", l.sessionID, "event", name, "error", err)
		}
	}
	return ev
}

func encodePayload(payload any) json.RawMessage {
	switch p := payload.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return append(json.RawMessage(nil), p...)
	case []byte:
		if json.Valid(p) {
			return append(json.RawMessage(nil), p...)
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return b
}

// Events returns a copy of the log in record order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// CountByName tallies recorded events per event name.
func (l *Log) CountByName() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for _, ev := range l.events {
		out[ev.Name]++
	}
	return out
}

func (l *Log) ToggleExpanded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byID[id]
	if !ok {
		return false
	}
	l.events[i].Expanded = !l.events[i].Expanded
	return true
}
