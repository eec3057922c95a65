// Package transcript holds the reconciled, display-ordered view of a
// conversation built from streamed realtime events.
package transcript

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
)

type Kind string

const (
	KindMessage    Kind = "MESSAGE"
	KindBreadcrumb Kind = "BREADCRUMB"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// InaudiblePlaceholder replaces an empty final transcript.
const InaudiblePlaceholder = "[inaudible]"

// CategoryNone is the guardrail category for a clean classification.
const CategoryNone = "NONE"

// GuardrailResult is the classification annotation on an assistant message.
type GuardrailResult struct {
	Status    Status `json:"status"`
	Category  string `json:"category,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	TestText  string `json:"test_text,omitempty"`
	Tripped   bool   `json:"tripped,omitempty"`
}

type Entry struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Role        string            `json:"role,omitempty"`
	MessageKind types.MessageKind `json:"message_kind,omitempty"`
	Title       string            `json:"title,omitempty"`
	Text        string            `json:"text,omitempty"`
	Data        any               `json:"data,omitempty"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	Hidden      bool              `json:"hidden,omitempty"`
	Guardrail   *GuardrailResult  `json:"guardrail,omitempty"`
	Expanded    bool              `json:"expanded,omitempty"`

	seq uint64
	rev uint64
}

// Suppressed reports whether a tripped guardrail hides the message body.
func (e Entry) Suppressed() bool {
	return e.Guardrail != nil && e.Guardrail.Tripped
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Store is safe for concurrent use. Listeners run after the mutation, outside
// the store lock, with a copy of the changed entry. Per entry, a listener never
// sees a snapshot older than one it has already been given.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	seq       uint64
	listeners []func(Entry)

	notifyMu  sync.Mutex
	delivered map[string]uint64

	logger *slog.Logger
	now    func() time.Time
}

func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries:   make(map[string]*Entry),
		delivered: make(map[string]uint64),
		logger:    logger,
		now:       now,
	}
}

// Subscribe registers fn for every entry change.
func (s *Store) Subscribe(fn func(Entry)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// InsertMessage adds a message entry. It reports false, and changes nothing,
// when id already exists.
func (s *Store) InsertMessage(id, role, text string, hidden bool) bool {
	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return false
	}
	e := &Entry{
		ID:          id,
		Kind:        KindMessage,
		Role:        role,
		MessageKind: types.KindForRole(role),
		Text:        text,
		Status:      StatusInProgress,
		Hidden:      hidden,
	}
	s.stampLocked(e)
	s.entries[id] = e
	snapshot, listeners := *e, s.listeners
	s.mu.Unlock()

	s.notify(listeners, snapshot)
	return true
}

// AppendDelta concatenates fragment onto the text of id.
func (s *Store) AppendDelta(id, fragment string) error {
	return s.mutate(id, "delta", func(e *Entry) {
		e.Text += fragment
	})
}

// ReplaceText overwrites the text of id.
func (s *Store) ReplaceText(id, text string) error {
	return s.mutate(id, "replace", func(e *Entry) {
		e.Text = text
	})
}

// Finalize marks id DONE without touching its text.
func (s *Store) Finalize(id string) error {
	return s.mutate(id, "finalize", finalizeEntry)
}

// FinalizeWithText marks id DONE and replaces its text with the authoritative
// final value.
func (s *Store) FinalizeWithText(id, finalText string) error {
	if finalText == "" || finalText == "\n" {
		finalText = InaudiblePlaceholder
	}
	return s.mutate(id, "finalize", func(e *Entry) {
		e.Text = finalText
		finalizeEntry(e)
	})
}

func finalizeEntry(e *Entry) {
	e.Status = StatusDone
	if e.Guardrail != nil && e.Guardrail.Status == StatusInProgress {
		e.Guardrail = &GuardrailResult{
			Status:   StatusDone,
			Category: CategoryNone,
			TestText: e.Guardrail.TestText,
		}
	}
}

// MarkGuardrailPending records that id has been submitted for classification.
func (s *Store) MarkGuardrailPending(id, testText string) error {
	return s.mutate(id, "guardrail_pending", func(e *Entry) {
		if e.Guardrail != nil && e.Guardrail.Status == StatusDone {
			return
		}
		e.Guardrail = &GuardrailResult{Status: StatusInProgress, TestText: testText}
	})
}

// AnnotateGuardrail attaches result to id. Unknown ids are logged and ignored.
func (s *Store) AnnotateGuardrail(id string, result GuardrailResult) bool {
	err := s.mutate(id, "guardrail_annotate", func(e *Entry) {
		r := result
		if r.Status == "" {
			r.Status = StatusDone
		}
		e.Guardrail = &r
	})
	return err == nil
}

// InsertBreadcrumb always appends a new DONE entry.
func (s *Store) InsertBreadcrumb(title string, data any) Entry {
	s.mu.Lock()
	e := &Entry{
		ID:     uuid.NewString(),
		Kind:   KindBreadcrumb,
		Title:  title,
		Data:   data,
		Status: StatusDone,
	}
	s.stampLocked(e)
	s.entries[e.ID] = e
	snapshot, listeners := *e, s.listeners
	s.mu.Unlock()

	s.notify(listeners, snapshot)
	return snapshot
}

// ToggleExpanded flips the display-only expanded flag.
func (s *Store) ToggleExpanded(id string) error {
	return s.mutate(id, "toggle", func(e *Entry) {
		e.Expanded = !e.Expanded
	})
}

func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns all entries ordered by creation time.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// LastAssistantMessage returns the most recently created assistant message.
func (s *Store) LastAssistantMessage() (Entry, bool) {
	entries := s.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind == KindMessage && e.Role == types.RoleAssistant {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) mutate(id, op string, fn func(*Entry)) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		err := core.NewOrderingError(op+" for unknown transcript item", id)
		s.logger.Warn("transcript ordering error", "op", op, "item_id", id, "error", err)
		return err
	}
	fn(e)
	e.rev++
	snapshot, listeners := *e, s.listeners
	s.mu.Unlock()

	s.notify(listeners, snapshot)
	return nil
}

// stampLocked assigns the creation time. seq breaks ties between entries
// stamped within the same clock tick.
func (s *Store) stampLocked(e *Entry) {
	s.seq++
	e.CreatedAt = s.now()
	e.seq = s.seq
	e.rev = 1
}

// notify delivers e unless a newer revision of the same entry has already gone
// out. Deliveries are serialized so listeners observe revisions in order.
func (s *Store) notify(listeners []func(Entry), e Entry) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if e.rev <= s.delivered[e.ID] {
		return
	}
	s.delivered[e.ID] = e.rev
	for _, fn := range listeners {
		fn(e)
	}
}
