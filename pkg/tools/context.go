package tools

import (
	"sync"

	"github.com/vango-go/vai-agents/pkg/core/types"
)

// Context is what a tool sees of the session: recent history, session-scoped
// state, and a callback for orchestration breadcrumbs. Tools never touch the
// transcript directly.
type Context struct {
	SessionID string
	Agent     string
	History   []types.HistoryItem
	State     *State

	AddBreadcrumb func(title string, data any)
}

func (c *Context) Breadcrumb(title string, data any) {
	if c == nil || c.AddBreadcrumb == nil {
		return
	}
	c.AddBreadcrumb(title, data)
}

// HistorySnapshot returns a copy of the history the tool was invoked with.
func (c *Context) HistorySnapshot() []types.HistoryItem {
	if c == nil {
		return nil
	}
	return append([]types.HistoryItem(nil), c.History...)
}

// State is a session-scoped key/value store shared by a session's tools.
type State struct {
	mu sync.Mutex
	m  map[string]any
}

func NewState() *State {
	return &State{m: make(map[string]any)}
}

func (s *State) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *State) Set(key string, v any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// Update applies fn to the current value of key atomically and stores the
// result.
func (s *State) Update(key string, fn func(current any) any) any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(s.m[key])
	s.m[key] = next
	return next
}
