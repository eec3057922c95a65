// Package sessions tracks live voice sessions so shutdown can warn, wait for
// and finally close them.
package sessions

import (
	"context"
	"sort"
	"sync"
)

type Handle struct {
	Scenario string
	Close    func()
	Warn     func(code, message string) error
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*entry)}
}

// Register adds a session. Re-registering an id replaces and releases the old
// entry. The returned func is idempotent.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{handle: h}

	t.mu.Lock()
	old := t.sessions[sessionID]
	t.sessions[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(sessionID, old)
	}
	return func() { t.release(sessionID, e) }
}

func (t *Tracker) release(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == e {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// ByScenario counts active sessions per scenario name.
func (t *Tracker) ByScenario() map[string]int {
	out := map[string]int{}
	if t == nil {
		return out
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sessions {
		out[e.handle.Scenario]++
	}
	return out
}

// IDs returns the active session ids, sorted.
func (t *Tracker) IDs() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, e := range t.sessions {
		out = append(out, e.handle)
	}
	return out
}

// WarnAll sends a warning frame to every session; write failures are ignored.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CloseAll() (closed int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Close == nil {
			continue
		}
		h.Close()
		closed++
	}
	return closed
}

// Wait blocks until every registered session has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
