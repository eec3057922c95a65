package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-agents/pkg/agents"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/session"
	"github.com/vango-go/vai-agents/pkg/tools"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	stall  atomic.Bool

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.stall.Load() {
		<-c.closed
		return io.ErrClosedPipe
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(frame string) { c.in <- []byte(frame) }

// frames returns the decoded frames of the given type written so far.
func (c *fakeConn) frames(typ string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, w := range c.writes {
		var m map[string]any
		if json.Unmarshal(w, &m) == nil && m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	events chan types.Inbound
	closed bool
}

func (f *fakeTransport) Send(_ context.Context, cmd types.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd.CommandName())
	return nil
}

func (f *fakeTransport) Events() <-chan types.Inbound { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) names() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.sent, ",")
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type result struct {
	reason string
	err    error
}

type harness struct {
	conn      *fakeConn
	transport *fakeTransport
	bridge    *Bridge
	done      chan result
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	lib, err := tools.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	g, err := agents.NewGraph([]agents.Agent{
		{Name: "greeter", Instructions: "greet", Handoffs: []string{"haiku"}},
		{Name: "haiku", Instructions: "write haiku"},
	}, lib)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	h := &harness{
		conn:      newFakeConn(),
		transport: &fakeTransport{events: make(chan types.Inbound, 16)},
		done:      make(chan result, 1),
	}
	h.bridge = New(h.conn, cfg, quietLogger())
	sess, err := session.New(session.Config{SessionID: "sess_test"}, session.Dependencies{
		Transport: TapAudio(h.transport, h.bridge.SendAudio),
		Graph:     g,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	go func() {
		reason, err := h.bridge.Run(sess, session.StartOptions{})
		h.done <- result{reason: reason, err: err}
	}()
	t.Cleanup(func() {
		h.bridge.Close()
		_ = h.conn.Close()
	})
	return h
}

func (h *harness) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-h.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop")
		return result{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRun_UserTextReachesUpstreamAndStreamsState(t *testing.T) {
	h := startHarness(t, Config{})
	waitFor(t, "session.update", func() bool { return h.transport.names() == "session.update" })

	h.conn.send(`{"type":"user_text","text":"hello"}`)
	waitFor(t, "user text commands", func() bool {
		return h.transport.names() == "session.update,response.cancel,conversation.item.create,response.create"
	})
	waitFor(t, "event frames", func() bool { return len(h.conn.frames("event")) >= 4 })
	if len(h.conn.frames("transcript")) == 0 {
		t.Fatalf("expected the agent breadcrumb as a transcript frame")
	}

	h.conn.send(`{"type":"end_session"}`)
	r := h.wait(t)
	if r.reason != EndClient || r.err != nil {
		t.Fatalf("result=%+v", r)
	}
	if !h.transport.isClosed() {
		t.Fatalf("upstream transport left open")
	}
	if len(h.conn.frames("warning")) != 1 {
		t.Fatalf("expected session_end warning")
	}
}

func TestRun_ForwardsAssistantAudioWithoutLoggingIt(t *testing.T) {
	h := startHarness(t, Config{})
	waitFor(t, "session.update", func() bool { return h.transport.names() == "session.update" })

	h.transport.events <- types.Inbound{
		Name:    "response.output_audio.delta",
		Payload: json.RawMessage(`{"type":"response.output_audio.delta","item_id":"item_a","delta":"AAAABBBB"}`),
	}
	waitFor(t, "audio frame", func() bool { return len(h.conn.frames("audio")) == 1 })
	audio := h.conn.frames("audio")[0]
	if audio["item_id"] != "item_a" || audio["audio_b64"] != "AAAABBBB" {
		t.Fatalf("audio frame=%v", audio)
	}
	waitFor(t, "event frame", func() bool {
		for _, f := range h.conn.frames("event") {
			ev, _ := f["event"].(map[string]any)
			if ev["event_name"] == "response.output_audio.delta" {
				payload, _ := json.Marshal(ev["payload"])
				if strings.Contains(string(payload), "AAAABBBB") {
					t.Fatalf("audio leaked into event log: %s", payload)
				}
				return true
			}
		}
		return false
	})
}

func TestRun_UpstreamCloseEndsSession(t *testing.T) {
	h := startHarness(t, Config{})
	waitFor(t, "session.update", func() bool { return h.transport.names() == "session.update" })

	close(h.transport.events)
	r := h.wait(t)
	if r.reason != EndUpstream {
		t.Fatalf("reason=%q", r.reason)
	}
	errs := h.conn.frames("error")
	if len(errs) != 1 || errs[0]["code"] != "upstream_closed" || errs[0]["close"] != true {
		t.Fatalf("error frames=%v", errs)
	}
}

func TestRun_BadFramesAreReportedNotFatal(t *testing.T) {
	h := startHarness(t, Config{})
	h.conn.send(`{"type":"dance"}`)
	h.conn.send(`{"type":"ptt_start"}`)
	waitFor(t, "two error frames", func() bool { return len(h.conn.frames("error")) == 2 })
	for _, e := range h.conn.frames("error") {
		if e["code"] != "bad_request" || e["close"] == true {
			t.Fatalf("error frame=%v", e)
		}
	}

	h.conn.send(`{"type":"push_to_talk","enabled":true}`)
	h.conn.send(`{"type":"ptt_start"}`)
	waitFor(t, "manual turn", func() bool {
		return strings.HasSuffix(h.transport.names(), "session.update,response.cancel,input_audio_buffer.clear")
	})
}

func TestRun_InboundAudioRateLimit(t *testing.T) {
	h := startHarness(t, Config{MaxAudioFPS: 1, InboundBurstSeconds: 1})
	h.conn.send(`{"type":"audio","audio_b64":"AAAA"}`)
	h.conn.send(`{"type":"audio","audio_b64":"AAAA"}`)
	r := h.wait(t)
	if r.reason != EndError {
		t.Fatalf("reason=%q", r.reason)
	}
	errs := h.conn.frames("error")
	if len(errs) != 1 || errs[0]["code"] != "rate_limited" {
		t.Fatalf("error frames=%v", errs)
	}
}

func TestRun_StalledClientEndsWithoutFurtherInbound(t *testing.T) {
	h := startHarness(t, Config{OutboundQueueSize: 4})
	waitFor(t, "session.update", func() bool { return h.transport.names() == "session.update" })
	waitFor(t, "startup frames", func() bool { return len(h.conn.frames("transcript")) > 0 })

	h.conn.stall.Store(true)
	for i := 0; i < 12; i++ {
		h.transport.events <- types.Inbound{
			Name:    "session.updated",
			Payload: json.RawMessage(`{"type":"session.updated"}`),
		}
	}
	r := h.wait(t)
	if r.reason != EndError || !errors.Is(r.err, errBackpressure) {
		t.Fatalf("result=%+v", r)
	}
}

func TestRun_MaxDuration(t *testing.T) {
	h := startHarness(t, Config{MaxSessionDuration: 50 * time.Millisecond})
	r := h.wait(t)
	if r.reason != EndTimeout {
		t.Fatalf("reason=%q", r.reason)
	}
}

func TestClose_EndsRunForShutdown(t *testing.T) {
	h := startHarness(t, Config{})
	waitFor(t, "session.update", func() bool { return h.transport.names() == "session.update" })
	if err := h.bridge.SendWarning("draining", "gateway is shutting down"); err != nil {
		t.Fatalf("SendWarning: %v", err)
	}
	h.bridge.Close()
	r := h.wait(t)
	if r.reason != EndShutdown {
		t.Fatalf("reason=%q", r.reason)
	}
	if len(h.conn.frames("warning")) != 1 {
		t.Fatalf("draining warning not flushed")
	}
}
