package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/vango-go/vai-agents/pkg/agents"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/guardrail"
	"github.com/vango-go/vai-agents/pkg/realtime"
	"github.com/vango-go/vai-agents/pkg/tools"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []types.Command
	events chan types.Inbound
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan types.Inbound, 16)}
}

func (f *fakeTransport) Send(_ context.Context, cmd types.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) Events() <-chan types.Inbound { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Sent() []types.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Command(nil), f.sent...)
}

func (f *fakeTransport) names() []string {
	var out []string
	for _, c := range f.Sent() {
		out = append(out, c.CommandName())
	}
	return out
}

// outputs returns the function_call_output payloads sent so far.
func (f *fakeTransport) outputs() []string {
	var out []string
	for _, c := range f.Sent() {
		if create, ok := c.(types.CreateConversationItem); ok && create.Item.Type == types.ItemTypeFunctionCallOutput {
			out = append(out, create.Item.Output)
		}
	}
	return out
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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	session   *Session
	transport *fakeTransport
	calls     *atomic.Int32
}

func testGraph(t *testing.T, calls *atomic.Int32) *agents.Graph {
	t.Helper()
	lib, err := tools.NewRegistry(
		tools.Definition{
			Name:       "addToCart",
			Parameters: tools.Object(map[string]*jsonschema.Schema{"item": tools.String("item")}, "item"),
			Handler: func(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
				calls.Add(1)
				tc.Breadcrumb("cart updated", input)
				n := tc.State.Update("count", func(cur any) any {
					c, _ := cur.(int)
					return c + 1
				})
				return map[string]any{"count": n}, nil
			},
		},
		tools.Definition{
			Name: "slow",
			Handler: func(ctx context.Context, _ map[string]any, _ *tools.Context) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	g, err := agents.NewGraph([]agents.Agent{
		{Name: "greeter", Instructions: "greet", Voice: "sage", Handoffs: []string{"sales"}},
		{Name: "sales", Instructions: "sell", Tools: []string{"addToCart", "slow"}, Handoffs: []string{"greeter", "support"}},
		{Name: "support", Instructions: "support"},
	}, lib)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func newFixture(t *testing.T, cfg Config, pipeline *guardrail.Pipeline) *fixture {
	t.Helper()
	var calls atomic.Int32
	var ids atomic.Int32
	tr := newFakeTransport()
	s, err := New(cfg, Dependencies{
		Transport: tr,
		Graph:     testGraph(t, &calls),
		Guardrail: pipeline,
		Logger:    quietLogger(),
		NewID:     func() string { return fmt.Sprintf("client_%d", ids.Add(1)) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		s.Wait()
	})
	return &fixture{session: s, transport: tr, calls: &calls}
}

func decode(t *testing.T, frame string) types.Inbound {
	t.Helper()
	in, err := realtime.DecodeServerEvent([]byte(frame))
	if err != nil {
		t.Fatalf("decode %s: %v", frame, err)
	}
	return in
}

func itemAdded(id, role, text string) string {
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return fmt.Sprintf(`{"type":"conversation.item.created","item":{"id":%q,"type":"message","role":%q,"content":[{"type":%q,"text":%q}]}}`, id, role, partType, text)
}

func functionCall(callID, name, args string) string {
	return fmt.Sprintf(`{"type":"response.output_item.done","item":{"id":"fc_%s","type":"function_call","call_id":%q,"name":%q,"arguments":%q}}`, callID, callID, name, args)
}

func TestNew_UnknownEntryAgentIsConfigurationError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	_, err := New(Config{EntryAgent: "ghost"}, Dependencies{Transport: newFakeTransport(), Graph: testGraph(t, &calls), Logger: quietLogger()})
	if !core.IsType(err, core.ErrConfiguration) {
		t.Fatalf("err=%v, want configuration error", err)
	}
	if _, err := New(Config{}, Dependencies{Graph: testGraph(t, &calls)}); !core.IsType(err, core.ErrConfiguration) {
		t.Fatalf("missing transport err=%v", err)
	}
}

func TestDispatch_EventLogAndTranscriptDiverge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session

	s.Dispatch(decode(t, itemAdded("a1", "assistant", "")))
	for _, d := range []string{"Hel", "lo ", "there"} {
		s.Dispatch(decode(t, fmt.Sprintf(`{"type":"response.audio_transcript.delta","item_id":"a1","delta":%q}`, d)))
	}
	s.Dispatch(decode(t, `{"type":"response.audio_transcript.done","item_id":"a1","transcript":"Hello there"}`))
	s.Dispatch(decode(t, `{"type":"rate_limits.updated","rate_limits":[]}`))

	if got := s.EventLog().Len(); got != 6 {
		t.Fatalf("event log len=%d, want 6", got)
	}
	if got := s.Transcript().Len(); got != 1 {
		t.Fatalf("transcript len=%d, want 1", got)
	}
	e, _ := s.Transcript().Entry("a1")
	if e.Text != "Hello there" || e.Status != transcript.StatusDone {
		t.Fatalf("entry=%+v", e)
	}
	if s.EventLog().CountByName()["response.audio_transcript.delta"] != 3 {
		t.Fatalf("counts=%v", s.EventLog().CountByName())
	}
}

func TestDispatch_UserTranscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session

	s.Dispatch(decode(t, `{"type":"conversation.item.created","item":{"id":"u1","type":"message","role":"user","content":[{"type":"input_audio","transcript":null}]}}`))
	e, ok := s.Transcript().Entry("u1")
	if !ok || e.Text != "" || e.Status != transcript.StatusInProgress {
		t.Fatalf("entry=%+v ok=%v", e, ok)
	}

	s.Dispatch(decode(t, `{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"\n"}`))
	e, _ = s.Transcript().Entry("u1")
	if e.Text != transcript.InaudiblePlaceholder || e.Status != transcript.StatusDone {
		t.Fatalf("entry=%+v", e)
	}
}

func TestDispatch_UnknownItemIsLoggedButNotInterpreted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session

	s.Dispatch(decode(t, `{"type":"response.audio_transcript.delta","item_id":"missing","delta":"x"}`))
	if s.EventLog().Len() != 1 || s.Transcript().Len() != 0 {
		t.Fatalf("log=%d transcript=%d", s.EventLog().Len(), s.Transcript().Len())
	}
}

func TestDispatch_MalformedFramesAreRecordedVerbatim(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session

	frames := []string{
		`{"type":"response.output_audio_transcript.delta","delta":"x"}`,
		`{"type":"response.output_item.done","item":{"id":"fc1","type":"function_call","name":"addToCart","arguments":"{}"}}`,
		`{"type":"session.created","session":{}}`,
	}
	for _, frame := range frames {
		s.Dispatch(decode(t, frame))
	}

	if got := s.EventLog().Len(); got != len(frames) {
		t.Fatalf("log=%d, want %d", got, len(frames))
	}
	for i, ev := range s.EventLog().Events() {
		if string(ev.Payload) != frames[i] {
			t.Fatalf("event %d payload=%s", i, ev.Payload)
		}
	}
	if s.Transcript().Len() != 0 || f.calls.Load() != 0 || len(f.transport.Sent()) != 0 {
		t.Fatalf("transcript=%d calls=%d sent=%v", s.Transcript().Len(), f.calls.Load(), f.transport.names())
	}
}

func TestFunctionCall_RunsToolAndContinues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{EntryAgent: "sales"}, nil)
	s := f.session

	s.Dispatch(decode(t, functionCall("call_1", "addToCart", `{"item":"EMT conduit"}`)))
	waitFor(t, "function output", func() bool { return len(f.transport.outputs()) == 1 })
	waitFor(t, "response.create", func() bool {
		names := f.transport.names()
		return len(names) == 2 && names[1] == "response.create"
	})

	if f.transport.outputs()[0] != `{"count":1}` {
		t.Fatalf("output=%s", f.transport.outputs()[0])
	}
	var titles []string
	for _, e := range s.Transcript().Entries() {
		titles = append(titles, e.Title)
	}
	want := "function call: addToCart,cart updated,function call result: addToCart"
	if strings.Join(titles, ",") != want {
		t.Fatalf("breadcrumbs=%v", titles)
	}
	counts := s.EventLog().CountByName()
	if counts["agent_tool_start"] != 1 || counts["agent_tool_end"] != 1 || counts["conversation.item.create"] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	if v, _ := s.State().Get("count"); v != 1 {
		t.Fatalf("state count=%v", v)
	}
}

func TestFunctionCall_ValidationErrorIsReturnedToAgent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{EntryAgent: "sales"}, nil)
	f.session.Dispatch(decode(t, functionCall("call_1", "addToCart", `{"item":""}`)))
	waitFor(t, "function output", func() bool { return len(f.transport.outputs()) == 1 })

	var body map[string]any
	if err := json.Unmarshal([]byte(f.transport.outputs()[0]), &body); err != nil {
		t.Fatalf("output not json: %v", err)
	}
	if body["type"] != string(core.ErrValidation) {
		t.Fatalf("body=%v", body)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("handler ran on invalid input")
	}
}

func TestFunctionCall_ToolNotOnActiveAgent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	f.session.Dispatch(decode(t, functionCall("call_1", "addToCart", `{"item":"x"}`)))
	waitFor(t, "function output", func() bool { return len(f.transport.outputs()) == 1 })
	if !strings.Contains(f.transport.outputs()[0], "not available") || f.calls.Load() != 0 {
		t.Fatalf("output=%s calls=%d", f.transport.outputs()[0], f.calls.Load())
	}
}

func TestHandoff_SwapsAgent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session

	s.Dispatch(decode(t, functionCall("call_h", "transfer_to_sales", `{}`)))
	if s.ActiveAgent() != "sales" {
		t.Fatalf("active=%s", s.ActiveAgent())
	}
	names := f.transport.names()
	if strings.Join(names, ",") != "session.update,conversation.item.create,response.create" {
		t.Fatalf("sent=%v", names)
	}
	update := f.transport.Sent()[0].(types.UpdateSessionConfig)
	if update.Instructions != "sell" {
		t.Fatalf("update=%+v", update)
	}
	var toolNames []string
	for _, tool := range update.Tools {
		toolNames = append(toolNames, tool.Name)
	}
	if strings.Join(toolNames, ",") != "addToCart,slow,transfer_to_greeter,transfer_to_support" {
		t.Fatalf("tools=%v", toolNames)
	}
	if f.transport.outputs()[0] != `{"assistant":"sales"}` {
		t.Fatalf("output=%s", f.transport.outputs()[0])
	}
	entries := s.Transcript().Entries()
	if len(entries) != 1 || entries[0].Title != "Agent: sales" {
		t.Fatalf("entries=%+v", entries)
	}
	if s.EventLog().CountByName()["agent_handoff"] != 1 {
		t.Fatalf("handoff not logged")
	}
}

func TestHandoff_RejectsEdgeNotInGraph(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	f.session.Dispatch(decode(t, functionCall("call_h", "transfer_to_support", `{}`)))
	if f.session.ActiveAgent() != "greeter" {
		t.Fatalf("active=%s", f.session.ActiveAgent())
	}
	if len(f.transport.outputs()) != 1 || !strings.Contains(f.transport.outputs()[0], "cannot transfer") {
		t.Fatalf("outputs=%v", f.transport.outputs())
	}
}

func trippingPipeline(calls *atomic.Int32, release <-chan struct{}) *guardrail.Pipeline {
	return &guardrail.Pipeline{
		Logger: quietLogger(),
		Classifier: guardrail.ClassifierFunc(func(ctx context.Context, text, _ string) (guardrail.Classification, error) {
			calls.Add(1)
			if release != nil {
				<-release
			}
			if strings.Contains(text, "idiot") {
				return guardrail.Classification{Category: guardrail.CategoryOffensive, Rationale: "insult"}, nil
			}
			return guardrail.Classification{Category: guardrail.CategoryNone, Rationale: "fine"}, nil
		}),
	}
}

func TestGuardrail_TripAnnotatesAndInjectsCorrective(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	f := newFixture(t, Config{}, trippingPipeline(&calls, nil))
	s := f.session

	s.Dispatch(decode(t, itemAdded("a1", "assistant", "")))
	s.Dispatch(decode(t, `{"type":"response.audio_transcript.delta","item_id":"a1","delta":"you idiot"}`))
	if e, _ := s.Transcript().Entry("a1"); e.Guardrail == nil || e.Guardrail.Status != transcript.StatusInProgress {
		t.Fatalf("guardrail should be pending while streaming: %+v", e.Guardrail)
	}
	s.Dispatch(decode(t, `{"type":"response.audio_transcript.done","item_id":"a1","transcript":"you idiot"}`))

	waitFor(t, "corrective item", func() bool {
		for _, c := range f.transport.Sent() {
			if create, ok := c.(types.CreateConversationItem); ok && create.Item.Role == types.RoleSystem {
				return true
			}
		}
		return false
	})
	e, _ := s.Transcript().Entry("a1")
	if !e.Suppressed() || e.Guardrail.Category != "OFFENSIVE" || e.Guardrail.TestText != "you idiot" {
		t.Fatalf("guardrail=%+v", e.Guardrail)
	}
	if e.Text != "you idiot" {
		t.Fatalf("original text must be kept, got %q", e.Text)
	}
	if s.EventLog().CountByName()["guardrail_tripped"] != 1 {
		t.Fatalf("trip not logged")
	}

	var correctiveID string
	for _, c := range f.transport.Sent() {
		if create, ok := c.(types.CreateConversationItem); ok && create.Item.Role == types.RoleSystem {
			correctiveID = create.Item.ItemID
		}
	}
	s.Dispatch(decode(t, fmt.Sprintf(`{"type":"conversation.item.created","item":{"id":%q,"type":"message","role":"system","content":[{"type":"input_text","text":"flagged"}]}}`, correctiveID)))
	if _, ok := s.Transcript().Entry(correctiveID); ok {
		t.Fatalf("corrective message rendered as a conversation message")
	}
	if s.MessageKind(correctiveID) != types.KindSystemCorrective {
		t.Fatalf("kind=%q", s.MessageKind(correctiveID))
	}
	last := s.Transcript().Entries()[len(s.Transcript().Entries())-1]
	if last.Kind != transcript.KindBreadcrumb || last.Title != "Output Guardrail Active" {
		t.Fatalf("last entry=%+v", last)
	}
	if calls.Load() != 1 {
		t.Fatalf("classifier calls=%d", calls.Load())
	}
}

func TestGuardrail_RunsExactlyOncePerMessage(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	f := newFixture(t, Config{}, trippingPipeline(&calls, nil))
	s := f.session

	s.Dispatch(decode(t, itemAdded("a1", "assistant", "")))
	s.Dispatch(decode(t, `{"type":"response.audio_transcript.done","item_id":"a1","transcript":"Hi!"}`))
	s.Dispatch(decode(t, `{"type":"conversation.item.done","item":{"id":"a1","type":"message","role":"assistant","status":"completed","content":[{"type":"audio","transcript":"Hi!"}]}}`))

	waitFor(t, "classification", func() bool {
		e, _ := s.Transcript().Entry("a1")
		return e.Guardrail != nil && e.Guardrail.Rationale == "fine"
	})
	s.Wait()
	if calls.Load() != 1 {
		t.Fatalf("classifier calls=%d, want 1", calls.Load())
	}
	e, _ := s.Transcript().Entry("a1")
	if e.Guardrail.Status != transcript.StatusDone || e.Guardrail.Category != transcript.CategoryNone {
		t.Fatalf("guardrail=%+v", e.Guardrail)
	}
}

func TestClose_InFlightCompletionsAreNoops(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	release := make(chan struct{})
	f := newFixture(t, Config{}, trippingPipeline(&calls, release))
	s := f.session

	s.Dispatch(decode(t, itemAdded("a1", "assistant", "")))
	s.Dispatch(decode(t, `{"type":"response.audio_transcript.done","item_id":"a1","transcript":"you idiot"}`))
	waitFor(t, "classifier started", func() bool { return calls.Load() == 1 })
	sentBefore := len(f.transport.Sent())
	logBefore := s.EventLog().Len()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)
	s.Wait()

	e, _ := s.Transcript().Entry("a1")
	if e.Suppressed() {
		t.Fatalf("late guardrail result mutated the transcript")
	}
	if len(f.transport.Sent()) != sentBefore || s.EventLog().Len() != logBefore {
		t.Fatalf("late completion reached transport or log")
	}
	s.Dispatch(decode(t, itemAdded("a2", "assistant", "late")))
	if _, ok := s.Transcript().Entry("a2"); ok {
		t.Fatalf("dispatch after close was applied")
	}
	if err := s.SendUserText(context.Background(), "hi"); !core.IsType(err, core.ErrTransport) {
		t.Fatalf("send after close err=%v", err)
	}
}

func TestClose_CancelsRunningTool(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{EntryAgent: "sales"}, nil)
	s := f.session
	s.Dispatch(decode(t, functionCall("call_1", "slow", `{}`)))
	waitFor(t, "tool start", func() bool { return s.EventLog().CountByName()["agent_tool_start"] == 1 })

	_ = s.Close()
	s.Wait()
	if len(f.transport.outputs()) != 0 {
		t.Fatalf("output sent after close: %v", f.transport.outputs())
	}
}

func TestStart_ConfiguresSessionAndGreets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session

	if err := s.Start(context.Background(), StartOptions{GreetWith: "hi"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := strings.Join(f.transport.names(), ","); got != "session.update,conversation.item.create,response.create" {
		t.Fatalf("sent=%s", got)
	}
	update := f.transport.Sent()[0].(types.UpdateSessionConfig)
	if update.TurnDetection == nil || update.TurnDetection.Type != "server_vad" || update.Voice != "sage" {
		t.Fatalf("update=%+v", update)
	}
	greet := f.transport.Sent()[1].(types.CreateConversationItem).Item
	e, ok := s.Transcript().Entry(greet.ItemID)
	if !ok || !e.Hidden || e.Text != "hi" {
		t.Fatalf("greeting entry=%+v ok=%v", e, ok)
	}
	s.Dispatch(decode(t, itemAdded(greet.ItemID, "user", "hi")))
	e, _ = s.Transcript().Entry(greet.ItemID)
	if !e.Hidden {
		t.Fatalf("echo un-hid the simulated message")
	}
	entries := s.Transcript().Entries()
	if entries[0].Title != "Agent: greeter" {
		t.Fatalf("first entry=%+v", entries[0])
	}
}

func TestPushToTalk(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	s := f.session
	ctx := context.Background()

	if err := s.StartTalking(ctx); !core.IsType(err, core.ErrValidation) {
		t.Fatalf("StartTalking without PTT err=%v", err)
	}
	if err := s.SetPushToTalk(ctx, true); err != nil {
		t.Fatalf("SetPushToTalk: %v", err)
	}
	if update := f.transport.Sent()[0].(types.UpdateSessionConfig); update.TurnDetection != nil {
		t.Fatalf("push-to-talk must disable turn detection: %+v", update.TurnDetection)
	}
	_ = s.StartTalking(ctx)
	_ = s.AppendAudio(ctx, "AAAA")
	_ = s.StopTalking(ctx)

	want := "session.update,response.cancel,input_audio_buffer.clear,input_audio_buffer.append,input_audio_buffer.commit,response.create"
	if got := strings.Join(f.transport.names(), ","); got != want {
		t.Fatalf("sent=%s", got)
	}
	for _, ev := range s.EventLog().Events() {
		if ev.Name == "input_audio_buffer.append" && strings.Contains(string(ev.Payload), "AAAA") {
			t.Fatalf("raw audio recorded in event log")
		}
	}
}

func TestSendUserText(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	if err := f.session.SendUserText(context.Background(), "  "); !core.IsType(err, core.ErrValidation) {
		t.Fatalf("empty text err=%v", err)
	}
	if err := f.session.SendUserText(context.Background(), "Need 100 ft of 1/2 EMT"); err != nil {
		t.Fatalf("SendUserText: %v", err)
	}
	if got := strings.Join(f.transport.names(), ","); got != "response.cancel,conversation.item.create,response.create" {
		t.Fatalf("sent=%s", got)
	}
	if f.session.EventLog().Len() != 3 {
		t.Fatalf("client events=%d", f.session.EventLog().Len())
	}
}

func TestRun_ConsumesUntilTransportCloses(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, nil)
	f.transport.events <- decode(t, itemAdded("u1", "user", "hello"))
	f.transport.events <- decode(t, `{"type":"session.created","session":{}}`)
	close(f.transport.events)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.session.EventLog().Len() != 2 || f.session.Transcript().Len() != 1 {
		t.Fatalf("log=%d transcript=%d", f.session.EventLog().Len(), f.session.Transcript().Len())
	}
}
