// Package session orchestrates one conversation over a realtime transport:
// every inbound event is logged, interpreted into the transcript, and may
// trigger tool execution, an agent handoff or a guardrail check.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/vai-agents/pkg/agents"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/guardrail"
	"github.com/vango-go/vai-agents/pkg/metrics"
	"github.com/vango-go/vai-agents/pkg/realtime"
	"github.com/vango-go/vai-agents/pkg/tools"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

// Transport is the realtime collaborator. *realtime.Conn satisfies it.
type Transport interface {
	Send(ctx context.Context, cmd types.Command) error
	Events() <-chan types.Inbound
	Close() error
}

type Config struct {
	SessionID string

	// EntryAgent overrides the graph's first agent for this session only.
	EntryAgent string

	ToolTimeout time.Duration
}

type Dependencies struct {
	Transport Transport
	Graph     *agents.Graph
	Guardrail *guardrail.Pipeline

	Store   *transcript.Store
	Log     *eventlog.Log
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Now   func() time.Time
	NewID func() string
}

type StartOptions struct {
	PushToTalk bool

	// GreetWith is sent as a hidden user message to prime the first agent
	// turn. Empty sends nothing.
	GreetWith string
}

const DefaultToolTimeout = 60 * time.Second

type Session struct {
	id        string
	cfg       Config
	transport Transport
	graph     *agents.Graph
	guardrail *guardrail.Pipeline
	store     *transcript.Store
	log       *eventlog.Log
	logger    *slog.Logger
	metrics   *metrics.Metrics
	state     *tools.State
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	active     string
	pushToTalk bool
	hidden     map[string]struct{}
	corrective map[string]struct{}
	pending    map[string]struct{}
	guarded    map[string]struct{}
}

// New validates dependencies. An unknown EntryAgent is a configuration error
// and no session is created.
func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Transport == nil {
		return nil, core.NewConfigurationError("session transport is required")
	}
	if deps.Graph == nil {
		return nil, core.NewConfigurationError("session agent graph is required")
	}
	graph := deps.Graph
	if strings.TrimSpace(cfg.EntryAgent) != "" {
		g, err := graph.WithEntryPoint(strings.TrimSpace(cfg.EntryAgent))
		if err != nil {
			return nil, err
		}
		graph = g
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "sess_" + uuid.NewString()
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("session_id", cfg.SessionID)
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "item_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20] }
	}
	if deps.Store == nil {
		deps.Store = transcript.NewStore(transcript.Options{Logger: logger, Now: deps.Now})
	}
	if deps.Log == nil {
		deps.Log = eventlog.New(eventlog.Options{SessionID: cfg.SessionID, Logger: logger, Now: deps.Now})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         cfg.SessionID,
		cfg:        cfg,
		transport:  deps.Transport,
		graph:      graph,
		guardrail:  deps.Guardrail,
		store:      deps.Store,
		log:        deps.Log,
		logger:     logger,
		metrics:    deps.Metrics,
		state:      tools.NewState(),
		now:        deps.Now,
		newID:      deps.NewID,
		ctx:        ctx,
		cancel:     cancel,
		active:     graph.EntryAgent().Name,
		hidden:     make(map[string]struct{}),
		corrective: make(map[string]struct{}),
		pending:    make(map[string]struct{}),
		guarded:    make(map[string]struct{}),
	}, nil
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Transcript() *transcript.Store { return s.store }
func (s *Session) EventLog() *eventlog.Log       { return s.log }
func (s *Session) Graph() *agents.Graph          { return s.graph }
func (s *Session) State() *tools.State           { return s.state }

func (s *Session) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) PushToTalk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushToTalk
}

// Run consumes transport events until the transport closes, the session is
// closed or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return nil
		case in, ok := <-events:
			if !ok {
				return nil
			}
			s.Dispatch(in)
		}
	}
}

// Start configures the remote session for the entry agent and optionally
// primes its greeting.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.mu.Lock()
	s.pushToTalk = opts.PushToTalk
	agentName := s.active
	s.mu.Unlock()

	if a, ok := s.graph.Agent(agentName); ok {
		s.addBreadcrumb("Agent: "+a.Name, a.Snapshot())
	}
	if err := s.send(ctx, s.sessionConfig(agentName)); err != nil {
		return err
	}
	if strings.TrimSpace(opts.GreetWith) != "" {
		return s.SendSimulatedUserMessage(ctx, opts.GreetWith)
	}
	return nil
}

// SendUserText submits typed user input and asks for a response.
func (s *Session) SendUserText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.NewValidationError("text must be non-empty", "text")
	}
	if err := s.send(ctx, types.CancelResponse{}); err != nil {
		return err
	}
	if err := s.send(ctx, types.CreateConversationItem{Item: types.UserText(s.newID(), text)}); err != nil {
		return err
	}
	return s.send(ctx, types.RequestResponse{})
}

// SendSimulatedUserMessage injects a user message the transcript keeps
// hidden, e.g. the greeting primer.
func (s *Session) SendSimulatedUserMessage(ctx context.Context, text string) error {
	id := s.newID()
	s.mu.Lock()
	s.hidden[id] = struct{}{}
	s.mu.Unlock()
	s.store.InsertMessage(id, types.RoleUser, text, true)

	if err := s.send(ctx, types.CreateConversationItem{Item: types.UserText(id, text)}); err != nil {
		return err
	}
	return s.send(ctx, types.RequestResponse{})
}

// SetPushToTalk switches between server VAD and manual turns.
func (s *Session) SetPushToTalk(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.pushToTalk = enabled
	agentName := s.active
	s.mu.Unlock()
	return s.send(ctx, s.sessionConfig(agentName))
}

// StartTalking begins a manual speech turn, interrupting any response.
func (s *Session) StartTalking(ctx context.Context) error {
	if !s.PushToTalk() {
		return core.NewValidationError("push-to-talk is not enabled", "push_to_talk")
	}
	if err := s.send(ctx, types.CancelResponse{}); err != nil {
		return err
	}
	return s.send(ctx, types.ClearAudioBuffer{})
}

// StopTalking ends a manual speech turn and requests the response.
func (s *Session) StopTalking(ctx context.Context) error {
	if !s.PushToTalk() {
		return core.NewValidationError("push-to-talk is not enabled", "push_to_talk")
	}
	if err := s.send(ctx, types.CommitAudioBuffer{}); err != nil {
		return err
	}
	return s.send(ctx, types.RequestResponse{})
}

func (s *Session) AppendAudio(ctx context.Context, audioB64 string) error {
	if strings.TrimSpace(audioB64) == "" {
		return core.NewValidationError("audio must be non-empty", "audio")
	}
	return s.send(ctx, types.AppendAudio{AudioB64: audioB64})
}

func (s *Session) Interrupt(ctx context.Context) error {
	return s.send(ctx, types.CancelResponse{})
}

// Close stops event intake, cancels in-flight tool and guardrail work and
// closes the transport. Completions that land afterwards are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.transport.Close()
}

// Wait blocks until in-flight async work has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// goAsync runs fn on its own goroutine unless the session is closed.
func (s *Session) goAsync(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

// send records one client event and writes cmd to the transport.
func (s *Session) send(ctx context.Context, cmd types.Command) error {
	if !s.alive() {
		return core.NewTransportError("session is closed", nil)
	}
	payload, err := realtime.CommandPayload(cmd)
	if err != nil {
		return core.NewInvalidRequestError(err.Error())
	}
	if a, ok := cmd.(types.AppendAudio); ok {
		payload["audio"] = fmt.Sprintf("<%d base64 chars>", len(a.AudioB64))
	}
	s.log.Record(eventlog.DirectionClient, cmd.CommandName(), payload)
	s.metrics.RecordEvent(string(eventlog.DirectionClient))

	if err := s.transport.Send(ctx, cmd); err != nil {
		s.logger.Warn("realtime send failed", "command", cmd.CommandName(), "error", err)
		return err
	}
	return nil
}

func (s *Session) sessionConfig(agentName string) types.UpdateSessionConfig {
	a, _ := s.graph.Agent(agentName)
	cfg := types.UpdateSessionConfig{
		Instructions: a.Instructions,
		Voice:        a.Voice,
		Tools:        s.graph.ToolsFor(agentName),
		Modalities:   []string{"text", "audio"},
	}
	if !s.PushToTalk() {
		cfg.TurnDetection = types.DefaultServerVAD()
	}
	return cfg
}

func (s *Session) addBreadcrumb(title string, data any) {
	if !s.alive() {
		return
	}
	s.store.InsertBreadcrumb(title, data)
}

// history renders the reconciled transcript as message items for tools.
func (s *Session) history() []types.HistoryItem {
	entries := s.store.Entries()
	out := make([]types.HistoryItem, 0, len(entries))
	for _, e := range entries {
		if e.Kind != transcript.KindMessage {
			continue
		}
		partType := types.ContentInputText
		if e.Role == types.RoleAssistant {
			partType = types.ContentOutputText
		}
		out = append(out, types.HistoryItem{
			ItemID:  e.ID,
			Type:    types.ItemTypeMessage,
			Role:    e.Role,
			Content: []types.ContentPart{{Type: partType, Text: e.Text}},
		})
	}
	return out
}

func decodeJSON(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
