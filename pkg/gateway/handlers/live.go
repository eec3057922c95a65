package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/gateway/auth"
	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agents/pkg/gateway/live/bridge"
	"github.com/vango-go/vai-agents/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-agents/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-agents/pkg/gateway/mw"
	"github.com/vango-go/vai-agents/pkg/gateway/principal"
	"github.com/vango-go/vai-agents/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-agents/pkg/guardrail"
	"github.com/vango-go/vai-agents/pkg/metrics"
	"github.com/vango-go/vai-agents/pkg/realtime"
	"github.com/vango-go/vai-agents/pkg/scenarios"
	"github.com/vango-go/vai-agents/pkg/session"
)

// RealtimeDialer opens the upstream realtime connection for one session.
type RealtimeDialer func(ctx context.Context, cfg realtime.DialConfig) (session.Transport, error)

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Scenarios    *scenarios.Holder
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	// Guardrail is copied per session; the scenario's company name replaces
	// CompanyName when set. Nil disables output moderation.
	Guardrail *guardrail.Pipeline

	// EventSink receives every session's events in addition to the per-session
	// JSONL file. Optional.
	EventSink eventlog.Sink

	Dial RealtimeDialer
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}, 529)
		return
	}
	if !mw.OriginAllowed(h.Config, r) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Param != "" {
			h.writeWSError(conn, de.Code, de.Message, map[string]any{"param": de.Param})
			return
		}
		h.writeWSError(conn, "bad_request", "invalid hello frame", nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", nil)
		return
	}

	principalKey, authErr := h.resolvePrincipal(r, h.resolveGatewayKey(r, hello))
	if authErr != nil {
		h.writeWSError(conn, "unauthorized", authErr.Error(), nil)
		return
	}

	if h.Limiter != nil && h.Config.LiveMaxSessionsPerPrincipal > 0 {
		dec := h.Limiter.AcquireSession(principalKey, time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit("live_session")
			h.writeWSError(conn, "rate_limited", "too many active live sessions", nil)
			return
		}
		defer dec.Permit.Release()
	}

	catalog := h.Scenarios.Load()
	if catalog == nil {
		h.writeWSError(conn, "configuration", "no scenarios loaded", nil)
		return
	}
	sc, ok := catalog.Scenario(hello.Scenario)
	if !ok {
		h.writeWSError(conn, "unknown_scenario", fmt.Sprintf("unknown scenario %q", hello.Scenario), map[string]any{"param": "scenario"})
		return
	}
	graph, err := catalog.Graph(hello.Scenario, hello.Agent)
	if err != nil {
		h.writeWSError(conn, "unknown_agent", err.Error(), map[string]any{"param": "agent"})
		return
	}
	if strings.TrimSpace(h.Config.OpenAIAPIKey) == "" {
		h.writeWSError(conn, "configuration", "realtime upstream is not configured", nil)
		return
	}

	sessionID := "sess_" + uuid.NewString()
	reqID := requestIDFromContext(r.Context())
	logger := h.logger().With("session_id", sessionID, "scenario", sc.Name, "request_id", reqID)

	dialCtx, cancelDial := context.WithTimeout(r.Context(), 2*handshakeTimeout)
	rt, err := h.dial()(dialCtx, realtime.DialConfig{
		URL:              h.Config.RealtimeURL,
		Model:            h.Config.RealtimeModel,
		APIKey:           h.Config.OpenAIAPIKey,
		HandshakeTimeout: handshakeTimeout,
		WriteTimeout:     h.Config.LiveWSWriteTimeout,
		Logger:           logger,
	})
	cancelDial()
	if err != nil {
		logger.Warn("realtime dial failed", "error", err)
		h.writeWSError(conn, "upstream_error", "failed to connect to realtime service", nil)
		return
	}

	b := bridge.New(conn, bridge.Config{
		PingInterval:           h.Config.LiveWSPingInterval,
		WriteTimeout:           h.Config.LiveWSWriteTimeout,
		MaxSessionDuration:     h.Config.LiveMaxSessionDuration,
		MaxAudioFPS:            h.Config.LiveMaxAudioFPS,
		MaxAudioBytesPerSecond: h.Config.LiveMaxAudioBytesPerSecond,
		InboundBurstSeconds:    h.Config.LiveInboundBurstSeconds,
	}, logger)
	defer b.Close()

	log := eventlog.New(eventlog.Options{SessionID: sessionID, Logger: logger})
	if h.EventSink != nil {
		log.AddSink(h.EventSink)
	}
	if dir := strings.TrimSpace(h.Config.EventLogDir); dir != "" {
		jsonl, err := eventlog.OpenJSONL(filepath.Join(dir, sessionID+".jsonl"))
		if err != nil {
			logger.Warn("event log file unavailable", "error", err)
		} else {
			defer jsonl.Close()
			log.AddSink(jsonl)
		}
	}

	var pipeline *guardrail.Pipeline
	if h.Guardrail != nil {
		p := *h.Guardrail
		if sc.CompanyName != "" {
			p.CompanyName = sc.CompanyName
		}
		if p.Logger == nil {
			p.Logger = logger
		}
		pipeline = &p
	}

	transport := bridge.TapAudio(rt, b.SendAudio)
	sess, err := session.New(session.Config{
		SessionID:   sessionID,
		ToolTimeout: h.Config.ToolTimeout,
	}, session.Dependencies{
		Transport: transport,
		Graph:     graph,
		Guardrail: pipeline,
		Log:       log,
		Logger:    logger,
		Metrics:   h.Metrics,
	})
	if err != nil {
		_ = transport.Close()
		h.writeWSError(conn, "internal", "failed to initialize live session", nil)
		return
	}

	agentNames := make([]string, 0, len(graph.Agents()))
	for _, a := range graph.Agents() {
		agentNames = append(agentNames, a.Name)
	}
	ack := protocol.ServerHelloAck{
		Type:            protocol.TypeHelloAck,
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Scenario:        sc.Name,
		Agent:           sess.ActiveAgent(),
		Agents:          agentNames,
		PushToTalk:      hello.PushToTalk,
		Limits: protocol.HelloAckLimits{
			MaxMessageBytes:    h.Config.LiveMaxJSONMessageBytes,
			MaxSessionSeconds:  int(h.Config.LiveMaxSessionDuration / time.Second),
			ToolTimeoutSeconds: int(h.Config.ToolTimeout / time.Second),
		},
	}
	if err := conn.WriteJSON(ack); err != nil {
		_ = sess.Close()
		_ = transport.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	unregister := h.LiveSessions.Register(sessionID, sessions.Handle{
		Scenario: sc.Name,
		Close:    b.Close,
		Warn:     b.SendWarning,
	})
	defer unregister()

	startAt := time.Now()
	h.Metrics.RecordLiveSessionStart()
	logger.Info("live session started", "agent", ack.Agent, "push_to_talk", hello.PushToTalk)

	reason, runErr := b.Run(sess, session.StartOptions{
		PushToTalk: hello.PushToTalk,
		GreetWith:  h.greeting(hello, sc),
	})

	dur := time.Since(startAt)
	h.Metrics.RecordLiveSessionEnd(sc.Name, reason, dur)
	attrs := []any{"reason", reason, "duration_ms", dur.Milliseconds(), "events", log.Len(), "dropped_audio", b.DroppedAudio()}
	if runErr != nil {
		logger.Warn("live session ended with error", append(attrs, "error", runErr)...)
		return
	}
	logger.Info("live session ended", attrs...)
}

func (h LiveHandler) greeting(hello protocol.ClientHello, sc *scenarios.Scenario) string {
	if hello.Greeting != nil {
		return strings.TrimSpace(*hello.Greeting)
	}
	if sc.Greeting != "" {
		return sc.Greeting
	}
	return h.Config.LiveGreeting
}

func (h LiveHandler) resolveGatewayKey(r *http.Request, hello protocol.ClientHello) string {
	if hello.Auth != nil && strings.TrimSpace(hello.Auth.APIKey) != "" {
		return strings.TrimSpace(hello.Auth.APIKey)
	}
	return auth.LiveKey(r)
}

func (h LiveHandler) resolvePrincipal(r *http.Request, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	switch h.Config.AuthMode {
	case config.AuthModeRequired:
		if apiKey == "" {
			return "", fmt.Errorf("missing gateway api key")
		}
		if _, ok := h.Config.APIKeys[apiKey]; !ok {
			return "", fmt.Errorf("invalid gateway api key")
		}
		return principal.FromAPIKey(apiKey).Key, nil
	case config.AuthModeOptional:
		if apiKey != "" {
			if _, ok := h.Config.APIKeys[apiKey]; !ok {
				return "", fmt.Errorf("invalid gateway api key")
			}
			return principal.FromAPIKey(apiKey).Key, nil
		}
		return principal.Resolve(r, h.Config).Key, nil
	case config.AuthModeDisabled:
		return principal.Resolve(r, h.Config).Key, nil
	default:
		return "", fmt.Errorf("invalid auth mode")
	}
}

func (h LiveHandler) dial() RealtimeDialer {
	if h.Dial != nil {
		return h.Dial
	}
	return func(ctx context.Context, cfg realtime.DialConfig) (session.Transport, error) {
		c, err := realtime.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// writeWSError sends a closing error frame during the handshake, before the
// bridge owns the socket.
func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message, Close: true, Details: details})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
