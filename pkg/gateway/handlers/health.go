package handlers

import (
	"net/http"
	"time"

	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agents/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-agents/pkg/scenarios"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway should receive traffic. A
// draining gateway answers 503 so load balancers stop routing to it.
type ReadyHandler struct {
	Config       config.Config
	Lifecycle    *lifecycle.Lifecycle
	Scenarios    *scenarios.Holder
	LiveSessions *sessions.Tracker
	Now          func() time.Time
}

type readyResp struct {
	OK                 bool           `json:"ok"`
	Draining           bool           `json:"draining"`
	AuthMode           string         `json:"auth_mode"`
	UpstreamConfigured bool           `json:"upstream_configured"`
	Scenarios          int            `json:"scenarios"`
	LiveSessions       int            `json:"live_sessions"`
	LiveByScenario     map[string]int `json:"live_by_scenario,omitempty"`
	UptimeSeconds      int64          `json:"uptime_seconds"`
	Issues             []string       `json:"issues,omitempty"`
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	issues := make([]string, 0, 4)
	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "OPENAI_API_KEY is not configured")
	}
	if (h.Config.SupervisorBackend == config.BackendGemini || h.Config.GuardrailBackend == config.BackendGemini) && h.Config.GeminiAPIKey == "" {
		issues = append(issues, "GEMINI_API_KEY is not configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.LiveMaxSessionDuration <= 0 {
		issues = append(issues, "live max session duration must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	scenarioCount := 0
	if c := h.Scenarios.Load(); c != nil {
		scenarioCount = len(c.Names())
	}
	if scenarioCount == 0 {
		issues = append(issues, "no scenarios loaded")
	}

	draining := h.Lifecycle.IsDraining()
	resp := readyResp{
		OK:                 len(issues) == 0 && !draining,
		Draining:           draining,
		AuthMode:           string(h.Config.AuthMode),
		UpstreamConfigured: h.Config.OpenAIAPIKey != "",
		Scenarios:          scenarioCount,
		LiveSessions:       h.LiveSessions.Count(),
		UptimeSeconds:      int64(h.Lifecycle.Uptime(now()) / time.Second),
		Issues:             issues,
	}
	if resp.LiveSessions > 0 {
		resp.LiveByScenario = h.LiveSessions.ByScenario()
	}

	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case len(issues) > 0:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
