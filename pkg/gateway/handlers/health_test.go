package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agents/pkg/gateway/live/sessions"
)

func readyConfig(mode config.AuthMode) config.Config {
	return config.Config{
		AuthMode:               mode,
		APIKeys:                map[string]struct{}{},
		OpenAIAPIKey:           "sk-test",
		SupervisorBackend:      config.BackendResponses,
		GuardrailBackend:       config.BackendResponses,
		MaxBodyBytes:           1,
		LiveMaxSessionDuration: time.Minute,
		ReadHeaderTimeout:      time.Second,
		ReadTimeout:            time.Second,
		HandlerTimeout:         time.Second,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v body=%q", err, rr.Body.String())
	}
	return rr.Code, resp
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	h := ReadyHandler{
		Config:    readyConfig(config.AuthModeRequired),
		Lifecycle: lifecycle.New(time.Now()),
		Scenarios: testScenarioHolder(t),
	}
	code, resp := serveReady(t, h)
	if code != http.StatusInternalServerError {
		t.Fatalf("status=%d", code)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false, got ok=true")
	}
	if issues, _ := resp["issues"].([]any); len(issues) != 1 {
		t.Fatalf("issues=%v", resp["issues"])
	}
}

func TestReadyHandler_OptionalAuth_Ready(t *testing.T) {
	tracker := sessions.NewTracker()
	release := tracker.Register("sess_1", sessions.Handle{Scenario: "simpleHandoff"})
	defer release()

	h := ReadyHandler{
		Config:       readyConfig(config.AuthModeOptional),
		Lifecycle:    lifecycle.New(time.Now().Add(-90 * time.Second)),
		Scenarios:    testScenarioHolder(t),
		LiveSessions: tracker,
	}
	code, resp := serveReady(t, h)
	if code != http.StatusOK {
		t.Fatalf("status=%d resp=%v", code, resp)
	}
	if resp["ok"] != true || resp["scenarios"] != float64(1) || resp["live_sessions"] != float64(1) {
		t.Fatalf("resp=%v", resp)
	}
	if up, _ := resp["uptime_seconds"].(float64); up < 90 {
		t.Fatalf("uptime_seconds=%v", resp["uptime_seconds"])
	}
	byScenario, _ := resp["live_by_scenario"].(map[string]any)
	if byScenario["simpleHandoff"] != float64(1) {
		t.Fatalf("live_by_scenario=%v", resp["live_by_scenario"])
	}
}

func TestReadyHandler_MissingUpstreamAndScenarios(t *testing.T) {
	cfg := readyConfig(config.AuthModeDisabled)
	cfg.OpenAIAPIKey = ""
	cfg.GuardrailBackend = config.BackendGemini

	code, resp := serveReady(t, ReadyHandler{Config: cfg, Lifecycle: lifecycle.New(time.Now())})
	if code != http.StatusInternalServerError {
		t.Fatalf("status=%d", code)
	}
	if resp["upstream_configured"] != false {
		t.Fatalf("upstream_configured=%v", resp["upstream_configured"])
	}
	if issues, _ := resp["issues"].([]any); len(issues) != 3 {
		t.Fatalf("issues=%v", resp["issues"])
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	life := lifecycle.New(time.Now())
	life.SetDraining(true)
	code, resp := serveReady(t, ReadyHandler{
		Config:    readyConfig(config.AuthModeOptional),
		Lifecycle: life,
		Scenarios: testScenarioHolder(t),
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", code)
	}
	if resp["draining"] != true || resp["ok"] != false {
		t.Fatalf("resp=%v", resp)
	}
}
