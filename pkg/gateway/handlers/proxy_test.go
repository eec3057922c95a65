package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/upstream"
)

type recordedUpstream struct {
	mu     sync.Mutex
	path   string
	auth   string
	body   string
	status int
	reply  string
}

func (u *recordedUpstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.path = r.URL.Path
		u.auth = r.Header.Get("Authorization")
		u.body = string(raw)
		status, reply := u.status, u.reply
		u.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func proxyConfig() config.Config {
	return config.Config{
		MaxBodyBytes:   1024,
		RealtimeModel:  "gpt-realtime-test",
		HandlerTimeout: 5 * time.Second,
	}
}

func TestSessionHandler_ReturnsUpstreamJSON(t *testing.T) {
	up := &recordedUpstream{reply: `{"client_secret":{"value":"ek_123"}}`}
	srv := up.server(t)

	h := SessionHandler{Config: proxyConfig(), Upstream: upstream.New("sk-test", upstream.WithBaseURL(srv.URL))}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != `{"client_secret":{"value":"ek_123"}}` {
		t.Fatalf("body=%s", rr.Body.String())
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.path != "/realtime/sessions" || up.auth != "Bearer sk-test" {
		t.Fatalf("path=%q auth=%q", up.path, up.auth)
	}
	if !strings.Contains(up.body, `"model":"gpt-realtime-test"`) {
		t.Fatalf("upstream body=%s", up.body)
	}
}

func TestSessionHandler_PropagatesUpstreamStatus(t *testing.T) {
	up := &recordedUpstream{status: http.StatusUnauthorized, reply: `{"error":{"message":"bad key","type":"invalid_request_error"}}`}
	srv := up.server(t)

	h := SessionHandler{Config: proxyConfig(), Upstream: upstream.New("sk-test", upstream.WithBaseURL(srv.URL))}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || env.Error.Message != "bad key" {
		t.Fatalf("body=%s err=%v", rr.Body.String(), err)
	}
}

func TestSessionHandler_MissingCredential(t *testing.T) {
	h := SessionHandler{Config: proxyConfig(), Upstream: upstream.New("")}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	h := SessionHandler{Config: proxyConfig(), Upstream: upstream.New("sk-test")}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/session", nil))
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("status=%d allow=%q", rr.Code, rr.Header().Get("Allow"))
	}
}

func TestResponsesHandler_ForwardsBodyVerbatim(t *testing.T) {
	up := &recordedUpstream{reply: `{"id":"resp_1","output":[]}`}
	srv := up.server(t)

	h := ResponsesHandler{Config: proxyConfig(), Upstream: upstream.New("sk-test", upstream.WithBaseURL(srv.URL))}
	body := `{"model":"gpt-4.1","input":[{"role":"user","content":"hi"}],"parallel_tool_calls":false}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/responses", strings.NewReader(body)))

	if rr.Code != http.StatusOK || rr.Body.String() != `{"id":"resp_1","output":[]}` {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.path != "/responses" || up.body != body {
		t.Fatalf("path=%q body=%s", up.path, up.body)
	}
}

func TestResponsesHandler_RejectsBadRequests(t *testing.T) {
	h := ResponsesHandler{Config: proxyConfig(), Upstream: upstream.New("sk-test", upstream.WithBaseURL("http://127.0.0.1:1"))}

	cases := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{name: "get", method: http.MethodGet, status: http.StatusMethodNotAllowed},
		{name: "not json", method: http.MethodPost, body: "nope", status: http.StatusBadRequest},
		{name: "array", method: http.MethodPost, body: `[1,2]`, status: http.StatusBadRequest},
		{name: "missing model", method: http.MethodPost, body: `{"input":"hi"}`, status: http.StatusBadRequest},
		{name: "blank model", method: http.MethodPost, body: `{"model":"  "}`, status: http.StatusBadRequest},
		{name: "too large", method: http.MethodPost, body: `{"model":"m","input":"` + strings.Repeat("x", 2048) + `"}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tc.method, "/api/responses", strings.NewReader(tc.body)))
			if rr.Code != tc.status {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestResponsesHandler_UpstreamUnreachable(t *testing.T) {
	h := ResponsesHandler{Config: proxyConfig(), Upstream: upstream.New("sk-test", upstream.WithBaseURL("http://127.0.0.1:1"))}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/responses", strings.NewReader(`{"model":"gpt-4.1"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}
