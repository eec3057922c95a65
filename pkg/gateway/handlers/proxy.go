package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/metrics"
)

// RealtimeSessionAPI mints ephemeral realtime credentials.
// *upstream.Client satisfies it.
type RealtimeSessionAPI interface {
	CreateRealtimeSession(ctx context.Context, body any) ([]byte, error)
}

// ResponsesAPI forwards text-model requests. *upstream.Client satisfies it.
type ResponsesAPI interface {
	CreateResponse(ctx context.Context, body any) ([]byte, error)
}

// SessionHandler serves GET /api/session: it exchanges the service
// credential for an ephemeral realtime session and returns the upstream JSON
// unchanged.
type SessionHandler struct {
	Config   config.Config
	Upstream RealtimeSessionAPI
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Upstream == nil {
		writeError(w, r, core.NewConfigurationError("realtime upstream is not configured"))
		return
	}

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	body, err := h.Upstream.CreateRealtimeSession(ctx, map[string]any{"model": h.Config.RealtimeModel})
	if err != nil {
		status := writeError(w, r, err)
		h.Metrics.RecordUpstreamError("/api/session", status)
		logUpstreamError(h.Logger, r, "/api/session", status, err)
		return
	}
	writeRawJSON(w, body)
}

// ResponsesHandler serves POST /api/responses. The body must be a JSON object
// naming a model; it is forwarded as-is.
type ResponsesHandler struct {
	Config   config.Config
	Upstream ResponsesAPI
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (h ResponsesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.Upstream == nil {
		writeError(w, r, core.NewConfigurationError("responses upstream is not configured"))
		return
	}

	raw, err := readBody(w, r, h.Config.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		writeError(w, r, core.NewInvalidRequestError("request body must be a JSON object"))
		return
	}
	model, _ := body["model"].(string)
	if strings.TrimSpace(model) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("model is required", "model"))
		return
	}

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	out, err := h.Upstream.CreateResponse(ctx, json.RawMessage(raw))
	if err != nil {
		status := writeError(w, r, err)
		h.Metrics.RecordUpstreamError("/api/responses", status)
		logUpstreamError(h.Logger, r, "/api/responses", status, err)
		return
	}
	writeRawJSON(w, out)
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.Error{Type: core.ErrInvalidRequest, Message: "request body too large", Code: "body_too_large"}
		}
		return nil, core.NewInvalidRequestError("failed to read request body")
	}
	return raw, nil
}

func withHandlerTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func writeRawJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func logUpstreamError(logger *slog.Logger, r *http.Request, endpoint string, status int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("upstream request failed",
		"request_id", requestIDFromContext(r.Context()),
		"endpoint", endpoint,
		"status", status,
		"error", err,
	)
}
