package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/gateway/apierror"
	"github.com/vango-go/vai-agents/pkg/gateway/mw"
)

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	if coreErr != nil && coreErr.RetryAfter != nil && *coreErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*coreErr.RetryAfter))
	}
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

// writeError canonicalizes err and writes it as an error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) int {
	reqID := requestIDFromContext(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	writeCoreErrorJSON(w, reqID, coreErr, status)
	return status
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	reqID := requestIDFromContext(r.Context())
	w.Header().Set("Allow", allow)
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	}, http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
