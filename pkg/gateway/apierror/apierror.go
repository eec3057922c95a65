// Package apierror maps internal errors to the gateway's JSON error envelope.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/upstream"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// StatusOverloaded is returned while the gateway drains or the upstream
// reports overload.
const StatusOverloaded = 529

// FromError canonicalizes err. Upstream failures keep the upstream HTTP
// status; unknown errors become an opaque internal error.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			Code:      "timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		status := StatusFromType(coreErr.Type)
		if upstreamStatus, ok := upstream.UpstreamStatus(coreErr); ok && upstreamStatus >= 400 {
			status = upstreamStatus
		}
		return &out, status
	}

	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest, core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return StatusOverloaded
	case core.ErrConfiguration:
		return http.StatusServiceUnavailable
	case core.ErrProvider, core.ErrTransport, core.ErrAPI:
		return http.StatusBadGateway
	case core.ErrEscalationExhausted:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
