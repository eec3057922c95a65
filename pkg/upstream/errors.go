package upstream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/vai-agents/pkg/core"
)

// StatusError carries the upstream HTTP status alongside the mapped error.
type StatusError struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// parseError maps an upstream error response to *core.Error.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	status := StatusError{StatusCode: resp.StatusCode}

	var upstreamErr openaiError
	if err := json.Unmarshal(body, &upstreamErr); err != nil || strings.TrimSpace(upstreamErr.Error.Message) == "" {
		status.Body = strings.TrimSpace(string(body))
		msg := status.Body
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &core.Error{
			Type:          typeFromStatus(resp.StatusCode, ""),
			Message:       msg,
			ProviderError: status,
		}
	}

	return &core.Error{
		Type:          typeFromStatus(resp.StatusCode, upstreamErr.Error.Type),
		Message:       upstreamErr.Error.Message,
		Code:          upstreamErr.Error.Code,
		Param:         upstreamErr.Error.Param,
		ProviderError: status,
	}
}

func typeFromStatus(status int, upstreamType string) core.ErrorType {
	switch status {
	case http.StatusTooManyRequests:
		return core.ErrRateLimit
	case http.StatusServiceUnavailable:
		return core.ErrOverloaded
	}

	switch upstreamType {
	case "invalid_request_error":
		return core.ErrInvalidRequest
	case "authentication_error":
		return core.ErrAuthentication
	case "permission_error", "insufficient_quota":
		return core.ErrPermission
	case "not_found_error":
		return core.ErrNotFound
	case "rate_limit_error":
		return core.ErrRateLimit
	case "server_error", "api_error":
		return core.ErrAPI
	case "overloaded_error", "service_unavailable":
		return core.ErrOverloaded
	}

	switch {
	case status == http.StatusBadRequest:
		return core.ErrInvalidRequest
	case status == http.StatusUnauthorized:
		return core.ErrAuthentication
	case status == http.StatusForbidden:
		return core.ErrPermission
	case status == http.StatusNotFound:
		return core.ErrNotFound
	}
	return core.ErrProvider
}

// UpstreamStatus returns the HTTP status carried by an upstream error.
func UpstreamStatus(err error) (int, bool) {
	var ce *core.Error
	if !errors.As(err, &ce) || ce == nil {
		return 0, false
	}
	s, ok := ce.ProviderError.(StatusError)
	if !ok {
		return 0, false
	}
	return s.StatusCode, true
}
