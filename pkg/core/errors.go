package core

import (
	"errors"
	"fmt"
)

// Error is the structured error shared by the session core and the gateway.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// Session core taxonomy.
	ErrValidation          ErrorType = "validation_error"
	ErrTransport           ErrorType = "transport_error"
	ErrOrdering            ErrorType = "ordering_error"
	ErrConfiguration       ErrorType = "configuration_error"
	ErrEscalationExhausted ErrorType = "escalation_exhausted"

	// Gateway taxonomy.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// NewValidationError reports tool input that failed its parameter schema.
func NewValidationError(message, param string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
		Param:   param,
	}
}

// NewTransportError wraps a failure at an HTTP or websocket boundary.
func NewTransportError(message string, underlying error) *Error {
	e := &Error{
		Type:    ErrTransport,
		Message: message,
	}
	if underlying != nil {
		e.ProviderError = underlying
	}
	return e
}

// NewOrderingError reports a streamed update for an unknown transcript item.
func NewOrderingError(message, itemID string) *Error {
	return &Error{
		Type:    ErrOrdering,
		Message: message,
		Param:   itemID,
	}
}

// NewConfigurationError reports an invalid agent graph or scenario selection.
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:    ErrConfiguration,
		Message: message,
	}
}

// NewEscalationExhaustedError reports a supervisor loop that hit its bound.
func NewEscalationExhaustedError(message, code string) *Error {
	return &Error{
		Type:    ErrEscalationExhausted,
		Message: message,
		Code:    code,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewProviderError creates an upstream-specific error.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:          ErrProvider,
		Message:       fmt.Sprintf("%s: %v", provider, underlying),
		ProviderError: underlying.Error(),
	}
}

// IsType reports whether err is, or wraps, a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var coreErr *Error
	if !errors.As(err, &coreErr) || coreErr == nil {
		return false
	}
	return coreErr.Type == t
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrTransport:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}
