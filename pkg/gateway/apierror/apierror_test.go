package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/upstream"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != http.StatusRequestTimeout {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI || ce.Code != "cancelled" || ce.RequestID != "req_test" {
		t.Fatalf("error=%+v", ce)
	}
}

func TestFromError_DeadlineIs504(t *testing.T) {
	_, status := FromError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "req_test")
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_CoreTypes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.NewInvalidRequestError("bad"), http.StatusBadRequest},
		{core.NewValidationError("bad", "item"), http.StatusBadRequest},
		{core.NewNotFoundError("missing"), http.StatusNotFound},
		{core.NewConfigurationError("no key"), http.StatusServiceUnavailable},
		{core.NewTransportError("dial", errors.New("refused")), http.StatusBadGateway},
		{&core.Error{Type: core.ErrOverloaded, Message: "busy"}, StatusOverloaded},
		{core.NewRateLimitError("slow down", 2), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		ce, status := FromError(tt.err, "req_1")
		if status != tt.want {
			t.Fatalf("FromError(%v) status=%d want %d", tt.err, status, tt.want)
		}
		if ce.RequestID != "req_1" {
			t.Fatalf("request id not stamped: %+v", ce)
		}
	}
}

func TestFromError_DoesNotMutateInput(t *testing.T) {
	in := core.NewNotFoundError("missing")
	ce, _ := FromError(in, "req_2")
	if in.RequestID != "" || ce == in {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestFromError_PreservesUpstreamStatus(t *testing.T) {
	err := &core.Error{
		Type:          core.ErrProvider,
		Message:       "teapot",
		ProviderError: upstream.StatusError{StatusCode: http.StatusTeapot},
	}
	_, status := FromError(err, "")
	if status != http.StatusTeapot {
		t.Fatalf("status=%d, want upstream 418", status)
	}
}

func TestFromError_UnknownIsOpaque(t *testing.T) {
	ce, status := FromError(errors.New("db password is hunter2"), "req_3")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("error=%+v status=%d", ce, status)
	}
}
