// Package upstream is the HTTP client for the hosted realtime/responses
// service. It holds the long-lived credential; callers outside the gateway
// never see it.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-agents/pkg/core"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	// maxResponseBytes bounds how much of an upstream body is buffered.
	maxResponseBytes = 8 << 20
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimRight(strings.TrimSpace(baseURL), "/"); s != "" {
			c.baseURL = s
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Configured reports whether a credential is present.
func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// CreateResponse posts body to /responses.
func (c *Client) CreateResponse(ctx context.Context, body any) ([]byte, error) {
	return c.PostJSON(ctx, "/responses", body)
}

// CreateRealtimeSession exchanges the credential for an ephemeral session.
func (c *Client) CreateRealtimeSession(ctx context.Context, body any) ([]byte, error) {
	return c.PostJSON(ctx, "/realtime/sessions", body)
}

// PostJSON marshals body (raw bytes are sent as-is), posts it to path and
// returns the response body. Non-success statuses become *core.Error.
func (c *Client) PostJSON(ctx context.Context, path string, body any) ([]byte, error) {
	if !c.Configured() {
		return nil, core.NewConfigurationError("upstream api key is not configured")
	}

	var payload []byte
	switch b := body.(type) {
	case []byte:
		payload = b
	case json.RawMessage:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewTransportError("upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, core.NewTransportError("read upstream response", err)
	}
	return respBody, nil
}
