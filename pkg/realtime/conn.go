package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
)

const DefaultURL = "wss://api.openai.com/v1/realtime"

type DialConfig struct {
	URL    string
	Model  string
	APIKey string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	EventBuffer      int

	Logger *slog.Logger
}

// Conn is a client connection to the realtime service. It satisfies the
// session Transport contract.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	events    chan types.Inbound
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a realtime websocket and starts the read loop.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.NewConfigurationError("realtime api key is required")
	}
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, core.NewConfigurationError(fmt.Sprintf("invalid realtime url: %v", err))
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	if header.Get("OpenAI-Beta") == "" {
		header.Set("OpenAI-Beta", "realtime=v1")
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, core.NewTransportError(fmt.Sprintf("realtime dial failed with status %d", resp.StatusCode), err)
		}
		return nil, core.NewTransportError("realtime dial failed", err)
	}
	return newConn(ws, cfg), nil
}

func newConn(ws *websocket.Conn, cfg DialConfig) *Conn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	c := &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		events:       make(chan types.Inbound, buf),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events yields decoded server events. The channel is closed when the
// connection ends.
func (c *Conn) Events() <-chan types.Inbound {
	return c.events
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("realtime read failed", "error", err)
				}
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		in, err := DecodeServerEvent(data)
		if err != nil {
			c.logger.Warn("realtime frame dropped", "error", err)
			continue
		}
		select {
		case c.events <- in:
		case <-c.done:
			return
		}
	}
}

// Send encodes and writes one client frame.
func (c *Conn) Send(ctx context.Context, cmd types.Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return core.NewInvalidRequestError(err.Error())
	}
	select {
	case <-c.done:
		return core.NewTransportError("realtime connection closed", nil)
	default:
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.NewTransportError("realtime write failed", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. It is safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}
