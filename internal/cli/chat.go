package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-agents/pkg/gateway/live/protocol"
)

type chatOptions struct {
	url        string
	scenario   string
	agent      string
	apiKey     string
	greeting   string
	noColor    bool
	showEvents bool
	timeout    time.Duration
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Text chat with a scenario on a running gateway",
		Long:  "Connects to /v1/live, sends each stdin line as a user message and prints the reconciled transcript.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var greeting *string
			if cmd.Flags().Changed("greeting") {
				greeting = &opts.greeting
			}
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts, greeting)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", envDefault("VAI_AGENTS_URL", "ws://localhost:8080/v1/live"), "live websocket URL")
	cmd.Flags().StringVar(&opts.scenario, "scenario", "chatSupervisor", "scenario name")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "starting agent (default: the scenario's entry agent)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", envDefault("VAI_AGENTS_API_KEY", ""), "gateway API key")
	cmd.Flags().StringVar(&opts.greeting, "greeting", "", "greeting sent as the first user message; empty disables it")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable styling")
	cmd.Flags().BoolVar(&opts.showEvents, "events", false, "also print raw event names")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "connect and handshake timeout")
	return cmd
}

type serverFrame struct {
	Type string `json:"type"`
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, opts *chatOptions, greeting *string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	header := http.Header{}
	if opts.apiKey != "" {
		header.Set("Authorization", "Bearer "+opts.apiKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, opts.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", opts.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()

	hello := protocol.ClientHello{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.ProtocolVersion1,
		Scenario:        opts.scenario,
		Agent:           opts.agent,
		Greeting:        greeting,
	}
	if opts.apiKey != "" {
		hello.Auth = &protocol.HelloAuth{APIKey: opts.apiKey}
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(opts.timeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello ack: %w", err)
	}
	var first serverFrame
	if err := json.Unmarshal(raw, &first); err != nil {
		return fmt.Errorf("decode hello ack: %w", err)
	}
	if first.Type == protocol.TypeError {
		var e protocol.ServerError
		_ = json.Unmarshal(raw, &e)
		return fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	if first.Type != protocol.TypeHelloAck {
		return fmt.Errorf("unexpected first frame %q", first.Type)
	}
	var ack protocol.ServerHelloAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("decode hello ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	r := newChatRenderer(out, opts.noColor, opts.showEvents)
	r.Header(ack)

	done := make(chan error, 1)
	go func() { done <- readFrames(conn, r) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeEndSession})
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return endChat(conn, done)
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return endChat(conn, done)
			case "/interrupt":
				err = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeInterrupt})
			default:
				err = conn.WriteJSON(protocol.ClientUserText{Type: protocol.TypeUserText, Text: line})
			}
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func endChat(conn *websocket.Conn, done <-chan error) error {
	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeEndSession}); err != nil {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return nil
	}
}

// readFrames renders server frames until the gateway closes the socket.
// A normal close or a non-fatal error frame ends without error.
func readFrames(conn *websocket.Conn, r *chatRenderer) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("session closed: %s", closeErr.Text)
			}
			return err
		}
		var f serverFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		switch f.Type {
		case protocol.TypeTranscript:
			var m protocol.ServerTranscript
			if json.Unmarshal(raw, &m) == nil {
				r.Transcript(m.Entry)
			}
		case protocol.TypeAgent:
			var m protocol.ServerAgent
			if json.Unmarshal(raw, &m) == nil {
				r.Agent(m.Agent)
			}
		case protocol.TypeEvent:
			var m protocol.ServerEvent
			if json.Unmarshal(raw, &m) == nil {
				r.Event(m.Event)
			}
		case protocol.TypeWarning:
			var m protocol.ServerWarning
			if json.Unmarshal(raw, &m) == nil {
				r.Warning(m.Code, m.Message)
			}
		case protocol.TypeError:
			var m protocol.ServerError
			if json.Unmarshal(raw, &m) == nil {
				r.Error(m.Code, m.Message)
				if m.Close {
					return fmt.Errorf("%s: %s", m.Code, m.Message)
				}
			}
		}
	}
}
