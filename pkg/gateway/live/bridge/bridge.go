// Package bridge runs one browser websocket against a voice session. Client
// frames drive the session; transcript changes, event-log records and
// assistant audio stream back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-agents/pkg/session"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

// Conn is the browser side of the bridge. *websocket.Conn satisfies it.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
}

type Config struct {
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	MaxSessionDuration time.Duration

	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int

	OutboundQueueSize int
}

// End reasons reported by Run.
const (
	EndClient   = "client_ended"
	EndUpstream = "upstream_closed"
	EndTimeout  = "timeout"
	EndShutdown = "shutdown"
	EndError    = "error"
)

var errBackpressure = errors.New("live outbound queue is full")

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type Bridge struct {
	conn   Conn
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	priority chan outboundFrame
	normal   chan outboundFrame

	mu    sync.Mutex
	agent string

	overflow chan struct{}

	droppedAudio atomic.Int64
}

func New(conn Conn, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.OutboundQueueSize
	if size <= 0 {
		size = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		priority: make(chan outboundFrame, 8),
		normal:   make(chan outboundFrame, size),
		overflow: make(chan struct{}, 1),
	}
}

// SendAudio relays one assistant audio delta. Audio is dropped, not queued,
// when the client falls behind.
func (b *Bridge) SendAudio(itemID, audioB64 string) {
	if err := b.sendJSON(protocol.ServerAudio{Type: protocol.TypeAudio, ItemID: itemID, AudioB64: audioB64}); err != nil {
		b.droppedAudio.Add(1)
	}
}

func (b *Bridge) SendWarning(code, message string) error {
	return b.sendPriority(protocol.ServerWarning{Type: protocol.TypeWarning, Code: code, Message: message})
}

// Close ends Run from outside, e.g. at shutdown.
func (b *Bridge) Close() {
	b.cancel()
}

// DroppedAudio counts audio frames discarded for backpressure.
func (b *Bridge) DroppedAudio() int64 { return b.droppedAudio.Load() }

// Run starts sess and pumps frames until the client ends the session, the
// upstream closes, the maximum duration elapses or Close is called. It
// closes sess before returning and reports why the session ended.
func (b *Bridge) Run(sess *session.Session, opts session.StartOptions) (string, error) {
	defer b.cancel()

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:           b.conn,
			ctx:          b.ctx,
			pingInterval: b.cfg.PingInterval,
			writeTimeout: b.cfg.WriteTimeout,
			priority:     b.priority,
			normal:       b.normal,
		}
		writerErrCh <- w.Run()
	}()
	defer func() {
		b.cancel()
		wait := 250 * time.Millisecond
		if b.cfg.WriteTimeout > 0 && b.cfg.WriteTimeout < wait {
			wait = b.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
	}()

	b.mu.Lock()
	b.agent = sess.ActiveAgent()
	b.mu.Unlock()

	sess.Transcript().Subscribe(func(e transcript.Entry) {
		b.forward(protocol.ServerTranscript{Type: protocol.TypeTranscript, Entry: e})
		b.syncAgent(sess.ActiveAgent())
	})
	sess.EventLog().AddSink(eventlog.SinkFunc(func(_ context.Context, ev eventlog.Event) error {
		b.forward(protocol.ServerEvent{Type: protocol.TypeEvent, Event: ev})
		return nil
	}))

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- sess.Run(b.ctx) }()
	defer func() {
		_ = sess.Close()
		sess.Wait()
	}()

	if err := sess.Start(b.ctx, opts); err != nil {
		b.sendError(errorCode(err), "failed to start session", true)
		return EndError, err
	}

	readCh := make(chan inboundFrame, 16)
	go b.readLoop(readCh)

	limiter := newInboundAudioLimiter(b.now, b.cfg.MaxAudioFPS, b.cfg.MaxAudioBytesPerSecond, b.cfg.InboundBurstSeconds)

	var timeout <-chan time.Time
	if b.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(b.cfg.MaxSessionDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-b.overflow:
			b.sendError("slow_consumer", "client cannot keep up with session updates", true)
			return EndError, errBackpressure
		default:
		}
		select {
		case <-b.ctx.Done():
			return EndShutdown, nil
		case <-b.overflow:
			b.sendError("slow_consumer", "client cannot keep up with session updates", true)
			return EndError, errBackpressure
		case err := <-writerErrCh:
			if b.ctx.Err() != nil {
				return EndShutdown, nil
			}
			return EndError, err
		case err := <-sessionDone:
			if b.ctx.Err() != nil {
				return EndShutdown, nil
			}
			b.sendError("upstream_closed", "realtime connection closed", true)
			return EndUpstream, err
		case <-timeout:
			_ = b.SendWarning("session_timeout", "maximum session duration reached")
			return EndTimeout, nil
		case frame, ok := <-readCh:
			if b.ctx.Err() != nil {
				return EndShutdown, nil
			}
			if !ok || frame.err != nil {
				return EndClient, nil
			}
			if frame.messageType != websocket.TextMessage {
				b.sendError("bad_request", "binary frames are not supported", true)
				return EndError, nil
			}
			msg, err := protocol.DecodeClientMessage(frame.data)
			if err != nil {
				code := "bad_request"
				var de *protocol.DecodeError
				if errors.As(err, &de) {
					code = de.Code
				}
				b.sendError(code, err.Error(), false)
				continue
			}
			if m, ok := msg.(protocol.ClientAudio); ok && !limiter.Allow(len(m.AudioB64)) {
				b.sendError("rate_limited", "inbound audio rate limit exceeded", true)
				return EndError, nil
			}
			end, err := b.handle(sess, msg)
			if err != nil {
				fatal := !core.IsType(err, core.ErrValidation)
				b.sendError(errorCode(err), err.Error(), fatal)
				if fatal {
					return EndError, err
				}
				continue
			}
			if end {
				_ = b.SendWarning("session_end", "session ending by client request")
				return EndClient, nil
			}
		}
	}
}

func (b *Bridge) handle(sess *session.Session, msg any) (end bool, err error) {
	ctx := b.ctx
	switch m := msg.(type) {
	case protocol.ClientUserText:
		return false, sess.SendUserText(ctx, m.Text)
	case protocol.ClientAudio:
		return false, sess.AppendAudio(ctx, m.AudioB64)
	case protocol.ClientPushToTalk:
		return false, sess.SetPushToTalk(ctx, m.Enabled)
	case protocol.ClientHello:
		return false, core.NewValidationError("hello was already received", "type")
	case protocol.ClientControl:
		switch m.Type {
		case protocol.TypePTTStart:
			return false, sess.StartTalking(ctx)
		case protocol.TypePTTStop:
			return false, sess.StopTalking(ctx)
		case protocol.TypeInterrupt:
			return false, sess.Interrupt(ctx)
		case protocol.TypeEndSession:
			return true, nil
		}
	}
	return false, nil
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-b.ctx.Done():
			return
		}
	}
}

// forward queues a state frame. A full queue signals Run, which closes the
// session rather than let the client drift.
func (b *Bridge) forward(v any) {
	if err := b.sendJSON(v); err != nil {
		select {
		case b.overflow <- struct{}{}:
		default:
		}
	}
}

func (b *Bridge) syncAgent(current string) {
	b.mu.Lock()
	changed := current != "" && current != b.agent
	if changed {
		b.agent = current
	}
	b.mu.Unlock()
	if changed {
		b.forward(protocol.ServerAgent{Type: protocol.TypeAgent, Agent: current})
	}
}

func (b *Bridge) sendError(code, message string, close bool) {
	_ = b.sendPriority(protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message, Close: close})
}

func (b *Bridge) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-b.ctx.Done():
		return context.Canceled
	default:
	}
	select {
	case b.normal <- outboundFrame{payload: payload}:
		return nil
	default:
		return errBackpressure
	}
}

// sendPriority evicts older priority frames rather than block.
func (b *Bridge) sendPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := outboundFrame{payload: payload}
	for i := 0; i < 4; i++ {
		select {
		case b.priority <- frame:
			return nil
		default:
		}
		select {
		case <-b.priority:
		default:
		}
	}
	return errBackpressure
}

func errorCode(err error) string {
	switch {
	case core.IsType(err, core.ErrValidation), core.IsType(err, core.ErrInvalidRequest):
		return "bad_request"
	case core.IsType(err, core.ErrTransport):
		return "upstream_error"
	case core.IsType(err, core.ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}
