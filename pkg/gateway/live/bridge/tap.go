package bridge

import (
	"context"
	"sync"

	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/realtime"
	"github.com/vango-go/vai-agents/pkg/session"
)

// audioTap passes every inbound event through unchanged and hands assistant
// audio deltas to onAudio on the way.
type audioTap struct {
	inner   session.Transport
	onAudio func(itemID, audioB64 string)
	out     chan types.Inbound
	done    chan struct{}
	once    sync.Once
}

// TapAudio wraps a realtime transport so assistant audio can be relayed to the
// browser while the session keeps consuming the same event stream.
func TapAudio(inner session.Transport, onAudio func(itemID, audioB64 string)) session.Transport {
	t := &audioTap{
		inner:   inner,
		onAudio: onAudio,
		out:     make(chan types.Inbound, 64),
		done:    make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *audioTap) pump() {
	defer close(t.out)
	events := t.inner.Events()
	for {
		select {
		case <-t.done:
			return
		case in, ok := <-events:
			if !ok {
				return
			}
			if itemID, audio, ok := realtime.AudioDelta(in); ok && t.onAudio != nil {
				t.onAudio(itemID, audio)
			}
			select {
			case t.out <- in:
			case <-t.done:
				return
			}
		}
	}
}

func (t *audioTap) Send(ctx context.Context, cmd types.Command) error {
	return t.inner.Send(ctx, cmd)
}

func (t *audioTap) Events() <-chan types.Inbound { return t.out }

func (t *audioTap) Close() error {
	t.once.Do(func() { close(t.done) })
	return t.inner.Close()
}
