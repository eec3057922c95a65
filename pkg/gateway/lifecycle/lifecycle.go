// Package lifecycle tracks process state shared across handlers during
// graceful shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	draining atomic.Bool
	started  time.Time
}

func New(now time.Time) *Lifecycle {
	return &Lifecycle{started: now}
}

// SetDraining reports whether this call changed the state.
func (l *Lifecycle) SetDraining(draining bool) bool {
	if l == nil {
		return false
	}
	return l.draining.Swap(draining) != draining
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) Uptime(now time.Time) time.Duration {
	if l == nil || l.started.IsZero() {
		return 0
	}
	return now.Sub(l.started)
}
