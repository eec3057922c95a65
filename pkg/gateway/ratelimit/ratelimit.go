// Package ratelimit is a single-process, per-principal limiter: a token
// bucket for HTTP requests plus concurrency caps for in-flight requests and
// live voice sessions.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxLiveSessions       int

	// Bounds for the in-memory principal map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*bucket
}

type bucket struct {
	mu sync.Mutex

	tokens float64
	filled time.Time
	primed bool

	requests chan struct{}
	sessions chan struct{}

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*bucket),
	}
}

// PrincipalKeyFromAPIKey hashes a gateway key so raw keys never become map
// keys or log fields.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

func PrincipalKeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip_" + hex.EncodeToString(sum[:12])
}

type Permit struct {
	once    sync.Once
	release func()
}

// Release is idempotent and nil-safe.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	b := l.lookup(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := b.take(now, l.cfg.RPS, l.cfg.Burst); !ok {
			return Decision{RetryAfter: retryAfter}
		}
	}
	if l.cfg.MaxConcurrentRequests <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	return acquireSlot(b.requests)
}

// AcquireSession caps concurrent live sessions per principal.
func (l *Limiter) AcquireSession(principal string, now time.Time) Decision {
	b := l.lookup(principal, now)
	if l.cfg.MaxLiveSessions <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	return acquireSlot(b.sessions)
}

func acquireSlot(sem chan struct{}) Decision {
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

func (l *Limiter) lookup(principal string, now time.Time) *bucket {
	if principal == "" {
		principal = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.m[principal]; ok {
		b.lastSeen = now
		return b
	}
	if len(l.m) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}
	b := &bucket{
		requests: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		sessions: make(chan struct{}, max(1, l.cfg.MaxLiveSessions)),
		lastSeen: now,
	}
	l.m[principal] = b
	return b
}

// evictLocked drops idle principals; when none are idle it drops an arbitrary
// one so memory stays bounded.
func (l *Limiter) evictLocked(now time.Time) {
	for k, b := range l.m {
		if now.Sub(b.lastSeen) > l.cfg.EntryTTL && len(b.requests) == 0 && len(b.sessions) == 0 {
			delete(l.m, k)
		}
	}
	if len(l.m) < l.cfg.MaxEntries {
		return
	}
	for k := range l.m {
		delete(l.m, k)
		return
	}
}

func (b *bucket) take(now time.Time, rps float64, burst int) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := float64(burst)
	if !b.primed {
		b.tokens, b.filled, b.primed = capacity, now, true
	}
	if elapsed := now.Sub(b.filled).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rps)
		b.filled = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	retryAfter := int(math.Ceil((1 - b.tokens) / rps))
	return false, max(1, retryAfter)
}

// Active reports how many live sessions principal holds.
func (l *Limiter) Active(principal string) int {
	l.mu.Lock()
	b, ok := l.m[principal]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return len(b.sessions)
}
