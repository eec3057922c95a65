package bridge

import "time"

// inboundAudioLimiter meters client audio frames by count and by base64
// payload size. A nil limiter allows everything.
type inboundAudioLimiter struct {
	now          func() time.Time
	fpsRate      int64
	fpsTokens    int64
	bpsRate      int64
	bpsTokens    int64
	burstSeconds int64
	lastRefill   time.Time
}

func newInboundAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundAudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &inboundAudioLimiter{
		now:          now,
		fpsRate:      int64(fps),
		bpsRate:      bps,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	if l.fpsRate > 0 {
		l.fpsTokens = l.fpsRate * l.burstSeconds
	}
	if l.bpsRate > 0 {
		l.bpsTokens = l.bpsRate * l.burstSeconds
	}
	return l
}

func (l *inboundAudioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.fpsRate > 0 && l.fpsTokens < 1 {
		return false
	}
	if l.bpsRate > 0 && l.bpsTokens < int64(frameBytes) {
		return false
	}
	if l.fpsRate > 0 {
		l.fpsTokens--
	}
	if l.bpsRate > 0 {
		l.bpsTokens -= int64(frameBytes)
	}
	return true
}

func (l *inboundAudioLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.fpsTokens = refillTokens(l.fpsTokens, l.fpsRate, l.burstSeconds, elapsed)
	l.bpsTokens = refillTokens(l.bpsTokens, l.bpsRate, l.burstSeconds, elapsed)
	l.lastRefill = now
}

func refillTokens(tokens, rate, burstSeconds int64, elapsed time.Duration) int64 {
	if rate <= 0 {
		return tokens
	}
	tokens += (elapsed.Nanoseconds() * rate) / int64(time.Second)
	if max := rate * burstSeconds; tokens > max {
		tokens = max
	}
	return tokens
}
