package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/gateway/principal"
	"github.com/vango-go/vai-agents/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-agents/pkg/metrics"
)

// RateLimit applies the per-principal request budget. Health checks, preflights and
// live upgrades skip it; live sessions have their own cap.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isHealthPath(r.URL.Path) || r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(p.Key, time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit("request")
			reqID, _ := RequestIDFrom(r.Context())
			coreErr := &core.Error{
				Type:      core.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			}
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				retry := dec.RetryAfter
				coreErr.RetryAfter = &retry
			}
			writeJSONError(w, http.StatusTooManyRequests, coreErr)
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
