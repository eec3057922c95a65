// Package metrics holds the Prometheus metrics for sessions and the gateway.
// Every Record method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// Gateway requests
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UpstreamErrors  *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	// Live sessions
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram

	// Orchestration
	ToolCallsTotal       *prometheus.CounterVec
	ToolCallDuration     *prometheus.HistogramVec
	HandoffsTotal        *prometheus.CounterVec
	GuardrailTotal       *prometheus.CounterVec
	SupervisorIterations prometheus.Histogram
	SupervisorTotal      *prometheus.CounterVec
	EventsTotal          *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_agents"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of gateway requests",
		}, []string{"endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Non-success responses from the upstream service",
		}, []string{"endpoint", "status"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		}, []string{"limit_type"}),
		LiveSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of active live sessions",
		}),
		LiveSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of live sessions",
		}, []string{"scenario", "status"}),
		LiveSessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by outcome",
		}, []string{"agent", "tool", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool"}),
		HandoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_handoffs_total",
			Help:      "Agent handoffs by source and target",
		}, []string{"from", "to"}),
		GuardrailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_classifications_total",
			Help:      "Guardrail outcomes; classifier errors are counted under outcome=error",
		}, []string{"category", "outcome"}),
		SupervisorIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "supervisor_iterations",
			Help:      "Requests issued per supervisor escalation",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		SupervisorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_escalations_total",
			Help:      "Supervisor escalations by outcome",
		}, []string{"outcome"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Logged protocol events by direction",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.UpstreamErrors,
		m.RateLimitHits,
		m.LiveSessionsActive,
		m.LiveSessionsTotal,
		m.LiveSessionDuration,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.HandoffsTotal,
		m.GuardrailTotal,
		m.SupervisorIterations,
		m.SupervisorTotal,
		m.EventsTotal,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordUpstreamError(endpoint string, status int) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

func (m *Metrics) RecordLiveSessionEnd(scenario, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(scenario, status).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordToolCall(agent, tool string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.ToolCallsTotal.WithLabelValues(agent, tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (m *Metrics) RecordHandoff(from, to string) {
	if m == nil {
		return
	}
	m.HandoffsTotal.WithLabelValues(from, to).Inc()
}

// RecordGuardrail counts one classification. outcome is "pass", "tripped" or
// "error".
func (m *Metrics) RecordGuardrail(category, outcome string) {
	if m == nil {
		return
	}
	m.GuardrailTotal.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) RecordSupervisor(outcome string, iterations int) {
	if m == nil {
		return
	}
	m.SupervisorTotal.WithLabelValues(outcome).Inc()
	m.SupervisorIterations.Observe(float64(iterations))
}

func (m *Metrics) RecordEvent(direction string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(direction).Inc()
}
