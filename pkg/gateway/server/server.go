// Package server wires the gateway: upstream clients, scenario catalog,
// event sinks, routes and middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/gateway/handlers"
	"github.com/vango-go/vai-agents/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agents/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-agents/pkg/gateway/mw"
	"github.com/vango-go/vai-agents/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-agents/pkg/guardrail"
	"github.com/vango-go/vai-agents/pkg/metrics"
	"github.com/vango-go/vai-agents/pkg/scenarios"
	"github.com/vango-go/vai-agents/pkg/supervisor"
	"github.com/vango-go/vai-agents/pkg/upstream"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics      *metrics.Metrics
	upstream     *upstream.Client
	limiter      *ratelimit.Limiter
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker

	toolkit   scenarios.Toolkit
	scenarios *scenarios.Holder
	guardrail *guardrail.Pipeline
	eventSink eventlog.Sink
	dial      handlers.RealtimeDialer

	closers []io.Closer
}

type Option func(*Server)

// WithMetrics replaces the default registry, e.g. to share it across tests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRealtimeDialer replaces the realtime websocket dialer.
func WithRealtimeDialer(d handlers.RealtimeDialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithResponder replaces the supervisor model client chosen from config.
func WithResponder(r supervisor.Responder) Option {
	return func(s *Server) { s.toolkit.Responder = r }
}

// WithClassifier replaces the guardrail classifier chosen from config.
func WithClassifier(c guardrail.Classifier) Option {
	return func(s *Server) { s.guardrail = &guardrail.Pipeline{Classifier: c} }
}

// New builds the gateway. It loads the scenario catalog and opens the SQL
// event sink, so configuration mistakes surface before the listener starts.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}

	upstreamOpts := []upstream.Option{upstream.WithHTTPClient(httpClient)}
	if strings.TrimSpace(cfg.UpstreamBaseURL) != "" {
		upstreamOpts = append(upstreamOpts, upstream.WithBaseURL(cfg.UpstreamBaseURL))
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		upstream:     upstream.New(cfg.OpenAIAPIKey, upstreamOpts...),
		lifecycle:    lifecycle.New(time.Now()),
		liveSessions: sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxLiveSessions:       cfg.LiveMaxSessionsPerPrincipal,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics("vai_agents")
	}

	if err := s.initSupervisor(ctx); err != nil {
		return nil, err
	}
	if err := s.initGuardrail(ctx); err != nil {
		return nil, err
	}

	catalog, err := scenarios.Load(cfg.ScenarioDir, s.toolkit)
	if err != nil {
		return nil, fmt.Errorf("load scenarios: %w", err)
	}
	s.scenarios = scenarios.NewHolder(catalog)

	if err := s.initEventSink(ctx); err != nil {
		return nil, err
	}

	s.routes()
	return s, nil
}

func (s *Server) initSupervisor(ctx context.Context) error {
	s.toolkit.SupervisorModel = s.cfg.SupervisorModel
	s.toolkit.MaxIterations = s.cfg.SupervisorMaxIterations
	s.toolkit.SupervisorTimeout = s.cfg.SupervisorTimeout
	s.toolkit.Logger = s.logger
	s.toolkit.Metrics = s.metrics
	if s.toolkit.Responder != nil {
		return nil
	}

	switch s.cfg.SupervisorBackend {
	case config.BackendGemini:
		r, err := supervisor.NewGeminiResponder(ctx, s.cfg.GeminiAPIKey, s.cfg.SupervisorModel, s.cfg.GeminiBaseURL)
		if err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
		s.toolkit.Responder = r
	default:
		s.toolkit.Responder = &supervisor.ResponsesResponder{API: s.upstream}
	}
	return nil
}

func (s *Server) initGuardrail(ctx context.Context) error {
	if s.guardrail == nil {
		var classifier guardrail.Classifier
		switch s.cfg.GuardrailBackend {
		case config.BackendGemini:
			c, err := guardrail.NewGeminiClassifier(ctx, s.cfg.GeminiAPIKey, s.cfg.GuardrailModel, s.cfg.GeminiBaseURL)
			if err != nil {
				return fmt.Errorf("guardrail: %w", err)
			}
			classifier = c
		default:
			classifier = &guardrail.ResponsesClassifier{API: s.upstream, Model: s.cfg.GuardrailModel}
		}
		s.guardrail = &guardrail.Pipeline{Classifier: classifier}
	}
	s.guardrail.CompanyName = s.cfg.CompanyName
	s.guardrail.FailClosed = s.cfg.GuardrailFailClosed
	s.guardrail.Timeout = s.cfg.GuardrailTimeout
	s.guardrail.Logger = s.logger
	s.guardrail.Metrics = s.metrics
	return nil
}

func (s *Server) initEventSink(ctx context.Context) error {
	backend, err := config.ParseEventLogDSN(s.cfg.EventLogDSN)
	if err != nil {
		return err
	}
	var sink *eventlog.SQLSink
	switch backend {
	case config.EventLogNone:
		return nil
	case config.EventLogSQLite:
		sink, err = eventlog.OpenSQLite(ctx, config.SQLitePath(s.cfg.EventLogDSN))
	case config.EventLogPostgres:
		sink, err = eventlog.OpenPostgres(ctx, s.cfg.EventLogDSN)
	}
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	s.eventSink = sink
	s.closers = append(s.closers, sink)
	s.logger.Info("event log sink ready", "backend", string(backend))
	return nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:       s.cfg,
		Lifecycle:    s.lifecycle,
		Scenarios:    s.scenarios,
		LiveSessions: s.liveSessions,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/api/session", handlers.SessionHandler{
		Config:   s.cfg,
		Upstream: s.upstream,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	s.mux.Handle("/api/responses", handlers.ResponsesHandler{
		Config:   s.cfg,
		Upstream: s.upstream,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	s.mux.Handle("/v1/scenarios", handlers.ScenariosHandler{Scenarios: s.scenarios})
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Scenarios:    s.scenarios,
		Logger:       s.logger,
		Metrics:      s.metrics,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
		Guardrail:    s.guardrail,
		EventSink:    s.eventSink,
		Dial:         s.dial,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, s.metrics, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}

// Scenarios exposes the live catalog holder.
func (s *Server) Scenarios() *scenarios.Holder { return s.scenarios }

// WatchScenarios hot-reloads the override directory until ctx is done. It
// returns immediately when no directory is configured.
func (s *Server) WatchScenarios(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.ScenarioDir) == "" {
		return nil
	}
	w := &scenarios.Watcher{
		Dir:     s.cfg.ScenarioDir,
		Holder:  s.scenarios,
		Toolkit: s.toolkit,
		Logger:  s.logger,
	}
	return w.Run(ctx)
}

func (s *Server) SetDraining() {
	if s.lifecycle.SetDraining(true) {
		s.logger.Info("gateway draining")
	}
}

func (s *Server) WarnLiveSessionsDraining() {
	if n := s.liveSessions.WarnAll("draining", "gateway is shutting down"); n > 0 {
		s.logger.Info("warned live sessions", "count", n)
	}
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() {
	if n := s.liveSessions.CloseAll(); n > 0 {
		s.logger.Warn("closed live sessions after grace period", "count", n)
	}
}

// Close releases shared sinks. Call after live sessions have ended.
func (s *Server) Close() error {
	var errs []error
	closers := s.closers
	s.closers = nil
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
