package gatewayrun

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-agents/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-agents/pkg/gateway/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runnableConfig() config.Config {
	return config.Config{
		Addr:                          "127.0.0.1:0",
		AuthMode:                      config.AuthModeDisabled,
		APIKeys:                       map[string]struct{}{},
		CORSAllowedOrigins:            map[string]struct{}{},
		MaxBodyBytes:                  1 << 20,
		OpenAIAPIKey:                  "sk-test",
		UpstreamBaseURL:               "http://127.0.0.1:1",
		RealtimeModel:                 "gpt-realtime-test",
		SupervisorBackend:             config.BackendResponses,
		GuardrailBackend:              config.BackendResponses,
		LiveMaxJSONMessageBytes:       64 * 1024,
		LiveHandshakeTimeout:          time.Second,
		LiveWSWriteTimeout:            time.Second,
		LiveWSPingInterval:            time.Hour,
		LiveMaxSessionDuration:        time.Minute,
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		HandlerTimeout:                time.Second,
		ShutdownGracePeriod:           time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func TestRun_ConfigLoadFailure(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), quietLogger(), Deps{
		LoadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		NewGateway: func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("NewGateway should not be called when config load fails")
			return nil, nil
		},
		SignalNotify: func(chan<- os.Signal, ...os.Signal) {},
		SignalStop:   func(chan<- os.Signal) {},
	})
	if err == nil || !strings.Contains(err.Error(), "load config: boom") {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_GatewayStartupFailure(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), quietLogger(), Deps{
		LoadConfig: func() (config.Config, error) { return runnableConfig(), nil },
		NewGateway: func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error) {
			return nil, errors.New("bad scenario")
		},
		SignalNotify: func(chan<- os.Signal, ...os.Signal) {},
		SignalStop:   func(chan<- os.Signal) {},
	})
	if err == nil || !strings.Contains(err.Error(), "start gateway: bad scenario") {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_MissingDependencies(t *testing.T) {
	t.Parallel()

	if err := Run(context.Background(), quietLogger(), Deps{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_SignalTriggersGracefulShutdown(t *testing.T) {
	t.Parallel()

	deps := DefaultDeps()
	deps.LoadConfig = func() (config.Config, error) { return runnableConfig(), nil }
	stopped := make(chan struct{})
	deps.SignalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		go func() { c <- os.Interrupt }()
	}
	deps.SignalStop = func(chan<- os.Signal) { close(stopped) }

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), quietLogger(), deps) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after signal")
	}
	select {
	case <-stopped:
	default:
		t.Fatalf("signal handler was not released")
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	t.Parallel()

	deps := DefaultDeps()
	deps.LoadConfig = func() (config.Config, error) { return runnableConfig(), nil }
	deps.SignalNotify = func(chan<- os.Signal, ...os.Signal) {}
	deps.SignalStop = func(chan<- os.Signal) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, quietLogger(), deps) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := BuildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}
