// Package gatewayrun owns the gateway process lifecycle shared by the
// vai-agents-gateway binary and `vai-agents serve`.
package gatewayrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-agents/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-agents/pkg/gateway/server"
)

type Deps struct {
	LoadConfig   func() (config.Config, error)
	NewGateway   func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error)
	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)
}

func DefaultDeps() Deps {
	return Deps{
		LoadConfig: config.LoadFromEnv,
		NewGateway: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			return gatewayserver.New(ctx, cfg, logger)
		},
		SignalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		SignalStop: signal.Stop,
	}
}

func BuildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// Run serves until ctx is done, the listener fails or a SIGINT/SIGTERM
// arrives. On a signal it drains: open live sessions are warned and get
// ShutdownGracePeriod to finish before being closed.
func Run(ctx context.Context, logger *slog.Logger, deps Deps) error {
	if deps.LoadConfig == nil {
		return errors.New("missing LoadConfig dependency")
	}
	if deps.NewGateway == nil {
		return errors.New("missing NewGateway dependency")
	}
	if deps.SignalNotify == nil || deps.SignalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := deps.NewGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("close gateway", "error", err)
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := gw.WatchScenarios(watchCtx); err != nil {
			logger.Warn("scenario watcher stopped", "error", err)
		}
	}()

	httpSrv := BuildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"scenarios", len(gw.Scenarios().Load().Names()),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.SignalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.SignalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = httpSrv.Close()
		gw.CancelLiveSessions()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}
