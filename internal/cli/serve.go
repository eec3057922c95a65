package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/vango-go/vai-agents/internal/dotenv"
	"github.com/vango-go/vai-agents/internal/gatewayrun"
	"github.com/vango-go/vai-agents/pkg/gateway/config"
)

type serveOptions struct {
	envFile     string
	addr        string
	scenarioDir string
	eventLogDir string
	jsonLogs    bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Runs the HTTP and live websocket gateway. Configuration comes from the environment (and an optional .env file); flags override it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, gatewayrun.DefaultDeps())
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides VAI_AGENTS_ADDR)")
	cmd.Flags().StringVar(&opts.scenarioDir, "scenario-dir", "", "scenario override directory (overrides VAI_AGENTS_SCENARIO_DIR)")
	cmd.Flags().StringVar(&opts.eventLogDir, "event-log-dir", "", "per-session JSONL directory (overrides VAI_AGENTS_EVENTLOG_DIR)")
	cmd.Flags().BoolVar(&opts.jsonLogs, "json-logs", false, "emit JSON logs instead of text")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions, deps gatewayrun.Deps) error {
	if err := dotenv.LoadFile(opts.envFile); err != nil {
		return err
	}

	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), nil)
	if opts.jsonLogs {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), nil)
	}
	logger := slog.New(handler)

	load := deps.LoadConfig
	if load == nil {
		load = config.LoadFromEnv
	}
	deps.LoadConfig = func() (config.Config, error) {
		cfg, err := load()
		if err != nil {
			return cfg, err
		}
		if opts.addr != "" {
			cfg.Addr = opts.addr
		}
		if opts.scenarioDir != "" {
			cfg.ScenarioDir = opts.scenarioDir
		}
		if opts.eventLogDir != "" {
			cfg.EventLogDir = opts.eventLogDir
		}
		return cfg, nil
	}
	return gatewayrun.Run(cmd.Context(), logger, deps)
}
