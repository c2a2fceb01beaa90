package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/history"
	"github.com/slipway-ci/slipway/internal/logger"
	"github.com/slipway-ci/slipway/internal/models"
	"github.com/slipway-ci/slipway/internal/server"
	"github.com/slipway-ci/slipway/internal/steps"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <pipeline-file-or-directory>...",
		Short: "Run the webhook listener",
		Long: `Run slipway as a webhook listener.

The listener receives signed release webhooks, verifies their HMAC
signature against the shared secret, and executes every loaded pipeline
whose trigger matches the event. Runs execute one at a time.

The secret is read from the environment variable named by
serve.webhook_secret_env (default SLIPWAY_WEBHOOK_SECRET). The listener
refuses to start without it.

Endpoints:
  POST /webhook   signed event intake
  GET  /healthz   liveness probe
  GET  /metrics   Prometheus metrics (when enabled)`,
		Args:         cobra.MinimumNArgs(1),
		RunE:         serveCommand,
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")
	cmd.Flags().String("addr", "", "Listen address (overrides serve.addr)")
	cmd.Flags().String("log-level", "", "Log verbosity: trace, debug, info, warn, error")

	return cmd
}

// serveCommand implements the serve command logic
func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &logLevel
	}
	cfg.MergeWithFlags(nil, logLevelPtr, nil, nil, nil)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := cfg.Serve.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}

	secret := os.Getenv(cfg.Serve.WebhookSecretEnv)
	if secret == "" {
		return fmt.Errorf("webhook secret not set: export %s", cfg.Serve.WebhookSecretEnv)
	}

	pipelines, err := loadPipelines(args, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d pipeline(s) on %s\n", len(pipelines), addr)

	log := logger.Logger(logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel))
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.LogWarn(fmt.Sprintf("File logging disabled: %v", err))
	} else {
		defer fileLog.Close()
		log = logger.NewMultiLogger(log, fileLog)
	}

	builtins, err := steps.DefaultRegistry(steps.Deps{Config: cfg})
	if err != nil {
		return fmt.Errorf("failed to build step registry: %w", err)
	}

	runner := executor.NewRunner(executor.Options{
		Builtins:    builtins,
		Logger:      log,
		WorkDir:     cfg.WorkDir,
		StepTimeout: cfg.StepTimeout,
	})

	var metrics *server.Metrics
	if cfg.Serve.MetricsEnabled {
		metrics = server.NewMetrics()
	}

	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		log.LogWarn(fmt.Sprintf("Run history disabled: %v", err))
		store = nil
	} else {
		defer store.Close()
	}

	srv, err := server.New(server.Options{
		Pipelines: pipelines,
		Runner:    &recordingRunner{runner: runner, store: store, log: log},
		Secret:    []byte(secret),
		Logger:    log,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx, addr)
}

// recordingRunner persists every started run to the history store.
type recordingRunner struct {
	runner *executor.Runner
	store  *history.Store
	log    logger.Logger
}

func (r *recordingRunner) Execute(ctx context.Context, pipeline *models.Pipeline, event *models.Event) (*models.RunResult, error) {
	result, err := r.runner.Execute(ctx, pipeline, event)
	if result != nil && r.store != nil {
		if recErr := r.store.RecordRun(context.Background(), result); recErr != nil {
			r.log.LogWarn(fmt.Sprintf("Failed to record run: %v", recErr))
		}
	}
	return result, err
}
