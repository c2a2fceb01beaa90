package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/history"
	"github.com/slipway-ci/slipway/internal/logger"
	"github.com/slipway-ci/slipway/internal/models"
	"github.com/slipway-ci/slipway/internal/parser"
	"github.com/slipway-ci/slipway/internal/steps"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline-file-or-directory>...",
		Short: "Execute release pipelines for an event",
		Long: `Execute one or more release pipelines against a triggering event.

The run command parses the specified pipeline file(s) or directory,
builds the event from flags, and executes each pipeline whose trigger
matches. Jobs run in dependency order; within a job, steps run
sequentially and fail fast.

Without event flags the run is treated as a manual invocation, which
only pipelines declaring "manual: true" react to. Use --allow-manual to
force execution regardless of the trigger.

Configuration is loaded from .slipway/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  # React to a published release
  slipway run --event release --action published --tag v1.2.3 release.yaml

  # Tag push event against every pipeline in a directory
  slipway run --event tag --tag v1.2.3 .slipway/pipelines/

  # Manual invocation, overriding the trigger
  slipway run --allow-manual release.yaml

  # Other options
  slipway run --dry-run release.yaml       # Resolve the plan without executing
  slipway run --timeout 10m release.yaml   # Cap each step at 10 minutes
  slipway run --log-level debug release.yaml
  slipway run --config custom.yaml release.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCommand,
	}

	// Add flags
	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")
	cmd.Flags().String("event", models.EventManual, "Event kind: release, tag, or manual")
	cmd.Flags().String("action", "", "Release action (published, created, prereleased)")
	cmd.Flags().String("tag", "", "Tag name, e.g. v1.2.3")
	cmd.Flags().String("commit", "", "Commit SHA the event points at")
	cmd.Flags().String("repo", "", "Source repository as owner/name")
	cmd.Flags().Bool("allow-manual", false, "Execute even when the event does not match the trigger")
	cmd.Flags().Bool("dry-run", false, "Resolve and print the plan without executing steps")
	cmd.Flags().String("timeout", "", "Maximum execution time per step (e.g., 30s, 10m)")
	cmd.Flags().String("log-level", "", "Log verbosity: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for run log files")
	cmd.Flags().String("work-dir", "", "Checkout and build working directory")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	// Build flag pointers for merge (only changed values)
	var timeoutPtr *time.Duration
	if cmd.Flags().Changed("timeout") {
		timeoutStr, _ := cmd.Flags().GetString("timeout")
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("invalid timeout format %q: %w", timeoutStr, err)
		}
		timeoutPtr = &timeout
	}

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &logLevel
	}

	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		logDir, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &logDir
	}

	var workDirPtr *string
	if cmd.Flags().Changed("work-dir") {
		workDir, _ := cmd.Flags().GetString("work-dir")
		workDirPtr = &workDir
	}

	var dryRunPtr *bool
	if cmd.Flags().Changed("dry-run") {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		dryRunPtr = &dryRun
	}

	// Merge CLI flags with config (flags take precedence)
	cfg.MergeWithFlags(timeoutPtr, logLevelPtr, logDirPtr, workDirPtr, dryRunPtr)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	event, err := eventFromFlags(cmd)
	if err != nil {
		return err
	}
	allowManual, _ := cmd.Flags().GetBool("allow-manual")

	pipelines, err := loadPipelines(args, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	// Console output always; file log is best-effort
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
		DryRun:      cfg.DryRun,
		Force:       allowManual,
	})

	var store *history.Store
	if !cfg.DryRun {
		store, err = history.NewStore(cfg.HistoryPath)
		if err != nil {
			log.LogWarn(fmt.Sprintf("Run history disabled: %v", err))
		} else {
			defer store.Close()
		}
	}

	var failed, matched int
	for _, pipeline := range pipelines {
		result, err := runner.Execute(cmd.Context(), pipeline, event)
		if errors.Is(err, executor.ErrTriggerNotMatched) {
			log.LogInfo(fmt.Sprintf("Pipeline %s does not react to %s, skipping", pipeline.Name, event))
			continue
		}
		matched++
		if result != nil && store != nil {
			if recErr := store.RecordRun(context.Background(), result); recErr != nil {
				log.LogWarn(fmt.Sprintf("Failed to record run: %v", recErr))
			}
		}
		if err != nil {
			return err
		}
		if result.Status == models.StatusFailed {
			failed++
		}
	}

	if matched == 0 {
		return fmt.Errorf("no pipeline reacts to %s (use --allow-manual to override)", event)
	}
	if failed > 0 {
		return fmt.Errorf("%d pipeline run(s) failed", failed)
	}
	return nil
}

// loadConfigFromFlags loads config from --config or the default location
func loadConfigFromFlags(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfigFromDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// eventFromFlags builds and validates the triggering event
func eventFromFlags(cmd *cobra.Command) (*models.Event, error) {
	kind, _ := cmd.Flags().GetString("event")
	action, _ := cmd.Flags().GetString("action")
	tag, _ := cmd.Flags().GetString("tag")
	commit, _ := cmd.Flags().GetString("commit")
	repo, _ := cmd.Flags().GetString("repo")

	// "release" without an explicit action means the common case
	if kind == models.EventRelease && action == "" {
		action = models.ActionPublished
	}

	event := &models.Event{
		Kind:       kind,
		Action:     action,
		Tag:        tag,
		Commit:     commit,
		Repo:       repo,
		ReceivedAt: time.Now(),
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// loadPipelines resolves args into parsed pipelines. A single file arg
// is parsed directly; directories and multiple args go through the
// pipeline-file filter.
func loadPipelines(args []string, output io.Writer) ([]*models.Pipeline, error) {
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err == nil && !info.IsDir() {
			fmt.Fprintf(output, "Loading pipeline from %s...\n", args[0])
			pipeline, err := parser.LoadFile(args[0])
			if err != nil {
				return nil, err
			}
			return []*models.Pipeline{pipeline}, nil
		}
	}

	files, err := parser.FilterPipelineFiles(args)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(output, "Loading %d pipeline file(s)...\n", len(files))

	seen := make(map[string]string)
	var pipelines []*models.Pipeline
	for _, path := range files {
		pipeline, err := parser.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[pipeline.Name]; ok {
			return nil, fmt.Errorf("duplicate pipeline name %q in %s (already defined in %s)", pipeline.Name, path, prev)
		}
		seen[pipeline.Name] = path
		pipelines = append(pipelines, pipeline)
	}
	return pipelines, nil
}
