package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-ci/slipway/internal/history"
)

// NewHistoryCommand creates the history command group
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded pipeline runs",
		Long: `Inspect the run history database.

Every non-dry run is recorded with its event, per-step outcomes, and
publication state. The database lives at the configured history_path
(default .slipway/history/runs.db).`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

// openHistoryStore loads config and opens the run history database
func openHistoryStore(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return store, nil
}

func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			pipeline, _ := cmd.Flags().GetString("pipeline")
			limit, _ := cmd.Flags().GetInt("limit")

			var runs []*history.RunRecord
			if pipeline != "" {
				runs, err = store.ListRunsForPipeline(cmd.Context(), pipeline, limit)
			} else {
				runs, err = store.ListRuns(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			printRunTable(cmd.OutOrStdout(), runs)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")
	cmd.Flags().String("pipeline", "", "Only show runs of this pipeline")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to show")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with per-step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRunDetail(cmd.OutOrStdout(), run)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			keep, _ := cmd.Flags().GetInt("keep")
			if keep < 0 {
				return fmt.Errorf("--keep must be >= 0, got %d", keep)
			}

			deleted, err := store.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s), kept the %d most recent.\n", deleted, keep)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .slipway/config.yaml)")
	cmd.Flags().Int("keep", 50, "Number of most recent runs to keep")

	return cmd
}

// printRunTable writes runs as an aligned table
func printRunTable(output io.Writer, runs []*history.RunRecord) {
	w := tabwriter.NewWriter(output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tPIPELINE\tEVENT\tTAG\tSTATUS\tPUBLISHED\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
			run.RunID,
			run.Pipeline,
			formatEvent(run.EventKind, run.EventAction),
			run.Tag,
			run.Status,
			run.Published,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Duration.Round(time.Millisecond),
		)
	}
	w.Flush()
}

// printRunDetail writes one run and its step results
func printRunDetail(output io.Writer, run *history.RunRecord) {
	fmt.Fprintf(output, "Run:       %s\n", run.RunID)
	fmt.Fprintf(output, "Pipeline:  %s\n", run.Pipeline)
	fmt.Fprintf(output, "Event:     %s\n", formatEvent(run.EventKind, run.EventAction))
	if run.Tag != "" {
		fmt.Fprintf(output, "Tag:       %s\n", run.Tag)
	}
	fmt.Fprintf(output, "Status:    %s\n", run.Status)
	fmt.Fprintf(output, "Published: %v", run.Published)
	if run.Published {
		fmt.Fprintf(output, " (%d artifact(s))", run.ArtifactCount)
	}
	fmt.Fprintln(output)
	fmt.Fprintf(output, "Started:   %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(output, "Duration:  %s\n", run.Duration.Round(time.Millisecond))

	if len(run.Steps) == 0 {
		return
	}
	fmt.Fprintln(output)
	w := tabwriter.NewWriter(output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTEP\tSTATUS\tDURATION\tERROR")
	for _, step := range run.Steps {
		name := step.StepID
		if step.StepName != "" {
			name = step.StepName
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			step.JobID, name, step.Status, step.Duration.Round(time.Millisecond), step.Error)
	}
	w.Flush()
}

func formatEvent(kind, action string) string {
	if action == "" {
		return kind
	}
	return kind + "." + action
}
