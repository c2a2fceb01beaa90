package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/parser"
	"github.com/slipway-ci/slipway/internal/steps"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline-file-or-directory>...",
		Short: "Validate one or more pipeline files",
		Long: `Parse and validate pipeline files, checking for:
  - Structural validity (names, job and step IDs, uses/run exclusivity)
  - Circular or dangling job dependencies
  - Step conditions that parse
  - Builtin step names that exist
  - Permission grants that are recognized

Supports multiple input modes:
  - Single file: slipway validate release.yaml
  - Single directory: slipway validate .slipway/pipelines/
  - Multiple files: slipway validate release.yaml nightly.yaml

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePipelineFiles(args, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

// validatePipelineFiles validates pipeline files with custom output
// writer (for testing)
func validatePipelineFiles(paths []string, output io.Writer) error {
	files, err := resolvePipelinePaths(paths)
	if err != nil {
		return err
	}

	builtins, err := steps.DefaultRegistry(steps.Deps{})
	if err != nil {
		return err
	}

	var errors []string
	for _, path := range files {
		pipeline, err := parser.LoadFile(path)
		if err != nil {
			errMsg := fmt.Sprintf("%v", err)
			errors = append(errors, errMsg)
			fmt.Fprintf(output, "✗ %s\n", errMsg)
			continue
		}

		fmt.Fprintf(output, "✓ %s: pipeline %q parsed (%d job(s))\n", path, pipeline.Name, len(pipeline.Jobs))

		if err := executor.ValidateConditions(pipeline); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		if _, err := executor.OrderJobs(pipeline.Jobs); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		// Every uses: must name a known builtin
		for _, job := range pipeline.Jobs {
			for _, step := range job.Steps {
				if step.Uses == "" {
					continue
				}
				if _, ok := builtins.Lookup(step.Uses); !ok {
					errors = append(errors, fmt.Sprintf("%s: job %s step %s: unknown builtin %q", path, job.ID, step.ID, step.Uses))
				}
			}
		}
	}

	if len(errors) == 0 {
		fmt.Fprintf(output, "\n✓ All pipelines are valid!\n")
		return nil
	}

	fmt.Fprintf(output, "\n✗ Validation failed\n")
	for _, errMsg := range errors {
		fmt.Fprintf(output, "  ✗ %s\n", errMsg)
	}
	fmt.Fprintf(output, "\nFound %d validation error(s)!\n", len(errors))

	return fmt.Errorf("validation failed with %d error(s)", len(errors))
}

// resolvePipelinePaths mirrors the run command's path handling: a
// single file is taken as-is, everything else goes through the filter.
func resolvePipelinePaths(paths []string) ([]string, error) {
	if len(paths) == 1 {
		info, err := os.Stat(paths[0])
		if err == nil && !info.IsDir() {
			return []string{paths[0]}, nil
		}
	}
	return parser.FilterPipelineFiles(paths)
}
