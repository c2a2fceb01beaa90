package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipway-ci/slipway/internal/notes"
)

// NewNotesCommand creates the notes command
func NewNotesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes <changelog-file> <version>",
		Short: "Extract release notes for a version from a changelog",
		Long: `Extract the release notes section for one version from a Markdown
changelog.

The changelog is expected to carry one heading per release, with the
version (a leading v is accepted) somewhere in the heading text. The
section body up to the next heading of the same level is printed.

Examples:
  slipway notes CHANGELOG.md 1.2.3
  slipway notes CHANGELOG.md v1.2.3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, err := notes.Extract(args[0], strings.TrimPrefix(args[1], "v"))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), section)
			return nil
		},
		SilenceUsage: true,
	}

	return cmd
}
