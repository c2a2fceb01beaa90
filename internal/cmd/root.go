package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for slipway
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slipway",
		Short: "Self-hosted release pipeline runner",
		Long: `Slipway runs release pipelines defined in YAML: build, verify, sign,
and publish Python package artifacts in response to release events.

Pipelines declare jobs with dependency ordering and steps that either
run shell commands or invoke builtin actions (checkout, build, publish,
and friends). Publishing is hard-gated on a release publication event
and on every prior step having succeeded.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewKeysCommand())
	cmd.AddCommand(NewNotesCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the slipway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "slipway %s\n", Version)
		},
	}
}
