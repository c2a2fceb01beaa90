package executor

import (
	"context"
	"os/exec"
)

// CommandRunner abstracts shell command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, command string, opts RunOptions) (output string, err error)
}

// RunOptions carries the per-step execution settings for a command.
type RunOptions struct {
	Dir string   // Working directory (empty = current dir)
	Env []string // Full environment for the command (nil = inherit)
}

// ShellCommandRunner executes commands via the system shell.
type ShellCommandRunner struct{}

// NewShellCommandRunner creates a CommandRunner that executes real shell commands.
func NewShellCommandRunner() *ShellCommandRunner {
	return &ShellCommandRunner{}
}

// Run executes a command via sh -c and returns combined stdout/stderr.
func (r *ShellCommandRunner) Run(ctx context.Context, command string, opts RunOptions) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	output, err := cmd.CombinedOutput()
	return string(output), err
}
