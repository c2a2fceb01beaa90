package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/executor"
)

// BuildOptions configures the build builtin.
type BuildOptions struct {
	Command string `mapstructure:"command"` // Build command run in the work directory
	Dist    string `mapstructure:"dist"`    // Output directory, relative to the work dir (default dist)
}

// Build runs the package build command and records what landed in the
// dist directory on the run state for later steps.
type Build struct{}

func (b *Build) Name() string { return "build" }

func (b *Build) RequiredGrants() []executor.GrantRequirement { return nil }

func (b *Build) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts BuildOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}
	if opts.Command == "" {
		return errors.New("build: command is required")
	}
	if opts.Dist == "" {
		opts.Dist = "dist"
	}

	distDir := opts.Dist
	if !filepath.IsAbs(distDir) {
		distDir = filepath.Join(sc.WorkDir, distDir)
	}
	sc.State.SetDistDir(distDir)

	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would build with %q, collecting %s", opts.Command, distDir))
		return nil
	}

	output, err := sc.Runner.Run(ctx, opts.Command, executor.RunOptions{Dir: sc.WorkDir, Env: sc.Env})
	if trimmed := strings.TrimSpace(output); trimmed != "" {
		sc.Logger.LogDebug(trimmed)
	}
	if err != nil {
		return fmt.Errorf("build command failed: %w\n%s", err, strings.TrimSpace(output))
	}

	artifacts, err := artifact.Scan(distDir)
	if err != nil {
		return fmt.Errorf("build produced no readable dist directory: %w", err)
	}
	if len(artifacts) == 0 {
		return fmt.Errorf("build succeeded but %s contains no files", distDir)
	}
	sc.State.SetArtifacts(artifacts)

	sc.Logger.LogInfo(fmt.Sprintf("Build produced %d file(s) in %s", len(artifacts), distDir))
	return nil
}
