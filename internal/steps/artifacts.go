package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/executor"
)

// ArtifactsOptions configures the artifacts builtin.
type ArtifactsOptions struct {
	Dist string `mapstructure:"dist"` // Directory to account (default: the build step's dist dir)
}

// Artifacts lists and classifies the dist directory and enforces the
// release rule: exactly one sdist and exactly one wheel, nothing else.
type Artifacts struct{}

func (a *Artifacts) Name() string { return "artifacts" }

func (a *Artifacts) RequiredGrants() []executor.GrantRequirement { return nil }

func (a *Artifacts) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts ArtifactsOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}

	distDir := opts.Dist
	if distDir == "" {
		distDir = sc.State.DistDir()
	} else if !filepath.IsAbs(distDir) {
		distDir = filepath.Join(sc.WorkDir, distDir)
	}
	if distDir == "" {
		return errors.New("artifacts: no dist directory known; run the build step first or set with.dist")
	}

	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would account artifacts in %s", distDir))
		return nil
	}

	artifacts, err := artifact.Scan(distDir)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	for _, art := range artifacts {
		sc.Logger.LogInfo(fmt.Sprintf("  %-7s %10d  %s  sha256:%s", art.Kind, art.Size, art.Name, art.SHA256[:12]))
	}

	if err := artifact.ExactlyOneEach(artifacts); err != nil {
		return err
	}

	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)
	return nil
}
