package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/distcheck"
	"github.com/slipway-ci/slipway/internal/executor"
)

// DistCheck validates the metadata of both recorded artifacts and their
// agreement with each other and the release tag.
type DistCheck struct{}

func (d *DistCheck) Name() string { return "distcheck" }

func (d *DistCheck) RequiredGrants() []executor.GrantRequirement { return nil }

func (d *DistCheck) Execute(ctx context.Context, sc *executor.StepContext) error {
	if err := decodeWith(sc.With, &struct{}{}); err != nil {
		return err
	}

	artifacts := sc.State.Artifacts()
	sdist := artifact.FindKind(artifacts, artifact.KindSdist)
	wheel := artifact.FindKind(artifacts, artifact.KindWheel)
	if sdist == nil || wheel == nil {
		return errors.New("distcheck: need one sdist and one wheel; run the artifacts step first")
	}

	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would check metadata of %s and %s", sdist.Name, wheel.Name))
		return nil
	}

	expectedVersion := ""
	if sc.Event != nil && sc.Event.Tag != "" {
		expectedVersion = sc.Event.Version()
	}

	report, err := distcheck.CheckAll(sdist.Path, wheel.Path, expectedVersion)
	if err != nil {
		return err
	}

	sc.Logger.LogInfo(fmt.Sprintf("Metadata OK: %s %s", report.Sdist.Name, report.Sdist.Version))
	return nil
}
