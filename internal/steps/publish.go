package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/distcheck"
	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/index"
	"github.com/slipway-ci/slipway/internal/models"
	"github.com/slipway-ci/slipway/internal/notes"
)

// PublishOptions configures the publish builtin.
type PublishOptions struct {
	SkipExisting bool   `mapstructure:"skip-existing"` // Tolerate files already on the index
	Changelog    string `mapstructure:"changelog"`     // Changelog to extract release notes from
}

// Publish uploads the sdist and wheel to the package index. It is the
// most guarded step of a run: it never executes after a failed step,
// only reacts to release publications, and requires the id-token write
// grant so it can exchange the ambient identity token for an upload
// token.
type Publish struct {
	cfg   *config.Config
	index *index.Client
}

func (p *Publish) Name() string { return "publish" }

func (p *Publish) RequiredGrants() []executor.GrantRequirement {
	return []executor.GrantRequirement{{Scope: models.ScopeIDToken, Grant: models.GrantWrite}}
}

// GatedOnPriorSuccess makes the runner block publishing after any
// failure, whatever the step's condition evaluates to.
func (p *Publish) GatedOnPriorSuccess() bool { return true }

// GatedOnReleasePublication makes the runner skip publishing for
// anything but a published release.
func (p *Publish) GatedOnReleasePublication() bool { return true }

func (p *Publish) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts PublishOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}

	// The runner enforces the gates already; re-checking keeps the step
	// safe if it is ever invoked outside a runner.
	if sc.Event == nil || !sc.Event.IsReleasePublication() {
		return fmt.Errorf("%w: publish only runs for a published release", executor.ErrStepSkipped)
	}

	artifacts := sc.State.Artifacts()
	sdist := artifact.FindKind(artifacts, artifact.KindSdist)
	wheel := artifact.FindKind(artifacts, artifact.KindWheel)
	if sdist == nil || wheel == nil {
		return errors.New("publish: need one sdist and one wheel; run the artifacts step first")
	}

	// Re-derive the metadata from the files themselves so the upload
	// carries exactly what distcheck validated.
	sdistMeta, err := distcheck.CheckSdist(sdist.Path)
	if err != nil {
		return fmt.Errorf("publish: sdist: %w", err)
	}
	wheelMeta, err := distcheck.CheckWheel(wheel.Path)
	if err != nil {
		return fmt.Errorf("publish: wheel: %w", err)
	}

	if opts.Changelog != "" {
		section, err := notes.Extract(opts.Changelog, sdistMeta.Version)
		switch {
		case err == nil:
			sdistMeta.Description = section
			wheelMeta.Description = section
		case errors.Is(err, notes.ErrNotFound):
			sc.Logger.LogWarn(fmt.Sprintf("No changelog entry for %s; publishing without release notes", sdistMeta.Version))
		default:
			return fmt.Errorf("publish: %w", err)
		}
	}

	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would publish %s and %s as %s %s",
			sdist.Name, wheel.Name, sdistMeta.Name, sdistMeta.Version))
		return nil
	}

	tokenEnv := p.cfg.Publish.IdentityTokenEnv
	identityToken, _ := sc.LookupEnv(tokenEnv)
	if identityToken == "" {
		return fmt.Errorf("publish: no ambient identity token in %s", tokenEnv)
	}

	uploadToken, err := p.index.MintToken(ctx, identityToken)
	if err != nil {
		return fmt.Errorf("publish: failed to mint upload token: %w", err)
	}

	// sdist first, then wheel, matching index convention.
	uploads := []struct {
		art  *artifact.Artifact
		meta *distcheck.Metadata
	}{
		{sdist, sdistMeta},
		{wheel, wheelMeta},
	}

	for _, u := range uploads {
		exists, err := p.index.Exists(ctx, u.meta.Name, u.art.Name)
		if err != nil {
			sc.Logger.LogWarn(fmt.Sprintf("Duplicate check for %s failed: %v", u.art.Name, err))
		} else if exists {
			if !opts.SkipExisting {
				return fmt.Errorf("publish: %s already exists on the index", u.art.Name)
			}
			sc.Logger.LogInfo(fmt.Sprintf("Skipping %s: already on the index", u.art.Name))
			continue
		}

		if err := p.index.Upload(ctx, uploadToken, *u.art, u.meta); err != nil {
			if errors.Is(err, index.ErrAlreadyExists) && opts.SkipExisting {
				sc.Logger.LogInfo(fmt.Sprintf("Skipping %s: already on the index", u.art.Name))
				continue
			}
			return fmt.Errorf("publish: %w", err)
		}
		sc.State.MarkPublished()
		sc.Logger.LogInfo(fmt.Sprintf("Published %s", u.art.Name))
	}

	return nil
}
