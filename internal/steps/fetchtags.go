package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/models"
)

// FetchTags pulls every tag into the work directory clone so the build
// can derive the package version from version control.
type FetchTags struct{}

func (f *FetchTags) Name() string { return "fetch-tags" }

func (f *FetchTags) RequiredGrants() []executor.GrantRequirement {
	return []executor.GrantRequirement{{Scope: models.ScopeContents, Grant: models.GrantRead}}
}

func (f *FetchTags) Execute(ctx context.Context, sc *executor.StepContext) error {
	if err := decodeWith(sc.With, &struct{}{}); err != nil {
		return err
	}
	if sc.WorkDir == "" {
		return errors.New("fetch-tags: no work directory configured")
	}
	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would fetch tags in %s", sc.WorkDir))
		return nil
	}

	output, err := sc.Runner.Run(ctx, "git fetch --tags --force", executor.RunOptions{Dir: sc.WorkDir, Env: sc.Env})
	if err != nil {
		return fmt.Errorf("fetch-tags: git fetch failed: %w\n%s", err, strings.TrimSpace(output))
	}
	sc.Logger.LogDebug("Fetched tags into " + sc.WorkDir)
	return nil
}
