package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/executor"
)

// SmokeOptions configures the smoke builtin. Both commands run inside a
// scratch directory with SLIPWAY_WHEEL and SLIPWAY_SMOKE_PREFIX set.
type SmokeOptions struct {
	Install string `mapstructure:"install"` // Command installing the wheel into the scratch prefix
	Check   string `mapstructure:"check"`   // Command verifying the installed package, e.g. an import
}

// Smoke installs the freshly built wheel into a throwaway prefix and
// runs a check command against it, proving the artifact is installable
// before it is published.
type Smoke struct{}

func (s *Smoke) Name() string { return "smoke" }

func (s *Smoke) RequiredGrants() []executor.GrantRequirement { return nil }

func (s *Smoke) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts SmokeOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}
	if opts.Install == "" {
		return errors.New("smoke: install command is required")
	}

	wheel := artifact.FindKind(sc.State.Artifacts(), artifact.KindWheel)
	if wheel == nil {
		return errors.New("smoke: no wheel recorded; run the artifacts step first")
	}

	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would smoke-test %s", wheel.Name))
		return nil
	}

	scratch, err := os.MkdirTemp("", "slipway-smoke-")
	if err != nil {
		return fmt.Errorf("smoke: failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	env := append(append([]string(nil), sc.Env...),
		"SLIPWAY_WHEEL="+wheel.Path,
		"SLIPWAY_SMOKE_PREFIX="+scratch,
	)

	run := func(label, command string) error {
		output, err := sc.Runner.Run(ctx, command, executor.RunOptions{Dir: scratch, Env: env})
		if trimmed := strings.TrimSpace(output); trimmed != "" {
			sc.Logger.LogDebug(trimmed)
		}
		if err != nil {
			return fmt.Errorf("smoke %s failed: %w\n%s", label, err, strings.TrimSpace(output))
		}
		return nil
	}

	if err := run("install", opts.Install); err != nil {
		return err
	}
	if opts.Check != "" {
		if err := run("check", opts.Check); err != nil {
			return err
		}
	}

	sc.Logger.LogInfo(fmt.Sprintf("Smoke test passed for %s", wheel.Name))
	return nil
}
