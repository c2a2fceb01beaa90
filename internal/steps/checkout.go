package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/models"
)

// CheckoutOptions configures the checkout builtin.
type CheckoutOptions struct {
	URL   string `mapstructure:"url"`   // Clone URL (default: derived from the event repo)
	Ref   string `mapstructure:"ref"`   // Ref to check out (default: event commit, then tag)
	Depth int    `mapstructure:"depth"` // Shallow clone depth (0 = full history)
}

// Checkout clones the repository into the work directory, or reuses an
// existing clone, and checks out the ref the event points at.
type Checkout struct{}

func (c *Checkout) Name() string { return "checkout" }

func (c *Checkout) RequiredGrants() []executor.GrantRequirement {
	return []executor.GrantRequirement{{Scope: models.ScopeContents, Grant: models.GrantRead}}
}

func (c *Checkout) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts CheckoutOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}

	url := opts.URL
	if url == "" && sc.Event != nil && sc.Event.Repo != "" {
		url = "https://github.com/" + sc.Event.Repo + ".git"
	}
	if url == "" {
		return errors.New("checkout: no url configured and the event names no repository")
	}

	ref := opts.Ref
	if ref == "" && sc.Event != nil {
		if sc.Event.Commit != "" {
			ref = sc.Event.Commit
		} else if sc.Event.Tag != "" {
			ref = sc.Event.Tag
		}
	}

	if sc.WorkDir == "" {
		return errors.New("checkout: no work directory configured")
	}
	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would check out %s@%s into %s", url, refOrHead(ref), sc.WorkDir))
		return nil
	}

	run := func(dir, command string) (string, error) {
		return sc.Runner.Run(ctx, command, executor.RunOptions{Dir: dir, Env: sc.Env})
	}

	if isGitWorkTree(ctx, sc, sc.WorkDir) {
		sc.Logger.LogDebug(fmt.Sprintf("Reusing existing clone in %s", sc.WorkDir))
		if output, err := run(sc.WorkDir, "git fetch --force origin"); err != nil {
			return fmt.Errorf("checkout: git fetch failed: %w\n%s", err, strings.TrimSpace(output))
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(sc.WorkDir), 0755); err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		clone := fmt.Sprintf("git clone %s %s", shellQuote(url), shellQuote(sc.WorkDir))
		if opts.Depth > 0 {
			clone = fmt.Sprintf("git clone --depth %d %s %s", opts.Depth, shellQuote(url), shellQuote(sc.WorkDir))
		}
		if output, err := run("", clone); err != nil {
			return fmt.Errorf("checkout: git clone failed: %w\n%s", err, strings.TrimSpace(output))
		}
	}

	if ref != "" {
		if output, err := run(sc.WorkDir, "git checkout --force "+shellQuote(ref)); err != nil {
			return fmt.Errorf("checkout: failed to check out %s: %w\n%s", ref, err, strings.TrimSpace(output))
		}
	}

	sc.Logger.LogInfo(fmt.Sprintf("Checked out %s@%s", url, refOrHead(ref)))
	return nil
}

// isGitWorkTree reports whether dir already holds a git checkout.
func isGitWorkTree(ctx context.Context, sc *executor.StepContext, dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	_, err := sc.Runner.Run(ctx, "git rev-parse --is-inside-work-tree", executor.RunOptions{Dir: dir, Env: sc.Env})
	return err == nil
}

func refOrHead(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}

// shellQuote wraps a value in single quotes for the sh -c command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
