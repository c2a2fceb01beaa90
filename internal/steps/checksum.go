package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/filelock"
	"github.com/slipway-ci/slipway/internal/signing"
)

// manifestName is the checksum manifest written next to the artifacts.
const manifestName = "SHA256SUMS"

// passphraseEnv names the variable holding the signing key passphrase.
const passphraseEnv = "SLIPWAY_KEY_PASSPHRASE"

// ChecksumOptions configures the checksum builtin.
type ChecksumOptions struct {
	Sign *bool `mapstructure:"sign"` // Sign the manifest (default: when a key file exists)
}

// Checksum writes a SHA256SUMS manifest for the recorded artifacts and
// signs it with the configured ed25519 key when one is available.
type Checksum struct {
	cfg *config.Config
}

func (c *Checksum) Name() string { return "checksum" }

func (c *Checksum) RequiredGrants() []executor.GrantRequirement { return nil }

func (c *Checksum) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts ChecksumOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}

	artifacts := sc.State.Artifacts()
	if len(artifacts) == 0 {
		return errors.New("checksum: no artifacts recorded; run the artifacts step first")
	}
	distDir := sc.State.DistDir()
	if distDir == "" {
		distDir = filepath.Dir(artifacts[0].Path)
	}

	manifest := artifact.FormatManifest(artifacts)
	manifestPath := filepath.Join(distDir, manifestName)

	keyPath := c.cfg.SigningKeyPath
	keyAvailable := false
	if keyPath != "" {
		if _, err := os.Stat(keyPath); err == nil {
			keyAvailable = true
		}
	}
	sign := keyAvailable
	if opts.Sign != nil {
		sign = *opts.Sign
	}
	if sign && !keyAvailable {
		return fmt.Errorf("checksum: signing requested but no key at %s", keyPath)
	}

	if sc.DryRun {
		what := "would write " + manifestPath
		if sign {
			what += " and sign it"
		}
		sc.Logger.LogInfo("[dry-run] " + what)
		return nil
	}

	if err := filelock.LockAndWrite(manifestPath, manifest, 0644); err != nil {
		return fmt.Errorf("checksum: failed to write manifest: %w", err)
	}
	sc.Logger.LogInfo(fmt.Sprintf("Wrote %s (%d entries)", manifestPath, len(artifacts)))

	if !sign {
		return nil
	}

	passphrase, ok := sc.LookupEnv(passphraseEnv)
	if !ok {
		return fmt.Errorf("checksum: %s is not set; cannot unlock the signing key", passphraseEnv)
	}
	keypair, err := signing.Load(keyPath, passphrase)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	sig := keypair.SignManifest(manifest)
	sigPath := manifestPath + ".sig"
	if err := filelock.AtomicWrite(sigPath, sig, 0644); err != nil {
		return fmt.Errorf("checksum: failed to write signature: %w", err)
	}
	sc.Logger.LogInfo(fmt.Sprintf("Signed manifest with key %s", signing.Fingerprint(keypair.Public)))
	return nil
}
