package steps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/models"
	"github.com/slipway-ci/slipway/internal/signing"
)

func checksumSetup(t *testing.T, cfg *config.Config) (*Checksum, string, []artifact.Artifact) {
	t.Helper()
	distDir := t.TempDir()
	artifacts := []artifact.Artifact{makeSdist(t, distDir), makeWheel(t, distDir)}
	return &Checksum{cfg: cfg}, distDir, artifacts
}

func TestChecksum_WritesManifest(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SigningKeyPath = filepath.Join(t.TempDir(), "absent.key")
	step, distDir, artifacts := checksumSetup(t, cfg)

	sc := newStepContext(t, nil, nil)
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)

	require.NoError(t, step.Execute(waitCtx(t), sc))

	data, err := os.ReadFile(filepath.Join(distDir, "SHA256SUMS"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "example-1.2.3.tar.gz sha256:")
	assert.Contains(t, content, "example-1.2.3-py3-none-any.whl sha256:")

	entries, err := artifact.ParseManifest(strings.NewReader(content))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// No key file, no signature.
	assert.NoFileExists(t, filepath.Join(distDir, "SHA256SUMS.sig"))
}

func TestChecksum_SignsWhenKeyPresent(t *testing.T) {
	keypair, err := signing.Generate()
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, keypair.Save(keyPath, "hunter2"))

	cfg := config.DefaultConfig()
	cfg.SigningKeyPath = keyPath
	step, distDir, artifacts := checksumSetup(t, cfg)

	sc := newStepContext(t, nil, nil)
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)
	sc.Env = append(sc.Env, "SLIPWAY_KEY_PASSPHRASE=hunter2")

	require.NoError(t, step.Execute(waitCtx(t), sc))

	manifest, err := os.ReadFile(filepath.Join(distDir, "SHA256SUMS"))
	require.NoError(t, err)
	sig, err := os.ReadFile(filepath.Join(distDir, "SHA256SUMS.sig"))
	require.NoError(t, err)
	assert.True(t, signing.VerifyManifest(keypair.Public, manifest, sig))
}

func TestChecksum_SignRequestedWithoutKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SigningKeyPath = filepath.Join(t.TempDir(), "absent.key")
	step, distDir, artifacts := checksumSetup(t, cfg)

	sc := newStepContext(t, nil, map[string]any{"sign": true})
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)

	err := step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key at")
}

func TestChecksum_SignDisabledDespiteKey(t *testing.T) {
	keypair, err := signing.Generate()
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, keypair.Save(keyPath, "hunter2"))

	cfg := config.DefaultConfig()
	cfg.SigningKeyPath = keyPath
	step, distDir, artifacts := checksumSetup(t, cfg)

	sc := newStepContext(t, nil, map[string]any{"sign": false})
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)

	require.NoError(t, step.Execute(waitCtx(t), sc))
	assert.NoFileExists(t, filepath.Join(distDir, "SHA256SUMS.sig"))
}

func TestChecksum_MissingPassphrase(t *testing.T) {
	keypair, err := signing.Generate()
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, keypair.Save(keyPath, "hunter2"))

	cfg := config.DefaultConfig()
	cfg.SigningKeyPath = keyPath
	step, distDir, artifacts := checksumSetup(t, cfg)

	sc := newStepContext(t, nil, nil)
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)

	err = step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLIPWAY_KEY_PASSPHRASE")
}

func TestChecksum_NoArtifacts(t *testing.T) {
	step := &Checksum{cfg: config.DefaultConfig()}
	sc := newStepContext(t, nil, nil)

	err := step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no artifacts recorded")
}

func TestChecksum_DryRun(t *testing.T) {
	cfg := config.DefaultConfig()
	step, distDir, artifacts := checksumSetup(t, cfg)

	sc := newStepContext(t, nil, nil)
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts(artifacts)
	sc.DryRun = true

	require.NoError(t, step.Execute(waitCtx(t), sc))
	assert.NoFileExists(t, filepath.Join(distDir, "SHA256SUMS"))
}

func TestDistCheckStep_Valid(t *testing.T) {
	distDir := t.TempDir()
	sc := newStepContext(t, nil, nil)
	sc.State.SetArtifacts([]artifact.Artifact{makeSdist(t, distDir), makeWheel(t, distDir)})

	require.NoError(t, (&DistCheck{}).Execute(waitCtx(t), sc))
}

func TestDistCheckStep_TagMismatch(t *testing.T) {
	distDir := t.TempDir()
	sc := newStepContext(t, nil, nil)
	sc.Event = &models.Event{Kind: models.EventRelease, Action: models.ActionPublished, Tag: "v9.9.9"}
	sc.State.SetArtifacts([]artifact.Artifact{makeSdist(t, distDir), makeWheel(t, distDir)})

	err := (&DistCheck{}).Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match release tag version")
}

func TestDistCheckStep_UntaggedEventSkipsVersionCheck(t *testing.T) {
	distDir := t.TempDir()
	sc := newStepContext(t, nil, nil)
	sc.Event = &models.Event{Kind: models.EventManual}
	sc.State.SetArtifacts([]artifact.Artifact{makeSdist(t, distDir), makeWheel(t, distDir)})

	require.NoError(t, (&DistCheck{}).Execute(waitCtx(t), sc))
}

func TestDistCheckStep_MissingArtifacts(t *testing.T) {
	sc := newStepContext(t, nil, nil)
	err := (&DistCheck{}).Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need one sdist and one wheel")
}
