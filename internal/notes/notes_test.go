package notes

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const changelog = `# Changelog

All notable changes to this project will be documented in this file.

## [Unreleased]

- In-flight work.

## [1.2.3] - 2026-08-20

### Added

- Wheel smoke checks after install.

### Fixed

- Registry names with path separators are rejected.

## v1.2.2 - 2026-07-01

- Maintenance release.

## 1.2.1

Initial tagged release.

[Unreleased]: https://example.org/compare/v1.2.3...HEAD
[1.2.3]: https://example.org/compare/v1.2.2...v1.2.3
`

func TestExtractFrom(t *testing.T) {
	got, err := ExtractFrom(strings.NewReader(changelog), "1.2.3")
	require.NoError(t, err)

	assert.Contains(t, got, "### Added")
	assert.Contains(t, got, "Wheel smoke checks after install.")
	assert.Contains(t, got, "### Fixed")
	assert.NotContains(t, got, "Maintenance release.")
	assert.NotContains(t, got, "In-flight work.")
	assert.False(t, strings.HasPrefix(got, "\n"), "section is trimmed")
}

func TestExtractFrom_VersionForms(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
	}{
		{name: "bare version against link heading", version: "1.2.3", want: "Wheel smoke checks"},
		{name: "v prefix against link heading", version: "v1.2.3", want: "Wheel smoke checks"},
		{name: "bare version against v heading", version: "1.2.2", want: "Maintenance release."},
		{name: "v prefix against v heading", version: "v1.2.2", want: "Maintenance release."},
		{name: "plain heading", version: "1.2.1", want: "Initial tagged release."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFrom(strings.NewReader(changelog), tt.version)
			require.NoError(t, err)
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestExtractFrom_LastSectionRunsToEOF(t *testing.T) {
	got, err := ExtractFrom(strings.NewReader(changelog), "1.2.1")
	require.NoError(t, err)
	assert.Contains(t, got, "Initial tagged release.")
	// Link reference definitions trail the last section.
	assert.Contains(t, got, "[1.2.3]: https://example.org")
}

func TestExtractFrom_NotFound(t *testing.T) {
	_, err := ExtractFrom(strings.NewReader(changelog), "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtractFrom_NoPrefixCollision(t *testing.T) {
	log := "## 1.2.30\n\nThirty.\n\n## 1.2.3\n\nThree.\n"

	got, err := ExtractFrom(strings.NewReader(log), "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "Three.", got)

	got, err = ExtractFrom(strings.NewReader(log), "1.2.30")
	require.NoError(t, err)
	assert.Equal(t, "Thirty.", got)
}

func TestExtractFrom_HeadingInsideCodeBlockIgnored(t *testing.T) {
	log := "## 1.0.0\n\n```\n## 2.0.0\n```\n\nStill in one section.\n\n## 0.9.0\n\nOld.\n"

	got, err := ExtractFrom(strings.NewReader(log), "1.0.0")
	require.NoError(t, err)
	assert.Contains(t, got, "## 2.0.0")
	assert.Contains(t, got, "Still in one section.")
	assert.NotContains(t, got, "Old.")

	_, err = ExtractFrom(strings.NewReader(log), "2.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtractFrom_PrereleaseVersion(t *testing.T) {
	log := "## [1.3.0-rc.1] - 2026-08-25\n\nRelease candidate.\n"
	got, err := ExtractFrom(strings.NewReader(log), "v1.3.0-rc.1")
	require.NoError(t, err)
	assert.Equal(t, "Release candidate.", got)
}

func TestExtract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(path, []byte(changelog), 0644))

	got, err := Extract(path, "1.2.3")
	require.NoError(t, err)
	assert.Contains(t, got, "Wheel smoke checks")
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := Extract(filepath.Join(t.TempDir(), "CHANGELOG.md"), "1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open changelog")
}
