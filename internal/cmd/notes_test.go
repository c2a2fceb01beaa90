package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChangelog = `# Changelog

## v1.2.3 - 2026-08-01

- Fixed the frobnicator
- Faster startup

## v1.2.2 - 2026-07-15

- Initial fixes
`

func executeNotes(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"notes"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestNotesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleChangelog), 0644))

	out, err := executeNotes(t, path, "1.2.3")
	require.NoError(t, err)
	assert.Contains(t, out, "Fixed the frobnicator")
	assert.NotContains(t, out, "Initial fixes")
}

func TestNotesCommand_AcceptsLeadingV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleChangelog), 0644))

	out, err := executeNotes(t, path, "v1.2.2")
	require.NoError(t, err)
	assert.Contains(t, out, "Initial fixes")
}

func TestNotesCommand_VersionMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(path, []byte(sampleChangelog), 0644))

	_, err := executeNotes(t, path, "9.9.9")
	require.Error(t, err)
}

func TestNotesCommand_MissingFile(t *testing.T) {
	_, err := executeNotes(t, "/no/such/CHANGELOG.md", "1.0.0")
	require.Error(t, err)
}
