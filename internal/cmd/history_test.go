package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-ci/slipway/internal/history"
	"github.com/slipway-ci/slipway/internal/models"
)

func executeHistory(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"history"}, args...))
	err := root.Execute()
	return out.String(), err
}

// seedHistory records count runs and returns the config path to reach them
func seedHistory(t *testing.T, count int) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	store, err := history.NewStore(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	var runIDs []string
	for i := 0; i < count; i++ {
		runID := fmt.Sprintf("run-2026%02d", i)
		result := &models.RunResult{
			RunID:    runID,
			Pipeline: "release",
			Event:    &models.Event{Kind: models.EventRelease, Action: models.ActionPublished, Tag: fmt.Sprintf("v1.0.%d", i)},
			Status:   models.StatusPassed,
			Steps: []models.StepResult{
				{JobID: "build", StepID: "compile", Status: models.StatusPassed, Duration: time.Second},
			},
			StartedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Duration:  2 * time.Second,
		}
		require.NoError(t, store.RecordRun(context.Background(), result))
		runIDs = append(runIDs, runID)
	}
	return configPath, runIDs
}

func TestHistoryList(t *testing.T) {
	configPath, runIDs := seedHistory(t, 3)

	out, err := executeHistory(t, "list", "--config", configPath)
	require.NoError(t, err)
	for _, id := range runIDs {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "release.published")
}

func TestHistoryList_Empty(t *testing.T) {
	configPath, _ := seedHistory(t, 0)

	out, err := executeHistory(t, "list", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestHistoryList_Limit(t *testing.T) {
	configPath, runIDs := seedHistory(t, 5)

	out, err := executeHistory(t, "list", "--config", configPath, "--limit", "2")
	require.NoError(t, err)

	var shown int
	for _, id := range runIDs {
		if bytes.Contains([]byte(out), []byte(id)) {
			shown++
		}
	}
	assert.Equal(t, 2, shown)
}

func TestHistoryShow(t *testing.T) {
	configPath, runIDs := seedHistory(t, 1)

	out, err := executeHistory(t, "show", runIDs[0], "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, runIDs[0])
	assert.Contains(t, out, "release.published")
	assert.Contains(t, out, "compile")
}

func TestHistoryShow_NotFound(t *testing.T) {
	configPath, _ := seedHistory(t, 0)

	_, err := executeHistory(t, "show", "run-nope", "--config", configPath)
	require.Error(t, err)
}

func TestHistoryPrune(t *testing.T) {
	configPath, _ := seedHistory(t, 5)

	out, err := executeHistory(t, "prune", "--config", configPath, "--keep", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 3 run(s)")

	listOut, err := executeHistory(t, "list", "--config", configPath)
	require.NoError(t, err)

	var remaining int
	for _, line := range bytes.Split([]byte(listOut), []byte("\n")) {
		if bytes.HasPrefix(line, []byte("run-")) {
			remaining++
		}
	}
	assert.Equal(t, 2, remaining)
}

func TestHistoryPrune_NegativeKeep(t *testing.T) {
	configPath, _ := seedHistory(t, 0)

	_, err := executeHistory(t, "prune", "--config", configPath, "--keep", "-1")
	require.Error(t, err)
}
