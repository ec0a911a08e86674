package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/transcoder/internal/checkpoint"
	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/shared/logger"
)

func writeCheckpoint(t *testing.T, root, jobID string, stage domain.Stage, updatedAt time.Time) {
	t.Helper()
	dir := filepath.Join(root, jobID)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	state := struct {
		Stage     domain.Stage `json:"stage"`
		UpdatedAt time.Time    `json:"updated_at"`
	}{Stage: stage, UpdatedAt: updatedAt}

	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job_state.json"), data, 0o644))
}

func newSweepWorker(t *testing.T) (*Worker, string) {
	t.Helper()
	root := t.TempDir()
	checkpoints, err := checkpoint.NewStore(root)
	require.NoError(t, err)
	return &Worker{
		checkpoints:        checkpoints,
		log:                logger.NewDefault(),
		completedRetention: reaperCompletedRetention,
		failedRetention:    reaperFailedRetention,
	}, root
}

func TestSweep_RemovesStaleCompletedJob(t *testing.T) {
	w, root := newSweepWorker(t)
	writeCheckpoint(t, root, "done-old", domain.StageCompleted, time.Now().UTC().Add(-2*time.Hour))

	require.NoError(t, w.Sweep(context.Background()))

	_, err := os.Stat(filepath.Join(root, "done-old"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_KeepsRecentCompletedJob(t *testing.T) {
	w, root := newSweepWorker(t)
	writeCheckpoint(t, root, "done-fresh", domain.StageCompleted, time.Now().UTC())

	require.NoError(t, w.Sweep(context.Background()))

	_, err := os.Stat(filepath.Join(root, "done-fresh"))
	assert.NoError(t, err)
}

func TestSweep_KeepsFailedJobUnderRetentionWindow(t *testing.T) {
	w, root := newSweepWorker(t)
	writeCheckpoint(t, root, "failed-recent", domain.StageFailed, time.Now().UTC().Add(-2*time.Hour))

	require.NoError(t, w.Sweep(context.Background()))

	_, err := os.Stat(filepath.Join(root, "failed-recent"))
	assert.NoError(t, err)
}

func TestSweep_RemovesStaleFailedJob(t *testing.T) {
	w, root := newSweepWorker(t)
	writeCheckpoint(t, root, "failed-old", domain.StageFailed, time.Now().UTC().Add(-25*time.Hour))

	require.NoError(t, w.Sweep(context.Background()))

	_, err := os.Stat(filepath.Join(root, "failed-old"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_KeepsInProgressJobRegardlessOfAge(t *testing.T) {
	w, root := newSweepWorker(t)
	writeCheckpoint(t, root, "in-progress", domain.StageTranscoded, time.Now().UTC().Add(-48*time.Hour))

	require.NoError(t, w.Sweep(context.Background()))

	_, err := os.Stat(filepath.Join(root, "in-progress"))
	assert.NoError(t, err)
}

func TestSweep_RemovesOrphanDirectoryWithNoCheckpoint(t *testing.T) {
	w, root := newSweepWorker(t)
	orphan := filepath.Join(root, "orphan-job")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, "source.mp4"), []byte("x"), 0o644))

	require.NoError(t, w.Sweep(context.Background()))

	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}
