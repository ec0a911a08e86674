package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/shared/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := Open(path, 1, 5*time.Second, logger.NewDefault())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newQueuedJob(id string) *domain.Job {
	return &domain.Job{
		JobID:       id,
		OriginalKey: "uploads/" + id + ".mp4",
		Status:      domain.JobStatusQueued,
		Resolutions: []domain.Resolution{domain.Resolution720p, domain.Resolution480p},
		CreatedAt:   time.Now().UTC(),
		Metadata: domain.JobMetadata{
			VideoName:   "clip.mp4",
			Environment: domain.EnvironmentStaging,
		},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := newQueuedJob("job-1")
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.OriginalKey, got.OriginalKey)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, []domain.Resolution{domain.Resolution720p, domain.Resolution480p}, got.Resolutions)
	assert.Equal(t, "clip.mp4", got.Metadata.VideoName)
}

func TestGetJob_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestUpdateStatus_LegalTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-2")))

	require.NoError(t, store.UpdateStatus(ctx, "job-2", domain.JobStatusProcessing))
	got, err := store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, store.UpdateStatus(ctx, "job-2", domain.JobStatusCompleted))
	got, err = store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateStatus_IllegalTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-3")))
	require.NoError(t, store.UpdateStatus(ctx, "job-3", domain.JobStatusProcessing))
	require.NoError(t, store.UpdateStatus(ctx, "job-3", domain.JobStatusCompleted))

	err := store.UpdateStatus(ctx, "job-3", domain.JobStatusProcessing)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateStatus_RequeueIncrementsRetryCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-4")))
	require.NoError(t, store.UpdateStatus(ctx, "job-4", domain.JobStatusProcessing))
	require.NoError(t, store.UpdateStatus(ctx, "job-4", domain.JobStatusFailed))
	require.NoError(t, store.UpdateStatus(ctx, "job-4", domain.JobStatusQueued))

	got, err := store.GetJob(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestUpdateProgressAndSetError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-5")))

	require.NoError(t, store.UpdateProgress(ctx, "job-5", 42))
	require.NoError(t, store.SetError(ctx, "job-5", "probe failed"))

	got, err := store.GetJob(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
	assert.Equal(t, "probe failed", got.ErrorMessage)
}

func TestCompleteJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-6")))
	require.NoError(t, store.UpdateStatus(ctx, "job-6", domain.JobStatusProcessing))
	meta := domain.JobMetadata{VideoName: "clip.mp4", Environment: domain.EnvironmentStaging}
	require.NoError(t, store.CompleteJob(ctx, "job-6", "output/job-6/master.m3u8", 2048, 12.5, meta))

	got, err := store.GetJob(ctx, "job-6")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "output/job-6/master.m3u8", got.OutputKey)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, int64(2048), got.FileSize)
	assert.Equal(t, 12.5, got.DurationSeconds)
}

func TestListAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := newQueuedJob("job-list-" + string(rune('a'+i)))
		require.NoError(t, store.CreateJob(ctx, job))
	}
	require.NoError(t, store.UpdateStatus(ctx, "job-list-a", domain.JobStatusProcessing))

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	queued, err := store.ListByStatus(ctx, domain.JobStatusQueued, 10, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 2, counts.Queued)
	assert.Equal(t, 1, counts.Processing)
}

func TestDeleteJobCascadesLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-7")))
	require.NoError(t, store.AddLog(ctx, "job-7", domain.LogLevelInfo, "downloaded", "fetched source", ""))

	require.NoError(t, store.DeleteJob(ctx, "job-7"))

	_, err := store.GetJob(ctx, "job-7")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	logs, err := store.GetLogs(ctx, "job-7")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestDeleteJob_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestAddLogAndQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-8")))

	require.NoError(t, store.AddLog(ctx, "job-8", domain.LogLevelInfo, "downloaded", "fetched source", ""))
	require.NoError(t, store.AddLog(ctx, "job-8", domain.LogLevelError, "transcoded", "ffmpeg failed", "exit status 1"))

	logs, err := store.GetLogs(ctx, "job-8")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "downloaded", logs[0].Stage)

	errLogs, err := store.GetErrorLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, errLogs, 1)
	assert.Equal(t, "exit status 1", errLogs[0].Details)

	recent, err := store.GetRecentLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "transcoded", recent[0].Stage)
}

func TestRecent_NewestFirstLimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-9")))
	require.NoError(t, store.CreateJob(ctx, newQueuedJob("job-10")))
	require.NoError(t, store.UpdateStatus(ctx, "job-9", domain.JobStatusProcessing))
	require.NoError(t, store.UpdateStatus(ctx, "job-9", domain.JobStatusCompleted))

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "job-10", recent[0].JobID)

	all, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
