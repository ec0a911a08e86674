package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/transcoder/internal/api/dto"
	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/internal/jobstore"
	"github.com/streamrelay/transcoder/internal/queue"
	"github.com/streamrelay/transcoder/shared/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDispatcher struct {
	added   []domain.QueuePayload
	addOpts []queue.AddOptions
	removed []string
	retried []string

	counts    queue.Counts
	paused    bool
	pauseErr  error
	resumeErr error
	addErr    error
}

func (f *fakeDispatcher) Add(_ context.Context, payload domain.QueuePayload, opts queue.AddOptions) (*queue.Entry, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, payload)
	f.addOpts = append(f.addOpts, opts)
	return &queue.Entry{ID: opts.ID, Payload: payload}, nil
}

func (f *fakeDispatcher) Remove(_ context.Context, entryID string) error {
	f.removed = append(f.removed, entryID)
	return nil
}

func (f *fakeDispatcher) Retry(_ context.Context, entryID string) error {
	f.retried = append(f.retried, entryID)
	return nil
}

func (f *fakeDispatcher) Counts(_ context.Context) (queue.Counts, error) {
	return f.counts, nil
}

func (f *fakeDispatcher) IsPaused(_ context.Context) (bool, error) {
	return f.paused, nil
}

func (f *fakeDispatcher) Pause(_ context.Context) error {
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.paused = true
	return nil
}

func (f *fakeDispatcher) Resume(_ context.Context) error {
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.paused = false
	return nil
}

type testHandler struct {
	h    *JobHandler
	jobs *jobstore.Store
	q    *fakeDispatcher
}

func newTestHandler(t *testing.T) *testHandler {
	t.Helper()
	dir := t.TempDir()
	jobs, err := jobstore.Open(filepath.Join(dir, "jobs.db"), 1, time.Second, logger.NewDefault())
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	q := &fakeDispatcher{}
	h := &JobHandler{log: logger.NewDefault(), jobs: jobs, queue: q}
	return &testHandler{h: h, jobs: jobs, q: q}
}

func (th *testHandler) router() *gin.Engine {
	r := gin.New()
	r.GET("/health", th.h.Health)
	r.POST("/transcode", th.h.Submit)
	r.GET("/job/:id", th.h.GetJob)
	r.DELETE("/job/:id", th.h.CancelJob)
	r.POST("/job/:id/retry", th.h.RetryJob)
	r.GET("/jobs", th.h.ListJobs)
	r.GET("/queue/stats", th.h.QueueStats)
	r.GET("/queue/status", th.h.QueueStatus)
	r.POST("/queue/pause", th.h.PauseQueue)
	r.POST("/queue/resume", th.h.ResumeQueue)
	return r
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSubmit_CreatesJobAndEnqueuesIt(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodPost, "/transcode", dto.SubmitRequest{
		OriginalKey: "uploads/clip.mp4",
		Resolutions: []domain.Resolution{domain.Resolution720p},
		CallbackURL: "https://stage.example.com/hooks/done",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp dto.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, domain.JobStatusQueued, resp.Status)

	require.Len(t, th.q.added, 1)
	assert.Equal(t, "uploads/clip.mp4", th.q.added[0].OriginalKey)
	assert.Equal(t, domain.EnvironmentStaging, th.q.added[0].Environment)
	require.Len(t, th.q.addOpts, 1)
	assert.Equal(t, resp.JobID, th.q.addOpts[0].ID)

	job, err := th.jobs.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
}

func TestSubmit_RejectsMissingOriginalKey(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodPost, "/transcode", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, th.q.added)
}

func TestSubmit_RejectsInvalidResolution(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodPost, "/transcode", map[string]any{
		"original_key": "uploads/clip.mp4",
		"resolutions":  []string{"4k"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_ReturnsJobResponse(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	require.NoError(t, th.jobs.CreateJob(context.Background(), &domain.Job{
		JobID:       "job-1",
		OriginalKey: "uploads/clip.mp4",
		Status:      domain.JobStatusQueued,
		Resolutions: []domain.Resolution{domain.Resolution720p},
		CreatedAt:   time.Now().UTC(),
	}))

	rec := doJSON(r, http.MethodGet, "/job/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
}

func TestGetJob_ReturnsNotFoundForUnknownJob(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodGet, "/job/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs_PaginatesAndReportsTotal(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	for i := 0; i < 3; i++ {
		require.NoError(t, th.jobs.CreateJob(context.Background(), &domain.Job{
			JobID:       string(rune('a' + i)),
			OriginalKey: "uploads/clip.mp4",
			Status:      domain.JobStatusQueued,
			Resolutions: domain.AllResolutions,
			CreatedAt:   time.Now().UTC(),
		}))
	}

	rec := doJSON(r, http.MethodGet, "/jobs?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 2, resp.Limit)
}

func TestListJobs_ClampsLimitToMax(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodGet, "/jobs?limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, maxLimit, resp.Limit)
}

func TestCancelJob_RemovesQueuedJob(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	require.NoError(t, th.jobs.CreateJob(context.Background(), &domain.Job{
		JobID:       "job-1",
		OriginalKey: "uploads/clip.mp4",
		Status:      domain.JobStatusQueued,
		Resolutions: domain.AllResolutions,
		CreatedAt:   time.Now().UTC(),
	}))

	rec := doJSON(r, http.MethodDelete, "/job/job-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"job-1"}, th.q.removed)

	_, err := th.jobs.GetJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCancelJob_RejectsNonQueuedJob(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	require.NoError(t, th.jobs.CreateJob(context.Background(), &domain.Job{
		JobID:       "job-1",
		OriginalKey: "uploads/clip.mp4",
		Status:      domain.JobStatusProcessing,
		Resolutions: domain.AllResolutions,
		CreatedAt:   time.Now().UTC(),
	}))

	rec := doJSON(r, http.MethodDelete, "/job/job-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, th.q.removed)
}

func TestRetryJob_RequeuesFailedJob(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	require.NoError(t, th.jobs.CreateJob(context.Background(), &domain.Job{
		JobID:       "job-1",
		OriginalKey: "uploads/clip.mp4",
		Status:      domain.JobStatusQueued,
		Resolutions: domain.AllResolutions,
		CreatedAt:   time.Now().UTC(),
	}))
	require.NoError(t, th.jobs.UpdateStatus(context.Background(), "job-1", domain.JobStatusProcessing))
	require.NoError(t, th.jobs.UpdateStatus(context.Background(), "job-1", domain.JobStatusFailed))

	rec := doJSON(r, http.MethodPost, "/job/job-1/retry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"job-1"}, th.q.retried)

	job, err := th.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
}

func TestRetryJob_RejectsNonFailedJob(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	require.NoError(t, th.jobs.CreateJob(context.Background(), &domain.Job{
		JobID:       "job-1",
		OriginalKey: "uploads/clip.mp4",
		Status:      domain.JobStatusQueued,
		Resolutions: domain.AllResolutions,
		CreatedAt:   time.Now().UTC(),
	}))

	rec := doJSON(r, http.MethodPost, "/job/job-1/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, th.q.retried)
}

func TestQueueStats_ReflectsDispatcherCounts(t *testing.T) {
	th := newTestHandler(t)
	th.q.counts = queue.Counts{Waiting: 2, Active: 1, Completed: 5, Failed: 1}
	r := th.router()

	rec := doJSON(r, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.QueueStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Waiting)
	assert.Equal(t, int64(5), resp.Completed)
}

func TestPauseAndResumeQueue(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodPost, "/queue/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, th.q.paused)

	rec = doJSON(r, http.MethodGet, "/queue/status", nil)
	var status dto.QueueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Paused)

	rec = doJSON(r, http.MethodPost, "/queue/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, th.q.paused)
}

func TestHealth_ReturnsOK(t *testing.T) {
	th := newTestHandler(t)
	r := th.router()

	rec := doJSON(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
