package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/streamrelay/transcoder/internal/api/dto"
	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/internal/queue"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100

	// maxJobAttempts is the retry budget handed to every queue entry at
	// submission time, mirroring queue.defaultMaxAttempts explicitly so
	// the contract holds even if the queue package's default changes.
	maxJobAttempts = 3
)

// Submit handles POST /transcode: validates the request, creates the
// durable job record, and enqueues it for the worker pool.
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := normalizeSubmission(req)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	payload.JobID = uuid.NewString()

	job := &domain.Job{
		JobID:       payload.JobID,
		OriginalKey: payload.OriginalKey,
		Status:      domain.JobStatusQueued,
		Resolutions: payload.Resolutions,
		CreatedAt:   time.Now().UTC(),
		Metadata: domain.JobMetadata{
			VideoName:   payload.VideoName,
			Environment: payload.Environment,
			CallbackURL: payload.CallbackURL,
		},
	}

	if err := h.jobs.CreateJob(c.Request.Context(), job); err != nil {
		h.log.Error("create job record", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to create job")
		return
	}

	priority := req.Priority
	if _, err := h.queue.Add(c.Request.Context(), payload, queue.AddOptions{ID: payload.JobID, Priority: priority, MaxAttempts: maxJobAttempts}); err != nil {
		h.log.Error("enqueue job", slog.String("job_id", payload.JobID), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		Success:     true,
		JobID:       job.JobID,
		OriginalKey: job.OriginalKey,
		VideoName:   job.Metadata.VideoName,
		Environment: job.Metadata.Environment,
		CallbackURL: job.Metadata.CallbackURL,
		Resolutions: job.Resolutions,
		Status:      job.Status,
		Message:     "job accepted for transcoding",
	})
}

// GetJob handles GET /job/{id}.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error("get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /jobs?status=&page=&limit=.
func (h *JobHandler) ListJobs(c *gin.Context) {
	page := queryInt(c, "page", defaultPage)
	if page < 1 {
		page = defaultPage
	}
	limit := queryInt(c, "limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := (page - 1) * limit

	status := c.Query("status")

	var (
		jobs []*domain.Job
		err  error
	)
	if status != "" {
		jobs, err = h.jobs.ListByStatus(c.Request.Context(), domain.JobStatus(status), limit, offset)
	} else {
		jobs, err = h.jobs.List(c.Request.Context(), limit, offset)
	}
	if err != nil {
		h.log.Error("list jobs", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	counts, err := h.jobs.Counts(c.Request.Context())
	if err != nil {
		h.log.Error("count jobs", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to count jobs")
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobResponse, len(jobs)), Page: page, Limit: limit, Total: counts.Total}
	for i, j := range jobs {
		resp.Jobs[i] = dto.FromJob(j)
	}
	c.JSON(http.StatusOK, resp)
}

// CancelJob handles DELETE /job/{id}. Only a still-queued job can be
// canceled; a job already being worked on must run to its terminal
// state.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job.Status != domain.JobStatusQueued {
		respondError(c, http.StatusConflict, "only a queued job can be canceled")
		return
	}

	if err := h.queue.Remove(c.Request.Context(), jobID); err != nil {
		h.log.Error("remove queue entry", slog.String("job_id", jobID), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if err := h.jobs.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.log.Error("delete job record", slog.String("job_id", jobID), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	c.Status(http.StatusNoContent)
}

// RetryJob handles POST /job/{id}/retry. Only a failed job can be
// retried.
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job.Status != domain.JobStatusFailed {
		respondError(c, http.StatusConflict, "only a failed job can be retried")
		return
	}

	if err := h.queue.Retry(c.Request.Context(), jobID); err != nil {
		h.log.Error("retry queue entry", slog.String("job_id", jobID), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to retry job")
		return
	}
	if err := h.jobs.UpdateStatus(c.Request.Context(), jobID, domain.JobStatusQueued); err != nil {
		h.log.Error("reset job status", slog.String("job_id", jobID), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to retry job")
		return
	}

	c.JSON(http.StatusOK, dto.SubmitResponse{
		Success:     true,
		JobID:       jobID,
		OriginalKey: job.OriginalKey,
		VideoName:   job.Metadata.VideoName,
		Environment: job.Metadata.Environment,
		CallbackURL: job.Metadata.CallbackURL,
		Resolutions: job.Resolutions,
		Status:      domain.JobStatusQueued,
		Message:     "job requeued for transcoding",
	})
}

// QueueStats handles GET /queue/stats.
func (h *JobHandler) QueueStats(c *gin.Context) {
	counts, err := h.queue.Counts(c.Request.Context())
	if err != nil {
		h.log.Error("queue counts", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatsResponse{
		Waiting:   counts.Waiting,
		Delayed:   counts.Delayed,
		Active:    counts.Active,
		Completed: counts.Completed,
		Failed:    counts.Failed,
	})
}

// QueueStatus handles GET /queue/status.
func (h *JobHandler) QueueStatus(c *gin.Context) {
	paused, err := h.queue.IsPaused(c.Request.Context())
	if err != nil {
		h.log.Error("queue pause state", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to get queue status")
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatusResponse{Paused: paused})
}

// PauseQueue handles POST /queue/pause.
func (h *JobHandler) PauseQueue(c *gin.Context) {
	if err := h.queue.Pause(c.Request.Context()); err != nil {
		h.log.Error("pause queue", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to pause queue")
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatusResponse{Paused: true})
}

// ResumeQueue handles POST /queue/resume.
func (h *JobHandler) ResumeQueue(c *gin.Context) {
	if err := h.queue.Resume(c.Request.Context()); err != nil {
		h.log.Error("resume queue", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "failed to resume queue")
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatusResponse{Paused: false})
}

// Health handles GET /health.
func (h *JobHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, dto.ErrorResponse{Error: message})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
