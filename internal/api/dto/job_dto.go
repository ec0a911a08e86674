// Package dto holds the request/response shapes of the submission and
// query API, kept separate from internal/domain so the wire contract can
// evolve independently of the stored representation.
package dto

import (
	"time"

	"github.com/streamrelay/transcoder/internal/domain"
)

// SubmitRequest is the body of POST /transcode.
type SubmitRequest struct {
	OriginalKey string              `json:"original_key" binding:"required"`
	Resolutions []domain.Resolution `json:"resolutions,omitempty"`
	Priority    int                 `json:"priority,omitempty"`
	VideoName   string              `json:"video_name,omitempty"`
	CallbackURL string              `json:"callback_url,omitempty"`
}

// SubmitResponse is returned from a successful POST /transcode, echoing
// back the resolved submission alongside the queued job's identity.
type SubmitResponse struct {
	Success     bool                `json:"success"`
	JobID       string              `json:"jobId"`
	OriginalKey string              `json:"originalKey"`
	VideoName   string              `json:"videoName"`
	Environment domain.Environment  `json:"environment"`
	CallbackURL string              `json:"callbackUrl,omitempty"`
	Resolutions []domain.Resolution `json:"resolutions"`
	Status      domain.JobStatus    `json:"status"`
	Message     string              `json:"message"`
}

// JobResponse is the shape returned by GET /job/{id} and embedded in
// GET /jobs.
type JobResponse struct {
	JobID           string            `json:"job_id"`
	OriginalKey     string            `json:"original_key"`
	OutputKey       string            `json:"output_key,omitempty"`
	Status          domain.JobStatus  `json:"status"`
	Progress        int               `json:"progress"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Resolutions     []domain.Resolution `json:"resolutions"`
	VideoName       string            `json:"video_name"`
	Environment     domain.Environment `json:"environment"`
	CallbackURL     string            `json:"callback_url,omitempty"`
	FileSize        int64             `json:"file_size,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	RetryCount      int               `json:"retry_count"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// FromJob adapts a domain.Job to the wire response shape.
func FromJob(j *domain.Job) JobResponse {
	return JobResponse{
		JobID:           j.JobID,
		OriginalKey:     j.OriginalKey,
		OutputKey:       j.OutputKey,
		Status:          j.Status,
		Progress:        j.Progress,
		ErrorMessage:    j.ErrorMessage,
		Resolutions:     j.Resolutions,
		VideoName:       j.Metadata.VideoName,
		Environment:     j.Metadata.Environment,
		CallbackURL:     j.Metadata.CallbackURL,
		FileSize:        j.FileSize,
		DurationSeconds: j.DurationSeconds,
		RetryCount:      j.RetryCount,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

// ListJobsResponse is the body of GET /jobs.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

// QueueStatsResponse is the body of GET /queue/stats.
type QueueStatsResponse struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// QueueStatusResponse is the body of GET /queue/status.
type QueueStatusResponse struct {
	Paused bool `json:"paused"`
}

// ErrorResponse is the uniform error body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
