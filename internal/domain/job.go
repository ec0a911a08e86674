// Package domain holds the types and error taxonomy shared across the
// job store, queue, checkpoint, and pipeline packages.
package domain

import "time"

// JobStatus is the lifecycle state of a Job record.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Environment is derived from the callback URL at submission time.
type Environment string

const (
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// Resolution is one of the five supported rendition heights.
type Resolution string

const (
	Resolution1080p Resolution = "1080p"
	Resolution720p  Resolution = "720p"
	Resolution480p  Resolution = "480p"
	Resolution360p  Resolution = "360p"
	Resolution240p  Resolution = "240p"
)

// AllResolutions is the closed set in descending quality order, the
// default when a submission omits resolutions.
var AllResolutions = []Resolution{Resolution1080p, Resolution720p, Resolution480p, Resolution360p, Resolution240p}

// IsValidResolution reports whether r belongs to the closed set.
func IsValidResolution(r Resolution) bool {
	for _, v := range AllResolutions {
		if v == r {
			return true
		}
	}
	return false
}

// JobMetadata is the free-form key/value bag attached to a job.
type JobMetadata struct {
	VideoName   string      `json:"video_name"`
	Environment Environment `json:"environment"`
	CallbackURL string      `json:"callback_url,omitempty"`
}

// Job is the durable record tracked by the job store.
type Job struct {
	JobID           string      `db:"job_id" json:"job_id"`
	OriginalKey     string      `db:"original_key" json:"original_key"`
	OutputKey       string      `db:"output_key" json:"output_key"`
	Status          JobStatus   `db:"status" json:"status"`
	Progress        int         `db:"progress" json:"progress"`
	ErrorMessage    string      `db:"error_message" json:"error_message,omitempty"`
	Resolutions     []Resolution `json:"resolutions"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	StartedAt       *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	FileSize        int64       `db:"file_size" json:"file_size"`
	DurationSeconds float64     `db:"duration_seconds" json:"duration_seconds"`
	Metadata        JobMetadata `json:"metadata"`
	RetryCount      int         `db:"retry_count" json:"retry_count"`
	WorkerID        string      `db:"worker_id" json:"worker_id,omitempty"`
}

// LogLevel is the severity of a JobLog entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// JobLog is one append-only entry scoped to a job_id.
type JobLog struct {
	ID        int64     `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Level     LogLevel  `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
	Stage     string    `db:"stage" json:"stage,omitempty"`
	Details   string    `db:"details" json:"details,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// JobCounts is the breakdown returned by the job store's counts() operation.
type JobCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
