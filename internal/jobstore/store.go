// Package jobstore is the embedded, durable record of every transcoding
// job: status, progress, resolutions, and an append-only log trail scoped
// to each job_id.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/shared/logger"
)

// legalTransitions enumerates the status changes UpdateStatus will accept;
// anything else returns domain.ErrInvalidTransition.
var legalTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusQueued:     {domain.JobStatusProcessing, domain.JobStatusFailed},
	domain.JobStatusProcessing: {domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed},
	domain.JobStatusCompleted:  {},
	domain.JobStatusFailed:     {domain.JobStatusQueued},
}

// Store is the SQLite-backed job store. A single file holds both the
// jobs table and its job_logs trail; WAL mode lets the API and worker
// processes share the file without blocking each other on every write.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// Open creates (if necessary) the database file at path, enables WAL
// mode, and runs the schema migration.
func Open(path string, maxOpenConns int, busyTimeout time.Duration, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", path, busyTimeout.Milliseconds())
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type jobRow struct {
	JobID           string     `db:"job_id"`
	OriginalKey     string     `db:"original_key"`
	OutputKey       string     `db:"output_key"`
	Status          string     `db:"status"`
	Progress        int        `db:"progress"`
	ErrorMessage    string     `db:"error_message"`
	Resolutions     string     `db:"resolutions"`
	CreatedAt       time.Time  `db:"created_at"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	FileSize        int64      `db:"file_size"`
	DurationSeconds float64    `db:"duration_seconds"`
	VideoName       string     `db:"video_name"`
	Environment     string     `db:"environment"`
	CallbackURL     string     `db:"callback_url"`
	RetryCount      int        `db:"retry_count"`
	WorkerID        string     `db:"worker_id"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	var resolutions []domain.Resolution
	if err := json.Unmarshal([]byte(r.Resolutions), &resolutions); err != nil {
		return nil, fmt.Errorf("decode resolutions: %w", err)
	}

	return &domain.Job{
		JobID:           r.JobID,
		OriginalKey:     r.OriginalKey,
		OutputKey:       r.OutputKey,
		Status:          domain.JobStatus(r.Status),
		Progress:        r.Progress,
		ErrorMessage:    r.ErrorMessage,
		Resolutions:     resolutions,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		FileSize:        r.FileSize,
		DurationSeconds: r.DurationSeconds,
		Metadata: domain.JobMetadata{
			VideoName:   r.VideoName,
			Environment: domain.Environment(r.Environment),
			CallbackURL: r.CallbackURL,
		},
		RetryCount: r.RetryCount,
		WorkerID:   r.WorkerID,
	}, nil
}

// CreateJob inserts a new queued job record.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	resolutions, err := json.Marshal(job.Resolutions)
	if err != nil {
		return fmt.Errorf("encode resolutions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, original_key, output_key, status, progress, resolutions,
			created_at, file_size, video_name, environment, callback_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.OriginalKey, job.OutputKey, job.Status, job.Progress, string(resolutions),
		job.CreatedAt, job.FileSize, job.Metadata.VideoName, job.Metadata.Environment, job.Metadata.CallbackURL,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toDomain()
}

// GetJobWithLogs fetches a job and its full log trail, oldest first.
func (s *Store) GetJobWithLogs(ctx context.Context, jobID string) (*domain.Job, []domain.JobLog, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.GetLogs(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, logs, nil
}

// UpdateStatus transitions a job's status, rejecting transitions outside
// the legal set. Moving into processing stamps started_at; moving into a
// terminal status stamps completed_at.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, next domain.JobStatus) error {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	allowed := false
	for _, candidate := range legalTransitions[current.Status] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
	}

	now := time.Now().UTC()
	switch next {
	case domain.JobStatusProcessing:
		if current.Status != domain.JobStatusProcessing {
			_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ? WHERE job_id = ?`, next, now, jobID)
		} else {
			_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE job_id = ?`, next, jobID)
		}
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, completed_at = ? WHERE job_id = ?`, next, now, jobID)
	case domain.JobStatusQueued:
		_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, retry_count = retry_count + 1, completed_at = NULL, error_message = '' WHERE job_id = ?`, next, jobID)
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE job_id = ?`, next, jobID)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// UpdateProgress sets the 0-100 progress percentage reported by the
// pipeline during the transcode stage.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress = ? WHERE job_id = ?`, progress, jobID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// SetError records a failure message without changing status; callers
// typically follow with UpdateStatus(jobID, JobStatusFailed).
func (s *Store) SetError(ctx context.Context, jobID, message string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET error_message = ? WHERE job_id = ?`, message, jobID)
	if err != nil {
		return fmt.Errorf("set error: %w", err)
	}
	return nil
}

// CompleteJob marks a job completed, recording the published output
// key, total output size, source duration, and any metadata updates
// discovered during processing (e.g. a derived video_name).
func (s *Store) CompleteJob(ctx context.Context, jobID, outputKey string, size int64, duration float64, metadata domain.JobMetadata) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, output_key = ?, progress = 100, completed_at = ?,
			file_size = ?, duration_seconds = ?, video_name = ?, environment = ?, callback_url = ?
		WHERE job_id = ?`,
		domain.JobStatusCompleted, outputKey, now, size, duration,
		metadata.VideoName, metadata.Environment, metadata.CallbackURL, jobID,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// List returns jobs ordered newest-first, optionally paginated.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return rowsToDomain(rows)
}

// ListByStatus returns jobs in a given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status domain.JobStatus, limit, offset int) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return rowsToDomain(rows)
}

// Counts returns the breakdown of jobs by status.
func (s *Store) Counts(ctx context.Context) (domain.JobCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		N       int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM jobs GROUP BY status`)
	if err != nil {
		return domain.JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}

	var counts domain.JobCounts
	for _, r := range rows {
		counts.Total += r.N
		switch domain.JobStatus(r.Status) {
		case domain.JobStatusQueued:
			counts.Queued = r.N
		case domain.JobStatusProcessing:
			counts.Processing = r.N
		case domain.JobStatusCompleted:
			counts.Completed = r.N
		case domain.JobStatusFailed:
			counts.Failed = r.N
		}
	}
	return counts, nil
}

// Recent returns the most recently created jobs across all statuses,
// newest first, limited to limit rows.
func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	return rowsToDomain(rows)
}

// DeleteJob removes a job and, via ON DELETE CASCADE, its log trail.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// AddLog appends one entry to a job's log trail.
func (s *Store) AddLog(ctx context.Context, jobID string, level domain.LogLevel, stage, message, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, stage, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, level, message, stage, details, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add log: %w", err)
	}
	return nil
}

// GetLogs returns a job's full log trail, oldest first.
func (s *Store) GetLogs(ctx context.Context, jobID string) ([]domain.JobLog, error) {
	var logs []domain.JobLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, job_id, level, message, stage, details, created_at
		FROM job_logs WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}
	return logs, nil
}

// GetRecentLogs returns the most recent n entries across all jobs,
// newest first, used by an operator-facing tail view.
func (s *Store) GetRecentLogs(ctx context.Context, n int) ([]domain.JobLog, error) {
	var logs []domain.JobLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, job_id, level, message, stage, details, created_at
		FROM job_logs ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("get recent logs: %w", err)
	}
	return logs, nil
}

// GetErrorLogs returns the most recent error-level entries across all
// jobs, newest first, limited to limit rows.
func (s *Store) GetErrorLogs(ctx context.Context, limit int) ([]domain.JobLog, error) {
	var logs []domain.JobLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, job_id, level, message, stage, details, created_at
		FROM job_logs WHERE level = ? ORDER BY created_at DESC LIMIT ?`, domain.LogLevelError, limit)
	if err != nil {
		return nil, fmt.Errorf("get error logs: %w", err)
	}
	return logs, nil
}

func rowsToDomain(rows []jobRow) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
