// Package worker hosts the transcoding pipeline: the stage machine that
// turns a queued job into published HLS output, plus the bounded pool
// that runs it and the reaper that reclaims scratch disk afterward.
package worker

import (
	"context"
	"io"
	"time"

	"github.com/streamrelay/transcoder/internal/callback"
	"github.com/streamrelay/transcoder/internal/checkpoint"
	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/internal/encoder"
	"github.com/streamrelay/transcoder/internal/jobstore"
	"github.com/streamrelay/transcoder/internal/objectstore"
	"github.com/streamrelay/transcoder/internal/queue"
	"github.com/streamrelay/transcoder/shared/logger"
)

// objectStore is the subset of *objectstore.Client the pipeline drives.
// Narrowed to an interface so tests can substitute a fake instead of a
// live B2/S3-compatible bucket.
type objectStore interface {
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, localPath, key, contentType string) (int64, error)
	UploadReader(ctx context.Context, r io.Reader, size int64, key, contentType string) (int64, error)
	DeleteSource(ctx context.Context, key string) error
}

// transcodeDriver is the subset of *encoder.Driver the pipeline drives.
type transcodeDriver interface {
	Probe(ctx context.Context, path string) (*domain.VideoInfo, error)
	GenerateThumbnails(ctx context.Context, localInput, outputDir, videoName string) ([]string, error)
	TranscodeResolution(ctx context.Context, localInput, outputDir string, profile encoder.Profile, durationSeconds float64, progress encoder.ProgressFunc) error
}

// notifier is the subset of *callback.Client the pipeline drives.
type notifier interface {
	Success(ctx context.Context, jobURL string, payload callback.SuccessPayload) error
	Failure(ctx context.Context, jobURL string, payload callback.FailurePayload) error
}

// progressReporter lets the pipeline surface transcode progress to the
// owning queue entry without depending on the full Queue type.
type progressReporter interface {
	ReportProgress(ctx context.Context, entryID string, percent int)
}

// Config bundles every collaborator the pipeline needs to take a job
// from a queue entry to published output.
type Config struct {
	Jobs        *jobstore.Store
	Queue       *queue.Queue
	Checkpoints *checkpoint.Store
	Objects     *objectstore.Client
	Driver      *encoder.Driver
	Callback    *callback.Client
	Logger      *logger.Logger

	Concurrency     int
	ShutdownTimeout time.Duration

	// CompletedRetention and FailedRetention control how long the reaper
	// keeps a terminal job's scratch directory before reclaiming it.
	// Zero means use the package defaults (1h / 24h).
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// Worker runs Concurrency pipeline instances pulling from a Queue.
type Worker struct {
	jobs        *jobstore.Store
	dispatch    *queue.Queue
	reporter    progressReporter
	checkpoints *checkpoint.Store
	objects     objectStore
	driver      transcodeDriver
	callback    notifier
	log         *logger.Logger

	concurrency     int
	shutdownTimeout time.Duration

	completedRetention time.Duration
	failedRetention    time.Duration
}

// New builds a Worker from cfg, defaulting concurrency to 2 and the
// shutdown grace period to 30s when unset.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	completedRetention := cfg.CompletedRetention
	if completedRetention <= 0 {
		completedRetention = reaperCompletedRetention
	}
	failedRetention := cfg.FailedRetention
	if failedRetention <= 0 {
		failedRetention = reaperFailedRetention
	}

	return &Worker{
		jobs:               cfg.Jobs,
		dispatch:           cfg.Queue,
		reporter:           cfg.Queue,
		checkpoints:        cfg.Checkpoints,
		objects:            cfg.Objects,
		driver:             cfg.Driver,
		callback:           cfg.Callback,
		log:                cfg.Logger,
		concurrency:        concurrency,
		shutdownTimeout:    shutdownTimeout,
		completedRetention: completedRetention,
		failedRetention:    failedRetention,
	}
}

// Run subscribes to queue lifecycle events (logged by watchEvents) and
// processes entries until ctx is cancelled, then returns once every
// in-flight pipeline has returned. Run itself puts no time bound on that
// wait; cmd/worker bounds it with the configured shutdown timeout.
func (w *Worker) Run(ctx context.Context) error {
	unsubscribe := w.watchEvents()
	defer unsubscribe()

	err := w.dispatch.Process(ctx, w.concurrency, w.processEntry)

	w.log.Info("worker pool drained")
	return err
}

// watchEvents mirrors queue lifecycle events into structured logs so
// stalled/retried entries are visible without querying Redis directly.
func (w *Worker) watchEvents() func() {
	events, unsubscribe := w.dispatch.Events().Subscribe()
	go func() {
		for evt := range events {
			switch evt.Type {
			case queue.EventStalled:
				w.log.Warn("queue entry stalled", "entry_id", evt.EntryID)
			case queue.EventFailed:
				w.log.Warn("queue entry failed", "entry_id", evt.EntryID, "reason", evt.Data)
			}
		}
	}()
	return unsubscribe
}
