package handler

import (
	"context"

	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/internal/jobstore"
	"github.com/streamrelay/transcoder/internal/queue"
	"github.com/streamrelay/transcoder/shared/logger"
)

// dispatcher is the subset of *queue.Queue the handlers drive. Narrowed
// to an interface so tests can substitute a fake instead of a live
// Redis-backed queue.
type dispatcher interface {
	Add(ctx context.Context, payload domain.QueuePayload, opts queue.AddOptions) (*queue.Entry, error)
	Remove(ctx context.Context, entryID string) error
	Retry(ctx context.Context, entryID string) error
	Counts(ctx context.Context) (queue.Counts, error)
	IsPaused(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Dependencies holds everything the job handlers need to serve a
// request: the durable job record, the dispatch queue, and a logger.
type Dependencies struct {
	Logger *logger.Logger
	Jobs   *jobstore.Store
	Queue  *queue.Queue
}

// JobHandler handles the submission and query API's HTTP endpoints.
type JobHandler struct {
	log   *logger.Logger
	jobs  *jobstore.Store
	queue dispatcher
}

// NewJobHandler creates a new JobHandler instance.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		log:   deps.Logger,
		jobs:  deps.Jobs,
		queue: deps.Queue,
	}
}
