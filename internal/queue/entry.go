package queue

import (
	"encoding/json"
	"time"

	"github.com/streamrelay/transcoder/internal/domain"
)

// Status is the lifecycle state of a queue entry, mirroring BullMQ's
// waiting/active/completed/failed/delayed state machine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one unit of queued work: a transcoding job's payload plus the
// bookkeeping the queue needs to schedule, retry, and report on it.
type Entry struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Payload      domain.QueuePayload `json:"payload"`
	Priority     int                 `json:"priority"`
	Attempts     int                 `json:"attempts"`
	MaxAttempts  int                 `json:"max_attempts"`
	Status       Status              `json:"status"`
	FailedReason string              `json:"failed_reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ProcessedAt  *time.Time          `json:"processed_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

func (e *Entry) marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalEntry(data string) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AddOptions controls how Add schedules a new entry.
type AddOptions struct {
	// ID, if set, becomes the entry's ID instead of a generated uuid.
	// The submission API sets this to the job_id so callers can cancel
	// or retry a queue entry by the same ID the job store uses.
	ID string
	// Priority, lower value dequeues first. Zero is normal priority.
	Priority int
	// Delay postpones eligibility for dequeue.
	Delay time.Duration
	// MaxAttempts caps the total attempts before the entry is marked
	// failed; defaults to 3.
	MaxAttempts int
}

// Counts is the breakdown returned by Queue.Counts.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
