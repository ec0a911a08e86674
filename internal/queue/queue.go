// Package queue is a BullMQ-shaped priority/delay/retry work queue built
// directly on Redis primitives: a priority-ordered waiting zset, a
// delayed zset promoted on a schedule, an active set guarded by
// per-entry leases, and retention-bounded completed/failed zsets.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/shared/logger"
)

const (
	defaultMaxAttempts  = 3
	defaultBackoffBase  = 2 * time.Second
	defaultBackoffCap   = 5 * time.Minute
	defaultLease        = 5 * time.Minute
	priorityScoreWeight = 1e13
)

// Config configures a Queue's Redis connection and timing behavior.
type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	StallWindow  time.Duration
	CleanupEvery time.Duration
}

// Queue is a single named BullMQ-shaped work queue over Redis.
type Queue struct {
	rdb    *redis.Client
	keys   keys
	log    *logger.Logger
	name   string
	stall  time.Duration
	lease  time.Duration
	events *eventBus

	seqMu sync.Mutex
}

// New dials Redis and returns a Queue ready to Add/Process work. name
// identifies the job type processed by this queue (spec calls this the
// "transcode" queue).
func New(cfg Config, name string, log *logger.Logger) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	stall := cfg.StallWindow
	if stall <= 0 {
		stall = defaultLease
	}

	return &Queue{
		rdb:    rdb,
		keys:   newKeys(cfg.KeyPrefix),
		log:    log,
		name:   name,
		stall:  stall,
		lease:  stall,
		events: newEventBus(),
	}, nil
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Events returns the queue's lifecycle event bus. Subscribers receive
// active/progress/completed/failed/stalled notifications.
func (q *Queue) Events() *eventBus {
	return q.events
}

func (q *Queue) nextSeq(ctx context.Context) (int64, error) {
	return q.rdb.Incr(ctx, q.keys.seq()).Result()
}

func priorityScore(priority int, seq int64) float64 {
	return float64(priority)*priorityScoreWeight + float64(seq)
}

// Add enqueues a new entry. A zero Delay makes it immediately eligible
// for dequeue, ordered by priority then insertion order.
func (q *Queue) Add(ctx context.Context, payload domain.QueuePayload, opts AddOptions) (*Entry, error) {
	seq, err := q.nextSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	entry := &Entry{
		ID:          id,
		Name:        q.name,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		Priority:    opts.Priority,
		CreatedAt:   time.Now().UTC(),
	}

	score := priorityScore(opts.Priority, seq)

	data, err := entry.marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.keys.entry(entry.ID), data, 0)
	if opts.Delay > 0 {
		entry.Status = StatusDelayed
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: readyAt, Member: entry.ID})
		pipe.Set(ctx, q.keys.entry(entry.ID)+":score", score, opts.Delay+time.Hour)
	} else {
		entry.Status = StatusWaiting
		pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: score, Member: entry.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue entry: %w", err)
	}

	return entry, nil
}

// promoteDelayed moves every delayed entry whose ready time has passed
// into the waiting zset with its original priority score.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, q.keys.delayed(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return err
	}

	for _, id := range due {
		scoreStr, err := q.rdb.Get(ctx, q.keys.entry(id)+":score").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var score float64
		if scoreStr != "" {
			fmt.Sscanf(scoreStr, "%f", &score)
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: score, Member: id})
		pipe.ZRem(ctx, q.keys.delayed(), id)
		pipe.Del(ctx, q.keys.entry(id)+":score")
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}

		if err := q.updateEntry(ctx, id, func(e *Entry) { e.Status = StatusWaiting }); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) updateEntry(ctx context.Context, id string, mutate func(*Entry)) error {
	data, err := q.rdb.Get(ctx, q.keys.entry(id)).Result()
	if err != nil {
		return err
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		return err
	}
	mutate(entry)
	out, err := entry.marshal()
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.keys.entry(id), out, 0).Err()
}

// Handler processes one entry. A non-nil error triggers backoff retry
// until MaxAttempts is exhausted, then the entry is marked failed.
type Handler func(ctx context.Context, entry *Entry) error

// Process runs concurrency worker goroutines pulling from the queue
// until ctx is cancelled. It blocks until all workers have returned.
func (q *Queue) Process(ctx context.Context, concurrency int, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (q *Queue) workerLoop(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDelayed(ctx); err != nil {
				q.log.Error("promote delayed entries", "error", err)
			}

			paused, err := q.IsPaused(ctx)
			if err != nil {
				q.log.Error("check pause state", "error", err)
				continue
			}
			if paused {
				continue
			}

			entry, err := q.dequeue(ctx)
			if err != nil {
				q.log.Error("dequeue entry", "error", err)
				continue
			}
			if entry == nil {
				continue
			}

			q.runOne(ctx, entry, handler)
		}
	}
}

func (q *Queue) dequeue(ctx context.Context) (*Entry, error) {
	now := time.Now().UnixMilli()
	res, err := dequeueScript.Run(ctx, q.rdb, []string{q.keys.waiting(), q.keys.active()},
		q.keys.lease(""), q.lease.Milliseconds(), now).Result()
	if err != nil {
		return nil, err
	}
	id, _ := res.(string)
	if id == "" {
		return nil, nil
	}

	data, err := q.rdb.Get(ctx, q.keys.entry(id)).Result()
	if err != nil {
		return nil, err
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		return nil, err
	}
	entry.Status = StatusActive
	now2 := time.Now().UTC()
	entry.ProcessedAt = &now2
	if out, err := entry.marshal(); err == nil {
		q.rdb.Set(ctx, q.keys.entry(id), out, 0)
	}
	return entry, nil
}

func (q *Queue) runOne(ctx context.Context, entry *Entry, handler Handler) {
	q.events.publish(Event{Type: EventActive, EntryID: entry.ID})
	entry.Attempts++

	// Renew the lease while the handler runs so SweepStalled only sees an
	// expired lease once this worker has stopped heartbeating.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(q.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				q.rdb.PExpire(hbCtx, q.keys.lease(entry.ID), q.lease)
			}
		}
	}()
	err := handler(ctx, entry)
	stopHeartbeat()

	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keys.active(), entry.ID)
	pipe.Del(ctx, q.keys.lease(entry.ID))

	now := time.Now().UTC()
	if err == nil {
		entry.Status = StatusCompleted
		entry.FinishedAt = &now
		pipe.ZAdd(ctx, q.keys.completed(), redis.Z{Score: float64(now.UnixMilli()), Member: entry.ID})
		q.events.publish(Event{Type: EventCompleted, EntryID: entry.ID})
	} else if entry.Attempts < entry.MaxAttempts {
		entry.Status = StatusDelayed
		entry.FailedReason = err.Error()
		backoff := CalculateBackoff(entry.Attempts)
		readyAt := float64(now.Add(backoff).UnixMilli())
		pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: readyAt, Member: entry.ID})
		seq, _ := q.nextSeq(ctx)
		pipe.Set(ctx, q.keys.entry(entry.ID)+":score", priorityScore(entry.Priority, seq), backoff+time.Hour)
		q.events.publish(Event{Type: EventFailed, EntryID: entry.ID, Data: err.Error()})
	} else {
		entry.Status = StatusFailed
		entry.FailedReason = err.Error()
		entry.FinishedAt = &now
		pipe.ZAdd(ctx, q.keys.failed(), redis.Z{Score: float64(now.UnixMilli()), Member: entry.ID})
		q.events.publish(Event{Type: EventFailed, EntryID: entry.ID, Data: err.Error()})
	}

	if data, merr := entry.marshal(); merr == nil {
		pipe.Set(ctx, q.keys.entry(entry.ID), data, 0)
	}

	if _, execErr := pipe.Exec(ctx); execErr != nil {
		q.log.Error("finalize entry", "entry_id", entry.ID, "error", execErr)
	}
}

// CalculateBackoff returns the exponential backoff delay for the
// attemptsMade-th retry: base * 2^(attemptsMade-1), capped.
func CalculateBackoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	d := time.Duration(float64(defaultBackoffBase) * math.Pow(2, float64(attemptsMade-1)))
	if d > defaultBackoffCap {
		return defaultBackoffCap
	}
	return d
}

// ReportProgress emits a progress event for an in-flight entry; the
// pipeline calls this as the transcode stage advances.
func (q *Queue) ReportProgress(ctx context.Context, entryID string, percent int) {
	q.events.publish(Event{Type: EventProgress, EntryID: entryID, Data: percent})
}

// Pause stops new entries from being dequeued; in-flight entries finish.
func (q *Queue) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, q.keys.paused(), "1", 0).Err()
}

// Resume clears the paused flag.
func (q *Queue) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, q.keys.paused()).Err()
}

// IsPaused reports the current pause state.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.keys.paused()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Counts returns the size of each queue state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, q.keys.waiting())
	delayed := pipe.ZCard(ctx, q.keys.delayed())
	active := pipe.SCard(ctx, q.keys.active())
	completed := pipe.ZCard(ctx, q.keys.completed())
	failed := pipe.ZCard(ctx, q.keys.failed())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("count queue: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// ActiveEntries returns the entries currently leased to a worker.
func (q *Queue) ActiveEntries(ctx context.Context) ([]*Entry, error) {
	ids, err := q.rdb.SMembers(ctx, q.keys.active()).Result()
	if err != nil {
		return nil, err
	}
	return q.fetchEntries(ctx, ids)
}

// FailedEntries returns up to limit terminally-failed entries, most
// recently failed first.
func (q *Queue) FailedEntries(ctx context.Context, limit int64) ([]*Entry, error) {
	ids, err := q.rdb.ZRevRange(ctx, q.keys.failed(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	return q.fetchEntries(ctx, ids)
}

func (q *Queue) fetchEntries(ctx context.Context, ids []string) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		data, err := q.rdb.Get(ctx, q.keys.entry(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entry, err := unmarshalEntry(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Retry re-queues a failed entry for another attempt, resetting its
// attempt counter.
func (q *Queue) Retry(ctx context.Context, entryID string) error {
	data, err := q.rdb.Get(ctx, q.keys.entry(entryID)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("entry %s not found", entryID)
	}
	if err != nil {
		return err
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		return err
	}

	entry.Attempts = 0
	entry.Status = StatusWaiting
	entry.FailedReason = ""
	entry.FinishedAt = nil

	seq, err := q.nextSeq(ctx)
	if err != nil {
		return err
	}
	score := priorityScore(entry.Priority, seq)

	out, err := entry.marshal()
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.keys.failed(), entryID)
	pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: score, Member: entryID})
	pipe.Set(ctx, q.keys.entry(entryID), out, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes an entry from every set it might be tracked in.
func (q *Queue) Remove(ctx context.Context, entryID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.keys.waiting(), entryID)
	pipe.ZRem(ctx, q.keys.delayed(), entryID)
	pipe.SRem(ctx, q.keys.active(), entryID)
	pipe.ZRem(ctx, q.keys.completed(), entryID)
	pipe.ZRem(ctx, q.keys.failed(), entryID)
	pipe.Del(ctx, q.keys.entry(entryID))
	pipe.Del(ctx, q.keys.lease(entryID))
	_, err := pipe.Exec(ctx)
	return err
}
