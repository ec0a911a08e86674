package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRetention = 24 * time.Hour

// StartCleaner runs the periodic clean + stalled-entry sweep once every
// `every` (default 1h) until ctx is cancelled. Completed and
// failed entries older than retention (default 24h) are dropped.
func (q *Queue) StartCleaner(ctx context.Context, every, retention time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	if retention <= 0 {
		retention = defaultRetention
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Clean(ctx, retention); err != nil {
				q.log.Error("clean queue", "error", err)
			}
			if err := q.SweepStalled(ctx); err != nil {
				q.log.Error("sweep stalled entries", "error", err)
			}
		}
	}
}

// Clean trims completed and failed entries older than retention.
func (q *Queue) Clean(ctx context.Context, retention time.Duration) error {
	cutoff := float64(time.Now().Add(-retention).UnixMilli())

	for _, set := range []string{q.keys.completed(), q.keys.failed()} {
		ids, err := q.rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(cutoff, 'f', -1, 64)}).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZRemRangeByScore(ctx, set, "-inf", strconv.FormatFloat(cutoff, 'f', -1, 64))
		for _, id := range ids {
			pipe.Del(ctx, q.keys.entry(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SweepStalled finds entries in the active set whose lease has expired
// (the worker holding them died without finalizing) and either requeues
// them for another attempt or marks them permanently failed, matching
// BullMQ's stalled-job recovery.
func (q *Queue) SweepStalled(ctx context.Context) error {
	ids, err := q.rdb.SMembers(ctx, q.keys.active()).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		exists, err := q.rdb.Exists(ctx, q.keys.lease(id)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			continue
		}

		q.events.publish(Event{Type: EventStalled, EntryID: id})

		data, err := q.rdb.Get(ctx, q.keys.entry(id)).Result()
		if err != nil {
			if err == redis.Nil {
				q.rdb.SRem(ctx, q.keys.active(), id)
				continue
			}
			return err
		}
		entry, err := unmarshalEntry(data)
		if err != nil {
			return err
		}

		pipe := q.rdb.TxPipeline()
		pipe.SRem(ctx, q.keys.active(), id)

		now := time.Now().UTC()
		if entry.Attempts < entry.MaxAttempts {
			seq, serr := q.nextSeq(ctx)
			if serr != nil {
				return serr
			}
			entry.Status = StatusWaiting
			pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: priorityScore(entry.Priority, seq), Member: id})
		} else {
			entry.Status = StatusFailed
			entry.FailedReason = "stalled: worker lease expired"
			entry.FinishedAt = &now
			pipe.ZAdd(ctx, q.keys.failed(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		}

		if out, merr := entry.marshal(); merr == nil {
			pipe.Set(ctx, q.keys.entry(id), out, 0)
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
