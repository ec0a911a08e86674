package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/streamrelay/transcoder/internal/domain"
)

// reaperDefaultInterval, completedRetention, and failedRetention match
// §4.8: a completed job's scratch directory is reclaimed after 1h, a
// failed one after 24h (giving an operator a window to inspect it),
// and any directory with no checkpoint file at all is an orphan,
// deleted on sight.
const (
	reaperDefaultInterval    = time.Hour
	reaperCompletedRetention = time.Hour
	reaperFailedRetention    = 24 * time.Hour
)

// RunReaper scans the checkpoint store's scratch root every interval
// (defaulting to reaperDefaultInterval) until ctx is cancelled, deleting
// job directories whose checkpoint stage/age qualifies for cleanup.
func (w *Worker) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = reaperDefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.log.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one reaper pass and logs the number of bytes freed.
func (w *Worker) Sweep(ctx context.Context) error {
	root := w.checkpoints.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var freed int64
	var removed int
	now := time.Now().UTC()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		jobDir := filepath.Join(root, jobID)
		statePath := filepath.Join(jobDir, "job_state.json")

		stateBytes, err := os.ReadFile(statePath)
		if err != nil {
			if os.IsNotExist(err) {
				// Orphan directory: no checkpoint at all.
				size, _ := dirSize(jobDir)
				if rmErr := os.RemoveAll(jobDir); rmErr == nil {
					freed += size
					removed++
				}
				continue
			}
			w.log.Warn("read checkpoint during sweep", "job_id", jobID, "error", err)
			continue
		}

		var state struct {
			Stage     domain.Stage `json:"stage"`
			UpdatedAt time.Time    `json:"updated_at"`
		}
		if err := json.Unmarshal(stateBytes, &state); err != nil {
			w.log.Warn("decode checkpoint during sweep", "job_id", jobID, "error", err)
			continue
		}

		var stale bool
		switch state.Stage {
		case domain.StageCompleted:
			stale = now.Sub(state.UpdatedAt) > w.completedRetention
		case domain.StageFailed:
			stale = now.Sub(state.UpdatedAt) > w.failedRetention
		}
		if !stale {
			continue
		}

		size, _ := dirSize(jobDir)
		if err := os.RemoveAll(jobDir); err != nil {
			w.log.Warn("remove job scratch directory", "job_id", jobID, "error", err)
			continue
		}
		freed += size
		removed++
	}

	if removed > 0 {
		w.log.Info("reaper swept scratch directory", "removed", removed, "bytes_freed", freed)
	}
	return nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
