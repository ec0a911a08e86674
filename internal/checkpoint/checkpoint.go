// Package checkpoint persists per-job pipeline progress to a whole-file
// JSON state blob so a crashed or restarted worker can resume a job
// instead of redoing completed stages.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/streamrelay/transcoder/internal/domain"
)

// State is the durable, whole-file snapshot of one job's pipeline
// progress. Every field is safe to re-derive from scratch, so losing a
// state file only costs a redo, never correctness.
type State struct {
	JobID                string                `json:"job_id"`
	Stage                domain.Stage          `json:"stage"`
	SourcePath           string                `json:"source_path,omitempty"`
	VideoInfo            *domain.VideoInfo     `json:"video_info,omitempty"`
	ValidResolutions     []domain.Resolution   `json:"valid_resolutions,omitempty"`
	CompletedResolutions []domain.Resolution   `json:"completed_resolutions,omitempty"`
	ThumbnailPaths       []string              `json:"thumbnail_paths,omitempty"`
	UploadedFiles        []domain.UploadedFile `json:"uploaded_files,omitempty"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// NewState starts a fresh checkpoint at the initialized stage.
func NewState(jobID string) *State {
	return &State{JobID: jobID, Stage: domain.StageInitialized, UpdatedAt: time.Now().UTC()}
}

// IsStageCompleted reports whether the checkpoint has already passed or
// reached s, so the pipeline can skip redoing that step on resume.
func (s *State) IsStageCompleted(stage domain.Stage) bool {
	return s.Stage == stage || domain.IsPast(s.Stage, stage)
}

// AddUploadedFile records an uploaded output object, skipping the
// duplicate if the same key was already recorded (idempotent resume).
func (s *State) AddUploadedFile(f domain.UploadedFile) {
	for _, existing := range s.UploadedFiles {
		if existing.Key == f.Key {
			return
		}
	}
	s.UploadedFiles = append(s.UploadedFiles, f)
}

// AddCompletedResolution records a finished rendition, skipping the
// duplicate if already recorded.
func (s *State) AddCompletedResolution(r domain.Resolution) {
	for _, existing := range s.CompletedResolutions {
		if existing == r {
			return
		}
	}
	s.CompletedResolutions = append(s.CompletedResolutions, r)
}

// HasUploadedKey reports whether key was already recorded as uploaded,
// letting the pipeline skip re-uploading it on resume.
func (s *State) HasUploadedKey(key string) bool {
	for _, existing := range s.UploadedFiles {
		if existing.Key == key {
			return true
		}
	}
	return false
}

// HasCompletedResolution reports whether r was already transcoded.
func (s *State) HasCompletedResolution(r domain.Resolution) bool {
	for _, existing := range s.CompletedResolutions {
		if existing == r {
			return true
		}
	}
	return false
}

// Store reads and writes job checkpoint files under a root directory,
// one JSON file per job_id.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// jobDir returns {scratch_root}/{job_id}, the directory a worker treats
// as exclusively its own for the duration of that job.
func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) pathFor(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "job_state.json")
}

// Load reads a job's checkpoint, returning a fresh State if none exists
// yet.
func (s *Store) Load(jobID string) (*State, error) {
	data, err := os.ReadFile(s.pathFor(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(jobID), nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

// Save writes state atomically: marshal, write to a .tmp sibling,
// remove any existing file, then rename the temp file into place. A
// crash mid-write leaves either the old file or nothing, never a
// half-written one.
func (s *Store) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(s.jobDir(state.JobID), 0o755); err != nil {
		return fmt.Errorf("create job scratch directory: %w", err)
	}

	dest := s.pathFor(state.JobID)
	tmp := dest + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync checkpoint temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}

	_ = os.Remove(dest)
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// Delete removes a job's checkpoint file, if any.
func (s *Store) Delete(jobID string) error {
	err := os.Remove(s.pathFor(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// JobDir returns the scratch directory reserved for jobID, creating it
// if necessary. The pipeline downloads the source file and builds
// per-resolution HLS output under this directory.
func (s *Store) JobDir(jobID string) (string, error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job scratch directory: %w", err)
	}
	return dir, nil
}

// RemoveJobDir deletes a job's entire scratch directory tree, including
// its checkpoint file. Used by the reaper once a job's outcome is
// durable elsewhere.
func (s *Store) RemoveJobDir(jobID string) error {
	return os.RemoveAll(s.jobDir(jobID))
}

// Root returns the scratch root directory, for callers (the reaper)
// that need to enumerate job directories directly.
func (s *Store) Root() string {
	return s.root
}
