package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/streamrelay/transcoder/internal/callback"
	"github.com/streamrelay/transcoder/internal/checkpoint"
	"github.com/streamrelay/transcoder/internal/domain"
	"github.com/streamrelay/transcoder/internal/encoder"
	"github.com/streamrelay/transcoder/internal/queue"
)

// progress budget boundaries, per stage, matching §4.6 exactly.
const (
	progressInitializedStart = 0
	progressDownloadedStart  = 5
	progressAnalyzedStart    = 10
	progressThumbnailsStart  = 12
	progressTranscodeStart   = 15
	progressTranscodeEnd     = 80
	progressMasterEnd        = 85
	progressThumbUploadEnd   = 90
	progressCallbackEnd      = 95
	progressDone             = 100
)

// processEntry is the queue.Handler driving one job through the stage
// machine. It is the sole public entry point into the pipeline; the
// Queue calls it for every dequeued entry and retries on a non-nil
// return per its own backoff policy.
func (w *Worker) processEntry(ctx context.Context, entry *queue.Entry) error {
	payload := entry.Payload
	jobID := payload.JobID

	state, err := w.checkpoints.Load(jobID)
	if err != nil {
		return &domain.InternalError{Op: "load checkpoint", Err: err}
	}

	if state.Stage == domain.StageCompleted {
		w.log.Info("replaying completed job idempotently", "job_id", jobID)
		return nil
	}

	scratchDir, err := w.checkpoints.JobDir(jobID)
	if err != nil {
		return &domain.InternalError{Op: "create scratch directory", Err: err}
	}

	if err := w.jobs.UpdateStatus(ctx, jobID, domain.JobStatusProcessing); err != nil {
		w.log.Warn("mark job processing", "job_id", jobID, "error", err)
	}

	runErr := w.runStages(ctx, entry, state, scratchDir)
	if runErr != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the job between stage boundaries, not a
			// pipeline failure: leave the checkpoint at its last completed
			// stage so the next attempt resumes instead of restarting, and
			// skip the failure callback since the job did not actually fail.
			w.log.Info("pipeline interrupted by shutdown, will resume from checkpoint", "job_id", jobID, "stage", state.Stage)
			return runErr
		}
		terminal := entry.Attempts >= entry.MaxAttempts
		w.onAttemptFailed(ctx, payload, state, runErr, terminal)
		return runErr
	}
	return nil
}

// runStages advances state through every pipeline stage in order,
// skipping any stage the checkpoint already records as reached or passed
// (each stage saves its own name once it finishes), and persists
// the checkpoint after each stage completes.
func (w *Worker) runStages(ctx context.Context, entry *queue.Entry, state *checkpoint.State, scratchDir string) error {
	payload := entry.Payload

	if !state.IsStageCompleted(domain.StageInitialized) {
		if err := w.stageInitialize(ctx, payload, state, scratchDir); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !state.IsStageCompleted(domain.StageDownloaded) {
		if err := w.stageDownload(ctx, payload, state, scratchDir); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !state.IsStageCompleted(domain.StageAnalyzed) {
		if err := w.stageAnalyze(ctx, payload, state); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !state.IsStageCompleted(domain.StageThumbnailsGenerated) {
		w.stageThumbnails(ctx, payload, state, scratchDir)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !state.IsStageCompleted(domain.StageTranscoded) {
		if err := w.stageTranscodeAndUpload(ctx, entry, state, scratchDir); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !state.IsStageCompleted(domain.StageUploaded) {
		if err := w.stageMasterPlaylist(ctx, payload, state); err != nil {
			return err
		}
		if err := w.stageThumbnailUploadAndSourceDelete(ctx, payload, state); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return w.stageCallbackAndComplete(ctx, payload, state, scratchDir)
}

// stageInitialize creates the scratch checkpoint and validates the
// source extension (advisory only: unsupported extensions warn, not abort).
func (w *Worker) stageInitialize(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State, scratchDir string) error {
	w.progress(ctx, payload.JobID, progressInitializedStart)

	ext := filepath.Ext(payload.OriginalKey)
	if !encoder.IsSupportedExtension(ext) {
		w.logStage(ctx, payload.JobID, domain.LogLevelWarn, "initialized", fmt.Sprintf("unrecognized source extension %q, proceeding anyway", ext), "")
	}

	state.Stage = domain.StageInitialized
	if err := w.checkpoints.Save(state); err != nil {
		return &domain.InternalError{Op: "save checkpoint", Err: err}
	}
	w.progress(ctx, payload.JobID, progressDownloadedStart)
	return nil
}

// stageDownload fetches the source object into scratch disk, unless a
// prior attempt already left it there.
func (w *Worker) stageDownload(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State, scratchDir string) error {
	localPath := filepath.Join(scratchDir, "source"+filepath.Ext(payload.OriginalKey))

	if state.SourcePath == "" || !fileExists(state.SourcePath) {
		if err := w.objects.Download(ctx, payload.OriginalKey, localPath); err != nil {
			return err
		}
		state.SourcePath = localPath
	}

	state.Stage = domain.StageDownloaded
	if err := w.checkpoints.Save(state); err != nil {
		return &domain.InternalError{Op: "save checkpoint", Err: err}
	}
	w.progress(ctx, payload.JobID, progressAnalyzedStart)
	return nil
}

// stageAnalyze probes the source for duration/dimensions/codec and
// narrows the requested resolution list to those that do not upscale.
func (w *Worker) stageAnalyze(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State) error {
	info, err := w.driver.Probe(ctx, state.SourcePath)
	if err != nil {
		return err
	}
	state.VideoInfo = info

	requested := payload.Resolutions
	if len(requested) == 0 {
		requested = domain.AllResolutions
	}

	var valid []domain.Resolution
	for _, r := range requested {
		profile, ok := encoder.Profiles[r]
		if !ok {
			continue
		}
		if profile.Height <= info.Height {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return &domain.ValidationError{Field: "resolutions", Msg: "no requested resolution is at or below the source height"}
	}
	state.ValidResolutions = valid

	state.Stage = domain.StageAnalyzed
	if err := w.checkpoints.Save(state); err != nil {
		return &domain.InternalError{Op: "save checkpoint", Err: err}
	}
	w.progress(ctx, payload.JobID, progressThumbnailsStart)
	return nil
}

// stageThumbnails emits poster frames. Failure is logged and swallowed:
// the spec treats this stage as non-fatal.
func (w *Worker) stageThumbnails(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State, scratchDir string) {
	paths, err := w.driver.GenerateThumbnails(ctx, state.SourcePath, scratchDir, payload.VideoName)
	if err != nil {
		w.logStage(ctx, payload.JobID, domain.LogLevelWarn, "thumbnails_generated", "thumbnail generation failed, continuing without", err.Error())
	}
	state.ThumbnailPaths = paths

	state.Stage = domain.StageThumbnailsGenerated
	if err := w.checkpoints.Save(state); err != nil {
		w.log.Error("save checkpoint", "job_id", payload.JobID, "error", err)
	}
	w.progress(ctx, payload.JobID, progressTranscodeStart)
}

// stageTranscodeAndUpload processes each valid resolution sequentially
// in descending requested order: encode to a local rendition directory,
// upload its playlist and segments, record progress, then immediately
// delete the local rendition tree to reclaim scratch disk.
func (w *Worker) stageTranscodeAndUpload(ctx context.Context, entry *queue.Entry, state *checkpoint.State, scratchDir string) error {
	payload := entry.Payload
	resolutions := state.ValidResolutions
	if len(resolutions) == 0 {
		resolutions = []domain.Resolution{}
	}

	budgetPerResolution := 0.0
	if len(resolutions) > 0 {
		budgetPerResolution = float64(progressTranscodeEnd-progressTranscodeStart) / float64(len(resolutions))
	}

	for i, r := range resolutions {
		if state.HasCompletedResolution(r) {
			continue
		}

		profile := encoder.Profiles[r]
		renditionDir := filepath.Join(scratchDir, "hls_"+string(r))
		stageStart := progressTranscodeStart + int(float64(i)*budgetPerResolution)
		encodeEnd := stageStart + int(budgetPerResolution/2)

		err := w.driver.TranscodeResolution(ctx, state.SourcePath, renditionDir, profile, state.VideoInfo.DurationSeconds, func(percent float64) {
			p := stageStart + int(float64(encodeEnd-stageStart)*percent/100)
			w.progress(ctx, payload.JobID, p)
			w.reporter.ReportProgress(ctx, entry.ID, p)
		})
		if err != nil {
			return err
		}

		if err := w.uploadRendition(ctx, payload, state, renditionDir, r, encodeEnd, stageStart+int(budgetPerResolution)); err != nil {
			return err
		}

		if err := os.RemoveAll(renditionDir); err != nil {
			w.log.Warn("remove local rendition tree", "job_id", payload.JobID, "resolution", r, "error", err)
		}

		state.AddCompletedResolution(r)
		if err := w.checkpoints.Save(state); err != nil {
			return &domain.InternalError{Op: "save checkpoint", Err: err}
		}
	}

	state.Stage = domain.StageTranscoded
	if err := w.checkpoints.Save(state); err != nil {
		return &domain.InternalError{Op: "save checkpoint", Err: err}
	}
	return nil
}

// uploadRendition pushes a finished rendition's playlist then every
// segment file to the output bucket, skipping any key already recorded
// as uploaded (resume idempotence).
func (w *Worker) uploadRendition(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State, renditionDir string, r domain.Resolution, progressStart, progressEnd int) error {
	playlistKey := fmt.Sprintf("%s/hls_%s/index-.m3u8", payload.VideoName, r)
	if !state.HasUploadedKey(playlistKey) {
		size, err := w.objects.Upload(ctx, filepath.Join(renditionDir, "index-.m3u8"), playlistKey, "application/vnd.apple.mpegurl")
		if err != nil {
			return err
		}
		state.AddUploadedFile(domain.UploadedFile{Name: "index-.m3u8", Key: playlistKey, Size: size})
	}

	segments, err := encoder.ListSegments(renditionDir)
	if err != nil {
		return err
	}

	for i, seg := range segments {
		key := fmt.Sprintf("%s/hls_%s/%s", payload.VideoName, r, seg)
		if state.HasUploadedKey(key) {
			continue
		}
		size, err := w.objects.Upload(ctx, filepath.Join(renditionDir, seg), key, "video/mp2t")
		if err != nil {
			return err
		}
		state.AddUploadedFile(domain.UploadedFile{Name: seg, Key: key, Size: size})

		if len(segments) > 0 {
			p := progressStart + int(float64(progressEnd-progressStart)*float64(i+1)/float64(len(segments)))
			w.progress(ctx, payload.JobID, p)
		}
	}

	return nil
}

// stageMasterPlaylist synthesizes and uploads the master playlist, then
// discards the in-memory copy (there is no local file to clean up).
func (w *Worker) stageMasterPlaylist(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State) error {
	playlist, err := encoder.BuildMasterPlaylist(state.ValidResolutions)
	if err != nil {
		return &domain.EncoderError{Stage: "master_playlist", Err: err}
	}

	key := fmt.Sprintf("%s/index.m3u8", payload.VideoName)
	if !state.HasUploadedKey(key) {
		size, err := w.objects.UploadReader(ctx, strings.NewReader(playlist), int64(len(playlist)), key, "application/vnd.apple.mpegurl")
		if err != nil {
			return err
		}
		state.AddUploadedFile(domain.UploadedFile{Name: "index.m3u8", Key: key, Size: size})
	}

	w.progress(ctx, payload.JobID, progressMasterEnd)
	return w.saveCheckpoint(state)
}

// stageThumbnailUploadAndSourceDelete publishes each locally generated
// thumbnail and removes the downloaded source file, now that every
// rendition referencing it has been uploaded.
func (w *Worker) stageThumbnailUploadAndSourceDelete(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State) error {
	for _, path := range state.ThumbnailPaths {
		name := filepath.Base(path)
		key := fmt.Sprintf("%s/%s", payload.VideoName, name)
		if state.HasUploadedKey(key) {
			continue
		}
		size, err := w.objects.Upload(ctx, path, key, contentTypeFor(path))
		if err != nil {
			w.logStage(ctx, payload.JobID, domain.LogLevelWarn, "thumbnail_upload", "thumbnail upload failed, continuing", err.Error())
			continue
		}
		state.AddUploadedFile(domain.UploadedFile{Name: name, Key: key, Size: size})
	}

	if state.SourcePath != "" {
		if err := w.objects.DeleteSource(ctx, payload.OriginalKey); err != nil {
			w.logStage(ctx, payload.JobID, domain.LogLevelWarn, "source_delete", "failed to delete source object, continuing", err.Error())
		}
		_ = os.Remove(state.SourcePath)
	}

	state.Stage = domain.StageUploaded
	w.progress(ctx, payload.JobID, progressThumbUploadEnd)
	return w.saveCheckpoint(state)
}

// stageCallbackAndComplete posts the completion callback, finalizes the
// job-store record, and writes the terminal checkpoint stage.
func (w *Worker) stageCallbackAndComplete(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State, scratchDir string) error {
	outputKey := fmt.Sprintf("%s/index.m3u8", payload.VideoName)

	var totalSize int64
	for _, f := range state.UploadedFiles {
		totalSize += f.Size
	}

	originalResolution := ""
	if state.VideoInfo != nil {
		originalResolution = fmt.Sprintf("%dx%d", state.VideoInfo.Width, state.VideoInfo.Height)
	}

	err := w.callback.Success(ctx, payload.CallbackURL, callback.SuccessPayload{
		JobID:       payload.JobID,
		OriginalKey: payload.OriginalKey,
		OutputKey:   outputKey,
		VideoName:   payload.VideoName,
		Environment: payload.Environment,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Metadata: callback.SuccessMetadata{
			Duration:           durationOf(state.VideoInfo),
			OriginalResolution: originalResolution,
		},
	})
	if err != nil {
		// Per spec: callback failure fails the job even though output
		// artifacts remain published in the output bucket.
		return err
	}
	w.progress(ctx, payload.JobID, progressCallbackEnd)

	metadata := domain.JobMetadata{VideoName: payload.VideoName, Environment: payload.Environment, CallbackURL: payload.CallbackURL}
	if err := w.jobs.CompleteJob(ctx, payload.JobID, outputKey, totalSize, durationOf(state.VideoInfo), metadata); err != nil {
		return &domain.InternalError{Op: "complete job record", Err: err}
	}

	state.Stage = domain.StageCompleted
	if err := w.checkpoints.Save(state); err != nil {
		w.log.Error("save terminal checkpoint", "job_id", payload.JobID, "error", err)
	}
	w.progress(ctx, payload.JobID, progressDone)
	w.logStage(ctx, payload.JobID, domain.LogLevelInfo, "completed", "job completed", "")
	return nil
}

// onAttemptFailed runs when any stage returns an error. Every attempt logs
// the failure, but only the terminal attempt (entry.Attempts >=
// entry.MaxAttempts) marks the job record failed, writes the terminal
// failure checkpoint, and sends the once-per-job failure callback — an
// attempt with retries left leaves the checkpoint at its last completed
// stage and the job record at "processing" so the next delivery resumes
// from there instead of restarting, and so it can still legally transition
// to "completed" or "failed" per jobstore's status state machine.
func (w *Worker) onAttemptFailed(ctx context.Context, payload domain.QueuePayload, state *checkpoint.State, stageErr error, terminal bool) {
	w.logStage(ctx, payload.JobID, domain.LogLevelError, string(state.Stage), "pipeline stage failed", stageErr.Error())

	if !terminal {
		w.log.Warn("pipeline attempt failed, will retry", "job_id", payload.JobID, "stage", state.Stage, "error", stageErr)
		return
	}

	state.Stage = domain.StageFailed
	if err := w.checkpoints.Save(state); err != nil {
		w.log.Error("save failure checkpoint", "job_id", payload.JobID, "error", err)
	}

	if err := w.jobs.SetError(ctx, payload.JobID, stageErr.Error()); err != nil {
		w.log.Error("set job error", "job_id", payload.JobID, "error", err)
	}
	if err := w.jobs.UpdateStatus(ctx, payload.JobID, domain.JobStatusFailed); err != nil {
		w.log.Error("mark job failed", "job_id", payload.JobID, "error", err)
	}

	cbErr := w.callback.Failure(ctx, payload.CallbackURL, callback.FailurePayload{
		JobID:       payload.JobID,
		Status:      "failed",
		OriginalKey: payload.OriginalKey,
		Environment: payload.Environment,
		Error:       stageErr.Error(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if cbErr != nil {
		w.log.Error("failure callback delivery failed", "job_id", payload.JobID, "error", cbErr)
	}
}

func (w *Worker) saveCheckpoint(state *checkpoint.State) error {
	if err := w.checkpoints.Save(state); err != nil {
		return &domain.InternalError{Op: "save checkpoint", Err: err}
	}
	return nil
}

func (w *Worker) progress(ctx context.Context, jobID string, percent int) {
	if err := w.jobs.UpdateProgress(ctx, jobID, percent); err != nil {
		w.log.Warn("update job progress", "job_id", jobID, "error", err)
	}
}

func (w *Worker) logStage(ctx context.Context, jobID string, level domain.LogLevel, stage, message, details string) {
	if err := w.jobs.AddLog(ctx, jobID, level, stage, message, details); err != nil {
		w.log.Warn("append job log", "job_id", jobID, "error", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func durationOf(info *domain.VideoInfo) float64 {
	if info == nil {
		return 0
	}
	return info.DurationSeconds
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
