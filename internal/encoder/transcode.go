package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/streamrelay/transcoder/internal/domain"
)

// segmentPattern is the relative HLS segment filename template: the
// pipeline uploads each matching file alongside the rendition playlist.
const segmentPattern = "index-%05d.ts"

// TranscodeResolution runs ffmpeg against localInput, writing an HLS
// rendition (one VOD playlist plus its .ts segments) for profile into
// outputDir. progress is called with an estimated completion percentage
// as ffmpeg reports -progress output; it may be nil.
func (d *Driver) TranscodeResolution(ctx context.Context, localInput, outputDir string, profile Profile, durationSeconds float64, progress ProgressFunc) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return &domain.EncoderError{Resolution: profile.Resolution, Stage: "transcode", Err: fmt.Errorf("create rendition directory: %w", err)}
	}

	playlistPath := filepath.Join(outputDir, "index-.m3u8")
	segmentTemplate := filepath.Join(outputDir, segmentPattern)

	args := []string{
		"-y",
		"-i", localInput,
		"-vf", fmt.Sprintf("scale=-2:%d", profile.Height),
		"-c:v", "libx264",
		"-profile:v", profileName(profile.H264Level),
		"-level", levelName(profile.H264Level),
		"-crf", strconv.Itoa(h264CRF),
		"-b:v", fmt.Sprintf("%dk", profile.VideoKbps),
		"-maxrate", fmt.Sprintf("%dk", profile.VideoKbps),
		"-bufsize", fmt.Sprintf("%dk", 2*profile.VideoKbps),
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", profile.AudioKbps),
		"-f", "hls",
		"-hls_time", strconv.Itoa(hlsSegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentTemplate,
		"-progress", "pipe:1",
		"-nostats",
		playlistPath,
	}

	if err := d.runFFmpegWithProgress(ctx, args, durationSeconds, progress); err != nil {
		return &domain.EncoderError{Resolution: profile.Resolution, Stage: "transcode", Err: err}
	}
	return nil
}

// profileName/levelName split a combined "profile/level" string such as
// "high/4.0" into ffmpeg's -profile:v and -level arguments.
func profileName(combined string) string {
	parts := strings.SplitN(combined, "/", 2)
	return parts[0]
}

func levelName(combined string) string {
	parts := strings.SplitN(combined, "/", 2)
	if len(parts) < 2 {
		return "4.0"
	}
	return parts[1]
}

// runFFmpegWithProgress execs ffmpeg directly (bypassing the Runner
// abstraction, which only returns combined output once the process
// exits) so -progress pipe:1 can be streamed while the encode runs.
func (d *Driver) runFFmpegWithProgress(ctx context.Context, args []string, durationSeconds float64, progress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	var stderrBuf strings.Builder
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			stderrBuf.WriteString(sc.Text())
			stderrBuf.WriteByte('\n')
		}
	}()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	d.consumeProgress(ctx, stdout, durationSeconds, progress)
	<-done

	if err := cmd.Wait(); err != nil {
		out := stderrBuf.String()
		if len(out) > 800 {
			out = out[len(out)-800:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

// consumeProgress reads ffmpeg's key=value -progress stream and invokes
// progress with a throttled percentage estimate derived from
// out_time_ms against the source duration.
func (d *Driver) consumeProgress(ctx context.Context, r io.Reader, durationSeconds float64, progress ProgressFunc) {
	if progress == nil {
		// Still drain stdout so ffmpeg never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return
	}

	scanner := bufio.NewScanner(r)
	var lastPercent float64
	lastEmit := time.Now()
	interval := d.progressInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok || key != "out_time_ms" || durationSeconds <= 0 {
			continue
		}

		outTimeMs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}

		percent := math.Min(100, math.Max(0, (outTimeMs/1000.0)/durationSeconds*100))
		if percent-lastPercent >= 1 || time.Since(lastEmit) > interval {
			lastPercent = percent
			lastEmit = time.Now()
			progress(percent)
		}
	}
}

// ListSegments returns every .ts segment filename (not full path) an
// HLS rendition directory holds, in ascending index order, so the
// pipeline can upload them one at a time.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rendition directory: %w", err)
	}
	var segments []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".ts") {
			segments = append(segments, e.Name())
		}
	}
	return segments, nil
}
