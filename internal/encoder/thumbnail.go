package encoder

import (
	"context"
	"fmt"
	"path/filepath"
)

// thumbnailTimestampSeconds, thumbnailWidth and thumbnailHeight are fixed by spec: a single
// frame at t=1s, scaled to 320x240, emitted as both a JPG and a PNG.
const (
	thumbnailTimestampSeconds = 1.0
	thumbnailWidth            = 320
	thumbnailHeight           = 240
)

// GenerateThumbnails extracts one frame at t=1s from localInput and
// writes it as both {videoName}-00001.jpg and {videoName}-00001.png
// into outputDir, returning their local paths. Callers treat a failure
// here as non-fatal: log and continue with whatever subset succeeded.
func (d *Driver) GenerateThumbnails(ctx context.Context, localInput, outputDir, videoName string) ([]string, error) {
	jpgPath := filepath.Join(outputDir, fmt.Sprintf("%s-00001.jpg", videoName))
	pngPath := filepath.Join(outputDir, fmt.Sprintf("%s-00001.png", videoName))

	var paths []string
	var firstErr error

	for _, out := range []string{jpgPath, pngPath} {
		args := []string{
			"-y",
			"-ss", fmt.Sprintf("%.2f", thumbnailTimestampSeconds),
			"-i", localInput,
			"-vframes", "1",
			"-vf", fmt.Sprintf("scale=%d:%d", thumbnailWidth, thumbnailHeight),
			out,
		}
		if _, err := d.runner.Run(ctx, d.ffmpegPath, args...); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("generate thumbnail %s: %w", filepath.Base(out), err)
			}
			continue
		}
		paths = append(paths, out)
	}

	return paths, firstErr
}
