package encoder

import "time"

// Driver invokes ffmpeg/ffprobe binaries to probe, transcode, and
// thumbnail a local media file. It holds no job state; all paths are
// passed in per call so one Driver is shared across concurrent workers.
type Driver struct {
	runner      Runner
	ffmpegPath  string
	ffprobePath string

	// progressInterval throttles how often ProgressFunc is invoked while
	// consuming an ffmpeg -progress stream.
	progressInterval time.Duration
}

// ProgressFunc receives the running percentage (0-100) of an in-flight
// transcode.
type ProgressFunc func(percent float64)

// NewDriver returns a Driver that shells out to ffmpegPath/ffprobePath
// via runner.
func NewDriver(runner Runner, ffmpegPath, ffprobePath string) *Driver {
	return &Driver{
		runner:           runner,
		ffmpegPath:       ffmpegPath,
		ffprobePath:      ffprobePath,
		progressInterval: 500 * time.Millisecond,
	}
}
