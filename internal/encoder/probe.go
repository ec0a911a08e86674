package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/streamrelay/transcoder/internal/domain"
)

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe runs ffprobe against a local file and returns its duration,
// dimensions, codec, and size.
func (d *Driver) Probe(ctx context.Context, path string) (*domain.VideoInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := d.runner.Run(ctx, d.ffprobePath, args...)
	if err != nil {
		return nil, &domain.EncoderError{Stage: "probe", Err: fmt.Errorf("ffprobe: %w: %s", err, truncate(output))}
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, &domain.EncoderError{Stage: "probe", Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	info := &domain.VideoInfo{}
	if probed.Format.Duration != "" {
		if v, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			info.DurationSeconds = v
		}
	}
	if probed.Format.BitRate != "" {
		if v, err := strconv.Atoi(probed.Format.BitRate); err == nil {
			info.BitrateKbps = v / 1000
		}
	}
	if probed.Format.Size != "" {
		if v, err := strconv.ParseInt(probed.Format.Size, 10, 64); err == nil {
			info.SizeBytes = v
		}
	}

	for _, stream := range probed.Streams {
		if stream.CodecType != "video" || info.Width != 0 {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName
		if info.DurationSeconds == 0 && stream.Duration != "" {
			if v, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				info.DurationSeconds = v
			}
		}
	}

	if info.Height == 0 {
		return nil, &domain.EncoderError{Stage: "probe", Err: fmt.Errorf("no video stream found")}
	}

	return info, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
