package encoder

import "github.com/streamrelay/transcoder/internal/domain"

// Profile is one entry of the fixed resolution ladder the pipeline
// transcodes every job down to.
type Profile struct {
	Resolution domain.Resolution
	Width      int
	Height     int
	VideoKbps  int
	AudioKbps  int
	H264Level  string
	Codecs     string
}

// Profiles is the fixed table, highest quality first.
var Profiles = map[domain.Resolution]Profile{
	domain.Resolution1080p: {Resolution: domain.Resolution1080p, Width: 1920, Height: 1080, VideoKbps: 6593, AudioKbps: 192, H264Level: "high/4.0", Codecs: "avc1.640028,mp4a.40.5"},
	domain.Resolution720p:  {Resolution: domain.Resolution720p, Width: 1280, Height: 720, VideoKbps: 2766, AudioKbps: 128, H264Level: "high/4.0", Codecs: "avc1.640028,mp4a.40.5"},
	domain.Resolution480p:  {Resolution: domain.Resolution480p, Width: 854, Height: 480, VideoKbps: 1395, AudioKbps: 128, H264Level: "main/3.1", Codecs: "avc1.42001f,mp4a.40.5"},
	domain.Resolution360p:  {Resolution: domain.Resolution360p, Width: 640, Height: 360, VideoKbps: 1038, AudioKbps: 96, H264Level: "main/3.1", Codecs: "avc1.4d001f,mp4a.40.5"},
	domain.Resolution240p:  {Resolution: domain.Resolution240p, Width: 426, Height: 240, VideoKbps: 400, AudioKbps: 64, H264Level: "baseline/3.0", Codecs: "avc1.42001e,mp4a.40.5"},
}

const (
	hlsSegmentSeconds = 10
	h264CRF           = 23
)
