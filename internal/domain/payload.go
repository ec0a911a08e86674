package domain

// QueuePayload is the data a queue entry carries for a transcoding job;
// it is stored verbatim alongside the entry and handed to the pipeline
// on dispatch.
type QueuePayload struct {
	JobID       string      `json:"job_id"`
	OriginalKey string      `json:"original_key"`
	Resolutions []Resolution `json:"resolutions"`
	VideoName   string      `json:"video_name"`
	Environment Environment `json:"environment"`
	CallbackURL string      `json:"callback_url,omitempty"`
}

// VideoInfo is the result of probing a local media file.
type VideoInfo struct {
	DurationSeconds float64 `json:"duration_s"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	BitrateKbps     int     `json:"bitrate"`
	Codec           string  `json:"codec"`
	SizeBytes       int64   `json:"size_bytes"`
}

// UploadedFile records one object already pushed to the output bucket,
// keyed for idempotent re-upload skipping.
type UploadedFile struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Size int64  `json:"size"`
}
