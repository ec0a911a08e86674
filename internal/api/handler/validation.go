package handler

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/streamrelay/transcoder/internal/api/dto"
	"github.com/streamrelay/transcoder/internal/domain"
)

var videoNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// normalizeSubmission applies spec's validation and defaulting rules to
// a raw submission, returning the fully resolved queue payload or the
// first validation failure encountered.
func normalizeSubmission(req dto.SubmitRequest) (domain.QueuePayload, error) {
	if strings.TrimSpace(req.OriginalKey) == "" {
		return domain.QueuePayload{}, &domain.ValidationError{Field: "original_key", Msg: "is required"}
	}

	resolutions := req.Resolutions
	if len(resolutions) == 0 {
		resolutions = domain.AllResolutions
	} else {
		for _, r := range resolutions {
			if !domain.IsValidResolution(r) {
				return domain.QueuePayload{}, &domain.ValidationError{Field: "resolutions", Msg: "contains an unsupported resolution: " + string(r)}
			}
		}
	}

	videoName := req.VideoName
	if videoName == "" {
		videoName = defaultVideoName(req.OriginalKey)
	}
	if !videoNameRe.MatchString(videoName) {
		return domain.QueuePayload{}, &domain.ValidationError{Msg: "videoName must contain only alphanumeric characters, hyphens, and underscores"}
	}

	if req.CallbackURL != "" {
		parsed, err := url.Parse(req.CallbackURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return domain.QueuePayload{}, &domain.ValidationError{Field: "callback_url", Msg: "must be an http or https URL"}
		}
	}

	return domain.QueuePayload{
		OriginalKey: req.OriginalKey,
		Resolutions: resolutions,
		VideoName:   videoName,
		Environment: deriveEnvironment(req.CallbackURL),
		CallbackURL: req.CallbackURL,
	}, nil
}

// defaultVideoName strips the directory and extension from a storage
// key, e.g. "uploads/2026/clip.mp4" -> "clip".
func defaultVideoName(originalKey string) string {
	base := filepath.Base(originalKey)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// deriveEnvironment reads "staging" into the job record when the
// callback URL contains "stage" (case-insensitive), else production.
func deriveEnvironment(callbackURL string) domain.Environment {
	if strings.Contains(strings.ToLower(callbackURL), "stage") {
		return domain.EnvironmentStaging
	}
	return domain.EnvironmentProduction
}
