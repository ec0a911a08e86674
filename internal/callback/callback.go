// Package callback delivers the completion/failure notification to the
// URL a submission supplied (or the worker's configured default) once a
// job leaves the pipeline.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/streamrelay/transcoder/internal/domain"
)

// Client posts job outcome notifications. No third-party HTTP client in
// the example pack is used for plain outbound JSON POSTs; the standard
// library's http.Client already does everything a bearer-token POST
// with a timeout needs.
type Client struct {
	http        *http.Client
	defaultURL  string
	token       string
}

// Config configures the callback client.
type Config struct {
	DefaultURL string
	Token      string
	Timeout    time.Duration
}

// New returns a Client with the given default URL/token and a
// request timeout matching spec's 10s bound.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		defaultURL: cfg.DefaultURL,
		token:      cfg.Token,
	}
}

// SuccessPayload is the body posted when a job completes.
type SuccessPayload struct {
	JobID       string          `json:"jobId"`
	OriginalKey string          `json:"originalKey"`
	OutputKey   string          `json:"outputKey"`
	VideoName   string          `json:"videoName"`
	Environment domain.Environment `json:"environment"`
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	Metadata    SuccessMetadata `json:"metadata"`
}

// SuccessMetadata carries the source video's duration and resolution at
// the time of probing.
type SuccessMetadata struct {
	Duration           float64 `json:"duration"`
	OriginalResolution string  `json:"originalResolution"`
}

// FailurePayload is the body posted when a job terminates in failure.
type FailurePayload struct {
	JobID       string             `json:"jobId"`
	OriginalKey string             `json:"originalKey"`
	Environment domain.Environment `json:"environment"`
	Status      string             `json:"status"`
	Error       string             `json:"error"`
	Timestamp   string             `json:"timestamp"`
}

// resolveURL picks the per-job callback URL if set, falling back to the
// worker's configured default.
func (c *Client) resolveURL(jobURL string) (string, error) {
	url := jobURL
	if url == "" {
		url = c.defaultURL
	}
	if url == "" {
		return "", fmt.Errorf("no callback url configured")
	}
	return url, nil
}

// Success posts a completion payload. Failure here is surfaced as a
// domain.CallbackError, which the pipeline treats as a job failure even
// though the output artifacts remain published.
func (c *Client) Success(ctx context.Context, jobURL string, payload SuccessPayload) error {
	url, err := c.resolveURL(jobURL)
	if err != nil {
		return &domain.CallbackError{URL: jobURL, Err: err}
	}
	payload.Status = "completed"
	return c.post(ctx, url, payload)
}

// Failure posts a failure payload. Errors here are logged by the
// caller, not propagated, per spec's best-effort failure-callback rule.
func (c *Client) Failure(ctx context.Context, jobURL string, payload FailurePayload) error {
	url, err := c.resolveURL(jobURL)
	if err != nil {
		return &domain.CallbackError{URL: jobURL, Err: err}
	}
	payload.Status = "failed"
	return c.post(ctx, url, payload)
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.CallbackError{URL: url, Err: fmt.Errorf("encode callback payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &domain.CallbackError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.CallbackError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &domain.CallbackError{URL: url, Err: fmt.Errorf("callback returned status %d", resp.StatusCode)}
	}
	return nil
}
