// Package objectstore wraps the B2/S3-compatible client used to move
// source uploads and rendered HLS output between local scratch disk and
// the two buckets the pipeline works against.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/singleflight"

	"github.com/streamrelay/transcoder/internal/domain"
)

// Config configures the underlying S3-compatible client.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	SourceBucket    string
	OutputBucket    string
	PublicBaseURL   string
}

// Client is a lazily-authorized object store client. The minio SDK signs
// every request itself, but authorization failures (expired session
// tokens, clock-skewed signatures) are common enough under long-running
// worker processes that callers classify and retry through
// domain.ObjectStoreError rather than caller-side credential refresh.
type Client struct {
	cfg Config
	mc  *minio.Client

	authGroup singleflight.Group
	authMu    sync.RWMutex
	authOK    bool
}

// New dials the object store client. Connection is established eagerly;
// per-call authorization checks are coalesced via singleflight so a
// burst of concurrent requests during a cold start only probes once.
func New(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Client{cfg: cfg, mc: mc}, nil
}

// ensureAuthorized performs a cheap bucket-exists probe the first time
// it's called (or after a prior probe failed), coalescing concurrent
// callers into a single round trip.
func (c *Client) ensureAuthorized(ctx context.Context) error {
	c.authMu.RLock()
	ok := c.authOK
	c.authMu.RUnlock()
	if ok {
		return nil
	}

	_, err, _ := c.authGroup.Do("probe", func() (interface{}, error) {
		exists, err := c.mc.BucketExists(ctx, c.cfg.SourceBucket)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("source bucket %q does not exist", c.cfg.SourceBucket)
		}
		c.authMu.Lock()
		c.authOK = true
		c.authMu.Unlock()
		return nil, nil
	})
	if err != nil {
		return &domain.ObjectStoreError{Stage: domain.StageAuth, Retriable: classify(err), Err: err}
	}
	return nil
}

// Download fetches key from the source bucket to a local path.
func (c *Client) Download(ctx context.Context, key, localPath string) error {
	if err := c.ensureAuthorized(ctx); err != nil {
		return err
	}
	if err := c.mc.FGetObject(ctx, c.cfg.SourceBucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return &domain.ObjectStoreError{Stage: domain.StageDownload, Retriable: classify(err), Err: err}
	}
	return nil
}

// Upload pushes a local file to the output bucket under key, returning
// the uploaded size.
func (c *Client) Upload(ctx context.Context, localPath, key, contentType string) (int64, error) {
	if err := c.ensureAuthorized(ctx); err != nil {
		return 0, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, &domain.ObjectStoreError{Stage: domain.StageUpload, Retriable: false, Err: err}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, &domain.ObjectStoreError{Stage: domain.StageUpload, Retriable: false, Err: err}
	}

	info, err := c.mc.PutObject(ctx, c.cfg.OutputBucket, key, f, stat.Size(), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, &domain.ObjectStoreError{Stage: domain.StageUpload, Retriable: classify(err), Err: err}
	}
	return info.Size, nil
}

// UploadReader pushes content from r to the output bucket under key
// without requiring a local file, used for the generated master
// playlist which is built in memory.
func (c *Client) UploadReader(ctx context.Context, r io.Reader, size int64, key, contentType string) (int64, error) {
	if err := c.ensureAuthorized(ctx); err != nil {
		return 0, err
	}

	info, err := c.mc.PutObject(ctx, c.cfg.OutputBucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, &domain.ObjectStoreError{Stage: domain.StageUpload, Retriable: classify(err), Err: err}
	}
	return info.Size, nil
}

// Head returns the size of an object in the output bucket, or a
// terminal ObjectStoreError if it doesn't exist.
func (c *Client) Head(ctx context.Context, key string) (int64, error) {
	if err := c.ensureAuthorized(ctx); err != nil {
		return 0, err
	}

	info, err := c.mc.StatObject(ctx, c.cfg.OutputBucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, &domain.ObjectStoreError{Stage: domain.StageList, Retriable: classify(err), Err: err}
	}
	return info.Size, nil
}

// List returns every object key in the output bucket under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	if err := c.ensureAuthorized(ctx); err != nil {
		return nil, err
	}

	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.cfg.OutputBucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, &domain.ObjectStoreError{Stage: domain.StageList, Retriable: classify(obj.Err), Err: obj.Err}
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// DeleteSource removes an object from the source bucket, used once a
// job's output has been fully published.
func (c *Client) DeleteSource(ctx context.Context, key string) error {
	if err := c.ensureAuthorized(ctx); err != nil {
		return err
	}
	if err := c.mc.RemoveObject(ctx, c.cfg.SourceBucket, key, minio.RemoveObjectOptions{}); err != nil {
		return &domain.ObjectStoreError{Stage: domain.StageDelete, Retriable: classify(err), Err: err}
	}
	return nil
}

// PublicURL builds the externally-reachable URL for an output key,
// used in the completion callback body.
func (c *Client) PublicURL(key string) string {
	base := strings.TrimRight(c.cfg.PublicBaseURL, "/")
	return fmt.Sprintf("%s/%s/%s", base, c.cfg.OutputBucket, key)
}

// classify decides whether an object-store failure is worth retrying:
// network errors, 5xx responses, request timeouts and 401 (expired
// authorization) are transient, other 4xx responses (not found, access
// denied, bad request) are terminal.
func classify(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" {
		// Not a well-formed S3 error response: treat as a network-level
		// failure and retry.
		return true
	}

	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidArgument":
		return false
	}

	return resp.StatusCode == 0 || resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusUnauthorized
}
