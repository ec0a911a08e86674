package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/transcoder/internal/domain"
)

func TestSuccess_PostsBearerAuthenticatedJSON(t *testing.T) {
	var gotAuth string
	var gotBody SuccessPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{Token: "secret-token"})
	err := client.Success(context.Background(), srv.URL, SuccessPayload{
		JobID:       "job-1",
		OriginalKey: "uploads/job-1.mp4",
		OutputKey:   "clip/index.m3u8",
		VideoName:   "clip",
		Environment: domain.EnvironmentProduction,
		Timestamp:   "2026-08-03T00:00:00Z",
		Metadata:    SuccessMetadata{Duration: 12.5, OriginalResolution: "1920x1080"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "completed", gotBody.Status)
	assert.Equal(t, "job-1", gotBody.JobID)
}

func TestFailure_ServerErrorIsCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Config{})
	err := client.Failure(context.Background(), srv.URL, FailurePayload{JobID: "job-2", Error: "probe failed"})
	require.Error(t, err)
	var cbErr *domain.CallbackError
	require.ErrorAs(t, err, &cbErr)
}

func TestResolveURL_FallsBackToDefault(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{DefaultURL: srv.URL + "/hooks/transcode"})
	err := client.Success(context.Background(), "", SuccessPayload{JobID: "job-3"})
	require.NoError(t, err)
	assert.Equal(t, "/hooks/transcode", gotPath)
}

func TestResolveURL_NoURLConfigured(t *testing.T) {
	client := New(Config{})
	err := client.Success(context.Background(), "", SuccessPayload{JobID: "job-4"})
	require.Error(t, err)
}
