package objectstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicURL(t *testing.T) {
	c := &Client{cfg: Config{PublicBaseURL: "https://cdn.example.com/", OutputBucket: "output"}}
	assert.Equal(t, "https://cdn.example.com/output/jobs/abc/master.m3u8", c.PublicURL("jobs/abc/master.m3u8"))
}

func TestClassify_NetworkLevelErrorIsRetriable(t *testing.T) {
	assert.True(t, classify(errors.New("connection reset by peer")))
}
