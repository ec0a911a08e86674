package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAPIConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "/tmp/jobs.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Auth:     AuthConfig{APIKey: "secret"},
	}
}

func validWorkerConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "/tmp/jobs.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		ObjectStore: ObjectStoreConfig{
			SourceBucket: "source",
			OutputBucket: "output",
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			ScratchDir:      "/tmp/scratch",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
database:
  path: /data/jobs.db
redis:
  addr: redis:6379
worker:
  concurrency: 4
  scratch_dir: /data/scratch
auth:
  api_key: topsecret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/data/jobs.db", cfg.Database.Path)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "topsecret", cfg.Auth.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("REDIS_URL", "redis-host:6380")
	t.Setenv("MAX_CONCURRENT_JOBS", "6")
	t.Setenv("TEMP_UPLOAD_DIR", "/scratch")
	t.Setenv("B2_SOURCE_BUCKET", "src-bucket")
	t.Setenv("B2_OUTPUT_BUCKET", "out-bucket")
	t.Setenv("B2_USE_SSL", "true")
	t.Setenv("WEBAPP_CALLBACK_URL", "https://app.example.com/callback")
	t.Setenv("API_KEY", "env-key")
	t.Setenv("NODE_ENV", "production")

	cfg := &Config{}
	cfg.ApplyEnv()

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "redis-host:6380", cfg.Redis.Addr)
	assert.Equal(t, 6, cfg.Worker.Concurrency)
	assert.Equal(t, "/scratch", cfg.Worker.ScratchDir)
	assert.Equal(t, "src-bucket", cfg.ObjectStore.SourceBucket)
	assert.Equal(t, "out-bucket", cfg.ObjectStore.OutputBucket)
	assert.True(t, cfg.ObjectStore.UseSSL)
	assert.Equal(t, "https://app.example.com/callback", cfg.Callback.DefaultURL)
	assert.Equal(t, "env-key", cfg.Auth.APIKey)
	assert.Equal(t, "production", cfg.App.Environment)
}

func TestApplyEnv_LeavesUnsetFieldsAlone(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 1234}}
	cfg.ApplyEnv()
	assert.Equal(t, 1234, cfg.Server.Port)
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "port too low", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 99999 }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing redis addr", mutate: func(c *Config) { c.Redis.Addr = "" }, wantErr: true},
		{name: "missing api key", mutate: func(c *Config) { c.Auth.APIKey = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)
			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, wantErr: true},
		{name: "missing scratch dir", mutate: func(c *Config) { c.Worker.ScratchDir = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing redis addr", mutate: func(c *Config) { c.Redis.Addr = "" }, wantErr: true},
		{name: "missing source bucket", mutate: func(c *Config) { c.ObjectStore.SourceBucket = "" }, wantErr: true},
		{name: "missing output bucket", mutate: func(c *Config) { c.ObjectStore.OutputBucket = "" }, wantErr: true},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Worker.ShutdownTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
