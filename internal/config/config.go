package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration, shared by
// cmd/api and cmd/worker; each binary only validates the sections it uses.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Worker      WorkerConfig      `yaml:"worker"`
	Callback    CallbackConfig    `yaml:"callback"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Auth        AuthConfig        `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the embedded job-store configuration. Path points
// at a SQLite file; WAL mode is always enabled by the jobstore package.
// MaxOpenConns caps the connection pool and BusyTimeout is how long a
// writer waits on a locked database.
type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// RedisConfig holds the queue backend connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	StallWindow  time.Duration `yaml:"stall_window"`
	CleanupEvery time.Duration `yaml:"cleanup_every"`
}

// ObjectStoreConfig holds the B2/S3-compatible client configuration.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	SourceBucket    string `yaml:"source_bucket"`
	OutputBucket    string `yaml:"output_bucket"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// WorkerConfig holds worker-service configuration.
type WorkerConfig struct {
	Concurrency         int           `yaml:"concurrency"`
	ScratchDir          string        `yaml:"scratch_dir"`
	FFmpegPath          string        `yaml:"ffmpeg_path"`
	FFprobePath         string        `yaml:"ffprobe_path"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	ReaperInterval      time.Duration `yaml:"reaper_interval"`
	CompletedRetention  time.Duration `yaml:"completed_retention"`
	FailedRetention     time.Duration `yaml:"failed_retention"`
}

// CallbackConfig holds outbound-callback delivery configuration.
type CallbackConfig struct {
	DefaultURL string        `yaml:"default_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig holds the submission API's shared secret.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Load reads and parses the configuration file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyEnv overlays the recognized environment variables (spec §6) on top
// of whatever the YAML file set, so a container deployment never needs a
// mounted config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("TEMP_UPLOAD_DIR"); v != "" {
		c.Worker.ScratchDir = v
	}
	if v := os.Getenv("B2_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("B2_REGION"); v != "" {
		c.ObjectStore.Region = v
	}
	if v := os.Getenv("B2_ACCESS_KEY_ID"); v != "" {
		c.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv("B2_SECRET_ACCESS_KEY"); v != "" {
		c.ObjectStore.SecretAccessKey = v
	}
	if v := os.Getenv("B2_SOURCE_BUCKET"); v != "" {
		c.ObjectStore.SourceBucket = v
	}
	if v := os.Getenv("B2_OUTPUT_BUCKET"); v != "" {
		c.ObjectStore.OutputBucket = v
	}
	if v := os.Getenv("B2_USE_SSL"); v != "" {
		c.ObjectStore.UseSSL = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("WEBAPP_CALLBACK_URL"); v != "" {
		c.Callback.DefaultURL = v
	}
	if v := os.Getenv("WEBAPP_API_KEY"); v != "" {
		c.Callback.Token = v
	}
	if v := os.Getenv("CALLBACK_TOKEN"); v != "" {
		c.Callback.Token = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Auth.APIKey = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.App.Environment = v
	}
	// DASHBOARD_PASSWORD and SESSION_SECRET are recognized but belong to
	// the out-of-scope dashboard facade; nothing here reads them.
}

// ValidateAPIConfig checks the subset of configuration cmd/api depends on.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth api_key is required")
	}

	return nil
}

// ValidateWorkerConfig checks the subset of configuration cmd/worker
// depends on.
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ScratchDir == "" {
		return fmt.Errorf("worker scratch_dir is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.ObjectStore.SourceBucket == "" || c.ObjectStore.OutputBucket == "" {
		return fmt.Errorf("object store source_bucket and output_bucket are required")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
