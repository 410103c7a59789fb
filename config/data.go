package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// VARIAGEN_DATA_DIR or VARIAGEN_MAX_CONCURRENT_JOBS.
const EnvPrefix = "VARIAGEN"

// Destination is one archive publishing target. Options carry the
// backend-specific settings (bucket, region, host, ...).
type Destination struct {
	Type    string            `mapstructure:"type"`
	Options map[string]string `mapstructure:"options"`
}

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	// DataDir holds uploads, per-job outputs, archives and the job database.
	// Defaults to "./data" relative to the working directory.
	DataDir string `mapstructure:"data_dir"`

	// ServeDir is the base directory for the directServe publisher.
	ServeDir string `mapstructure:"serve_dir"`

	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxVariations     int           `mapstructure:"max_variations"`
	EngineTimeout     time.Duration `mapstructure:"engine_timeout"`

	// Engine selects the transcoder: "ffmpeg", or "copy" for dry runs.
	Engine       string `mapstructure:"engine"`
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	FFprobePath  string `mapstructure:"ffprobe_path"`
	FFmpegPreset string `mapstructure:"ffmpeg_preset"`
	FFmpegCRF    int    `mapstructure:"ffmpeg_crf"`

	TerminalRetries    int           `mapstructure:"terminal_retries"`
	TerminalRetryDelay time.Duration `mapstructure:"terminal_retry_delay"`

	Store StoreConfig `mapstructure:"store"`

	// AllowPrivateCallbacks lets callback URLs reach loopback and private
	// network addresses.
	AllowPrivateCallbacks bool `mapstructure:"allow_private_callbacks"`

	DownloadSecret  string        `mapstructure:"download_secret"`
	DownloadLinkTTL time.Duration `mapstructure:"download_link_ttl"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`

	Publish []Destination `mapstructure:"publish"`

	RetentionAge  time.Duration `mapstructure:"retention_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	Log LogConfig `mapstructure:"log"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // "pebble" or "postgres"
	PostgresURL string `mapstructure:"postgres_url"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// SetDefaults registers every default on v. The values mirror a small
// 2 vCPU host: one job at a time, five ffmpeg processes per batch.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":3000")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("serve_dir", "./serve")
	v.SetDefault("max_upload_bytes", int64(200<<20))
	v.SetDefault("max_concurrent_jobs", 1)
	v.SetDefault("batch_size", 5)
	v.SetDefault("max_variations", 50)
	v.SetDefault("engine_timeout", 10*time.Minute)
	v.SetDefault("engine", "ffmpeg")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg_preset", "ultrafast")
	v.SetDefault("ffmpeg_crf", 28)
	v.SetDefault("terminal_retries", 5)
	v.SetDefault("terminal_retry_delay", 200*time.Millisecond)
	v.SetDefault("store.driver", "pebble")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("allow_private_callbacks", false)
	v.SetDefault("download_secret", "")
	v.SetDefault("download_link_ttl", time.Hour)
	v.SetDefault("public_base_url", "")
	v.SetDefault("retention_age", 30*24*time.Hour)
	v.SetDefault("sweep_interval", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.console", true)
}

// Load reads defaults, then the optional config file at path, then
// VARIAGEN_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects limits that would stall or disable the pipeline.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentJobs < 1:
		return fmt.Errorf("max_concurrent_jobs must be >= 1, got %d", c.MaxConcurrentJobs)
	case c.BatchSize < 1:
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	case c.MaxVariations < 1:
		return fmt.Errorf("max_variations must be >= 1, got %d", c.MaxVariations)
	case c.MaxUploadBytes < 1:
		return fmt.Errorf("max_upload_bytes must be >= 1, got %d", c.MaxUploadBytes)
	case c.EngineTimeout <= 0:
		return fmt.Errorf("engine_timeout must be positive, got %s", c.EngineTimeout)
	case c.DataDir == "":
		return fmt.Errorf("data_dir must not be empty")
	case c.DownloadSecret != "" && len(c.DownloadSecret) < 32:
		return fmt.Errorf("download_secret must be at least 32 characters")
	case c.DownloadLinkTTL <= 0:
		return fmt.Errorf("download_link_ttl must be positive, got %s", c.DownloadLinkTTL)
	}
	switch c.Store.Driver {
	case "pebble":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// UploadDir returns where submitted payloads are written.
// Path: {DATA_DIR}/uploads
func (c Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// OutputDir returns the parent of the per-job variation directories.
// Path: {DATA_DIR}/outputs
func (c Config) OutputDir() string {
	return filepath.Join(c.DataDir, "outputs")
}

// ArchiveDir returns where finished zip archives live.
// Path: {DATA_DIR}/archives
func (c Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archives")
}

// JobsDBPath returns the path to the pebble job database.
// Path: {DATA_DIR}/jobs.db
func (c Config) JobsDBPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}
