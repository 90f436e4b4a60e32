package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	WorkDir string `toml:"work_dir"`
}

// Database contains SQLite settings shared by the store and the job queue.
type Database struct {
	Path              string `toml:"path"`
	BusyTimeoutMillis int    `toml:"busy_timeout_ms"`
}

// Redis contains connection settings for the shared rate-limit store.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Queue contains job queue and worker pool settings.
type Queue struct {
	PollIntervalMillis int            `toml:"poll_interval_ms"`
	LeaseSeconds       int            `toml:"lease_seconds"`
	HeartbeatInterval  int            `toml:"heartbeat_interval"`
	MaxAttempts        int            `toml:"max_attempts"`
	BackoffBaseSeconds int            `toml:"backoff_base_seconds"`
	BackoffMaxSeconds  int            `toml:"backoff_max_seconds"`
	Concurrency        map[string]int `toml:"concurrency"`
}

// RateLimit is the quota for one external endpoint.
type RateLimit struct {
	Limit         int `toml:"limit"`
	WindowSeconds int `toml:"window_seconds"`
}

// Window returns the sliding window length.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// LLM contains text generation provider settings.
type LLM struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	InputCostPerMTok  float64 `toml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `toml:"output_cost_per_mtok"`
}

// Narration contains text-to-speech provider settings.
type Narration struct {
	Enabled        bool    `toml:"enabled"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Voice          string  `toml:"voice"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	CostPerKChar   float64 `toml:"cost_per_kchar"`
}

// Video contains ffmpeg rendering settings.
type Video struct {
	Enabled         bool   `toml:"enabled"`
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	Width           int    `toml:"width"`
	Height          int    `toml:"height"`
	BackgroundColor string `toml:"background_color"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Blob contains object storage settings.
type Blob struct {
	Backend        string `toml:"backend"`
	Dir            string `toml:"dir"`
	PublicBaseURL  string `toml:"public_base_url"`
	S3Bucket       string `toml:"s3_bucket"`
	S3Region       string `toml:"s3_region"`
	S3Endpoint     string `toml:"s3_endpoint"`
	S3Prefix       string `toml:"s3_prefix"`
	S3UsePathStyle bool   `toml:"s3_use_path_style"`
}

// Reaper contains provisional resource cleanup settings.
type Reaper struct {
	BatchSize             int    `toml:"batch_size"`
	Concurrency           int    `toml:"concurrency"`
	Schedule              string `toml:"schedule"`
	SweepSchedule         string `toml:"sweep_schedule"`
	ExpiredRetentionDays  int    `toml:"expired_retention_days"`
	ProvisionalTTLMinutes int    `toml:"provisional_ttl_minutes"`
}

// Social contains external publishing platform settings.
type Social struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Generation     bool   `toml:"generation"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
}

// Config encapsulates all configuration values for quill.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and scratch directories
//   - Database: SQLite file shared by the store and job queue
//   - Redis: rate-limit window store
//   - Queue: worker concurrency, leases, retries
//   - RateLimits: per-endpoint quotas
//   - LLM, Narration, Video: generation providers and media tooling
//   - Blob: filesystem or S3 object storage
//   - Reaper: provisional resource cleanup cadence
//   - Social: publishing platform
//   - Notifications, Logging
type Config struct {
	Paths         Paths                `toml:"paths"`
	Database      Database             `toml:"database"`
	Redis         Redis                `toml:"redis"`
	Queue         Queue                `toml:"queue"`
	RateLimits    map[string]RateLimit `toml:"rate_limits"`
	LLM           LLM                  `toml:"llm"`
	Narration     Narration            `toml:"narration"`
	Video         Video                `toml:"video"`
	Blob          Blob                 `toml:"blob"`
	Reaper        Reaper               `toml:"reaper"`
	Social        Social               `toml:"social"`
	Notifications Notifications        `toml:"notifications"`
	Logging       Logging              `toml:"logging"`
}

const defaultConfigPath = "~/.config/quill/config.toml"

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env"), ".env"); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv imports KEY=value pairs without overriding variables that are
// already set. Missing files are ignored.
func loadDotEnv(paths ...string) error {
	seen := make(map[string]struct{}, len(paths))
	for _, candidate := range paths {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for worker operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.WorkDir, filepath.Dir(c.Database.Path)}
	if c.Blob.Backend == BlobBackendFS {
		dirs = append(dirs, c.Blob.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the host-level lock file guarding the named task.
func (c *Config) LockPath(name string) string {
	return filepath.Join(c.Paths.DataDir, name+".lock")
}

// QueueConcurrency returns the worker count for queueName, at least one.
func (c *Config) QueueConcurrency(queueName string) int {
	if n := c.Queue.Concurrency[queueName]; n > 0 {
		return n
	}
	return 1
}

// Quota returns the configured quota for endpoint.
func (c *Config) Quota(endpoint string) (RateLimit, bool) {
	quota, ok := c.RateLimits[endpoint]
	return quota, ok
}

// ProvisionalTTL returns how long an uploaded resource stays claimable.
func (c *Config) ProvisionalTTL() time.Duration {
	return time.Duration(c.Reaper.ProvisionalTTLMinutes) * time.Minute
}

// ExpiredRetention returns how long expired rows are kept before purging.
func (c *Config) ExpiredRetention() time.Duration {
	return time.Duration(c.Reaper.ExpiredRetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across features.
type LLMConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Referer           string
	Title             string
	TimeoutSeconds    int
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:            strings.TrimSpace(c.LLM.APIKey),
		BaseURL:           strings.TrimSpace(c.LLM.BaseURL),
		Model:             strings.TrimSpace(c.LLM.Model),
		Referer:           strings.TrimSpace(c.LLM.Referer),
		Title:             strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds:    c.LLM.TimeoutSeconds,
		InputCostPerMTok:  c.LLM.InputCostPerMTok,
		OutputCostPerMTok: c.LLM.OutputCostPerMTok,
	}
}
