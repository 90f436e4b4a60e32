package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quill/internal/config"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config to be reported missing")
	}
	if want := filepath.Join(home, ".config", "quill", "config.toml"); path != want {
		t.Fatalf("unexpected path: got %q want %q", path, want)
	}
	if cfg.Database.Path != filepath.Join(home, ".local", "share", "quill", "quill.db") {
		t.Fatalf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.QueueConcurrency(config.QueueGeneration) != 3 || cfg.QueueConcurrency(config.QueueDerived) != 2 {
		t.Fatalf("unexpected concurrency defaults: %+v", cfg.Queue.Concurrency)
	}
	quota, ok := cfg.Quota(config.EndpointPostCreate)
	if !ok || quota.Limit != 5 || quota.Window() != 15*time.Minute {
		t.Fatalf("unexpected post.create quota: %+v", quota)
	}
	if cfg.ExpiredRetention() != 7*24*time.Hour {
		t.Fatalf("unexpected retention %s", cfg.ExpiredRetention())
	}
}

func TestLoadCustomValuesAndEnvFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[queue.concurrency]
generation = 6

[rate_limits."post.create"]
limit = 2
window_seconds = 60

[blob]
backend = "s3"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	env := "QUILL_LLM_API_KEY=from-dotenv\nQUILL_S3_BUCKET=media-bucket\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("QUILL_LLM_API_KEY", "")
	os.Unsetenv("QUILL_LLM_API_KEY")
	t.Setenv("QUILL_S3_BUCKET", "")
	os.Unsetenv("QUILL_S3_BUCKET")

	cfg, _, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config to exist")
	}
	if cfg.LLM.APIKey != "from-dotenv" {
		t.Fatalf("expected api key from .env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Blob.S3Bucket != "media-bucket" {
		t.Fatalf("expected bucket from .env, got %q", cfg.Blob.S3Bucket)
	}
	if cfg.QueueConcurrency(config.QueueGeneration) != 6 {
		t.Fatalf("expected generation concurrency 6, got %d", cfg.QueueConcurrency(config.QueueGeneration))
	}
	if cfg.QueueConcurrency(config.QueueSocial) != 3 {
		t.Fatalf("expected social default to survive partial override")
	}
	if quota, _ := cfg.Quota(config.EndpointPostCreate); quota.Limit != 2 || quota.WindowSeconds != 60 {
		t.Fatalf("unexpected quota %+v", quota)
	}
	if quota, ok := cfg.Quota(config.EndpointUserTimeline); !ok || quota.Limit != 100 {
		t.Fatalf("expected default timeline quota, got %+v", quota)
	}
	if cfg.Database.Path != filepath.Join(dir, "data", "quill.db") {
		t.Fatalf("unexpected database path %q", cfg.Database.Path)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"lease shorter than heartbeat", func(c *config.Config) { c.Queue.LeaseSeconds = 10 }, "queue.lease_seconds"},
		{"zero quota", func(c *config.Config) {
			c.RateLimits[config.EndpointPostCreate] = config.RateLimit{Limit: 0, WindowSeconds: 60}
		}, "rate_limits.post.create.limit"},
		{"unknown blob backend", func(c *config.Config) { c.Blob.Backend = "ftp" }, "blob.backend"},
		{"s3 without bucket", func(c *config.Config) { c.Blob.Backend = config.BlobBackendS3 }, "blob.s3_bucket"},
		{"bad cron", func(c *config.Config) { c.Reaper.Schedule = "every so often" }, "reaper.schedule"},
		{"social without token", func(c *config.Config) { c.Social.Enabled = true }, "social.token"},
		{"odd video size", func(c *config.Config) { c.Video.Width = 1081 }, "even"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists || cfg.Reaper.BatchSize != 100 {
		t.Fatalf("unexpected sample values: exists=%v batch=%d", exists, cfg.Reaper.BatchSize)
	}
}
