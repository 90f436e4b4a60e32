package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption adjusts a test configuration. base is the temp root that
// holds every directory the config points at.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns defaults rooted in a fresh temp directory, with dummy
// provider keys and a filesystem blob store, after applying opts.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Database.Path = filepath.Join(cfg.Paths.DataDir, "quill.db")
	cfg.Blob.Dir = filepath.Join(base, "blobs")
	cfg.Blob.PublicBaseURL = "https://cdn.test"
	cfg.LLM.APIKey = "test"
	cfg.Narration.APIKey = "test"

	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithRedisAddr points the rate limiter at addr, usually a miniredis server.
func WithRedisAddr(addr string) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Redis.Addr = addr
	}
}

func WithReaperBatch(size, concurrency int) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Reaper.BatchSize = size
		cfg.Reaper.Concurrency = concurrency
	}
}

// WithStubbedBinaries puts no-op executables named names (ffmpeg and ffprobe
// by default) first on PATH for the rest of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	if len(names) == 0 {
		names = []string{"ffmpeg", "ffprobe"}
	}
	return func(t testing.TB, base string, _ *config.Config) {
		bin := filepath.Join(base, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", bin, err)
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the temp root behind a config from NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
