package deps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quill/internal/config"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present", "exit 0")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestMediaRequirementsFollowVideoToggle(t *testing.T) {
	cfg := config.Default()
	cfg.Video.FFmpegBinary = "clearly-not-ffmpeg"
	cfg.Video.FFprobeBinary = "clearly-not-ffprobe"

	cfg.Video.Enabled = false
	missing := Missing(CheckBinaries(MediaRequirements(&cfg)))
	if len(missing) != 1 || missing[0].Name != "FFprobe" {
		t.Fatalf("expected only ffprobe to be required, got %#v", missing)
	}

	cfg.Video.Enabled = true
	if missing := Missing(CheckBinaries(MediaRequirements(&cfg))); len(missing) != 2 {
		t.Fatalf("expected ffmpeg to become required, got %#v", missing)
	}
}

func TestVersionReadsFirstLine(t *testing.T) {
	stub := writeStub(t, t.TempDir(), "ffprobe", `echo "ffprobe version 7.1 Copyright"; echo "built with gcc"`)
	version, err := Version(context.Background(), stub)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if !strings.HasPrefix(version, "ffprobe version 7.1") {
		t.Fatalf("unexpected version line %q", version)
	}
	if _, err := Version(context.Background(), filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
