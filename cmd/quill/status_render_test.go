package main

import (
	"fmt"
	"strings"
	"testing"

	"quill/internal/preflight"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Redis", statusError, "connection refused", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Redis:", "[ERROR] connection refused")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Redis", statusOK, "", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestPreflightLines(t *testing.T) {
	results := []preflight.Result{
		{Name: "Data directory", Passed: true},
		{Name: "FFmpeg", Optional: true, Detail: "not found"},
		{Name: "Redis", Detail: "connection refused"},
	}
	lines := preflightLines(results, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR] 1 required, 1 optional failing") {
		t.Fatalf("unexpected summary %q", lines[0])
	}
	if !strings.Contains(lines[2], "[WARN] not found") || !strings.Contains(lines[3], "[ERROR] connection refused") {
		t.Fatalf("unexpected body %q", lines)
	}

	lines = preflightLines(results[:1], false)
	if !strings.Contains(lines[0], "[OK] 1 checks passed") {
		t.Fatalf("unexpected healthy summary %q", lines[0])
	}
}

func TestSectionHeaderRuleMatchesTitle(t *testing.T) {
	lines := renderSectionHeader("  Artifact ü1 ", false)
	if lines[0] != "Artifact ü1" || lines[1] != strings.Repeat("─", 11) {
		t.Fatalf("unexpected header %q", lines)
	}
}
