package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"quill/internal/services"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fakeRunner(calls *[][]string) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, append([]string{name}, args...))
		out := args[len(args)-1]
		return nil, os.WriteFile(out, []byte("mp4"), 0o644)
	}
}

func TestRenderUsesCoverImage(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.mp3")
	cover := filepath.Join(dir, "cover.png")
	writeFile(t, audio, "a")
	writeFile(t, cover, "png")

	var calls [][]string
	r := &Renderer{Binary: "ffmpeg", Width: 720, Height: 1280, Background: "0x101010", Run: fakeRunner(&calls)}
	res, err := r.Render(context.Background(), Request{AudioPath: audio, ImagePath: cover, DurationSeconds: 12.5, OutputPath: filepath.Join(dir, "out", "v.mp4")})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Background {
		t.Fatalf("expected cover render")
	}
	args := calls[0]
	if !slices.Contains(args, cover) || !slices.Contains(args, "12.500") {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(strings.Join(args, " "), "scale=720:1280") {
		t.Fatalf("expected scale filter, got %v", args)
	}
}

func TestRenderFallsBackToBackground(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.mp3")
	writeFile(t, audio, "a")

	var calls [][]string
	r := &Renderer{Width: 1080, Height: 1920, Background: "0x1f1f24", Run: fakeRunner(&calls)}
	res, err := r.Render(context.Background(), Request{AudioPath: audio, ImagePath: filepath.Join(dir, "missing.png"), DurationSeconds: 3, OutputPath: filepath.Join(dir, "v.mp4")})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !res.Background {
		t.Fatalf("expected background fallback")
	}
	if calls[0][0] != "ffmpeg" || !slices.Contains(calls[0], "color=c=0x1f1f24:s=1080x1920:r=30") {
		t.Fatalf("unexpected args: %v", calls[0])
	}
}

func TestRenderRequiresAudio(t *testing.T) {
	r := &Renderer{Run: func(context.Context, string, ...string) ([]byte, error) {
		t.Fatalf("runner must not be called")
		return nil, nil
	}}
	dir := t.TempDir()
	_, err := r.Render(context.Background(), Request{AudioPath: filepath.Join(dir, "missing.mp3"), DurationSeconds: 1, OutputPath: filepath.Join(dir, "v.mp4")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	audio := filepath.Join(dir, "a.mp3")
	writeFile(t, audio, "a")
	_, err = r.Render(context.Background(), Request{AudioPath: audio, OutputPath: filepath.Join(dir, "v.mp4")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown duration, got %v", err)
	}
}

func TestRenderFailureIsGenerationError(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.mp3")
	writeFile(t, audio, "a")
	r := &Renderer{Run: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("line1\nInvalid data found"), errors.New("exit status 1")
	}}
	_, err := r.Render(context.Background(), Request{AudioPath: audio, DurationSeconds: 1, OutputPath: filepath.Join(dir, "v.mp4")})
	if !errors.Is(err, services.ErrGeneration) || !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected generation error with ffmpeg output, got %v", err)
	}
}
