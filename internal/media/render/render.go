package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quill/internal/config"
	"quill/internal/services"
)

// Request describes one render.
type Request struct {
	AudioPath       string
	ImagePath       string
	DurationSeconds float64
	OutputPath      string
}

// Result describes a finished render.
type Result struct {
	Path       string
	Background bool
	Elapsed    time.Duration
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Renderer wraps the ffmpeg invocation.
type Renderer struct {
	Binary     string
	Width      int
	Height     int
	Background string
	Timeout    time.Duration
	Run        Runner
}

// NewFromConfig builds a renderer from video settings.
func NewFromConfig(cfg *config.Config) *Renderer {
	return &Renderer{
		Binary:     cfg.Video.FFmpegBinary,
		Width:      cfg.Video.Width,
		Height:     cfg.Video.Height,
		Background: cfg.Video.BackgroundColor,
		Timeout:    time.Duration(cfg.Video.TimeoutSeconds) * time.Second,
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Render writes an MP4 to req.OutputPath. A missing image selects the solid
// background; a missing audio file is an error.
func (r *Renderer) Render(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "render", "render", "audio input is required", nil)
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "render", "render", "audio input missing", err)
	}
	if req.DurationSeconds <= 0 {
		return Result{}, services.Wrap(services.ErrValidation, "render", "render", "audio duration is unknown", nil)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("render: create output dir: %w", err)
	}
	if req.ImagePath != "" {
		if _, err := os.Stat(req.ImagePath); err != nil {
			req.ImagePath = ""
		}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	run := r.Run
	if run == nil {
		run = execRunner
	}
	binary := strings.TrimSpace(r.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}

	started := time.Now()
	output, err := run(ctx, binary, r.Args(req)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, services.Wrap(services.ErrTransient, "render", "ffmpeg", "render timed out", err)
		}
		return Result{}, services.Wrap(services.ErrGeneration, "render", "ffmpeg", tail(string(output)), err)
	}
	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		return Result{}, services.Wrap(services.ErrGeneration, "render", "ffmpeg", "ffmpeg produced no output", err)
	}
	return Result{Path: req.OutputPath, Background: req.ImagePath == "", Elapsed: time.Since(started)}, nil
}

// Args returns the ffmpeg arguments for req.
func (r *Renderer) Args(req Request) []string {
	width, height := r.Width, r.Height
	if width <= 0 || height <= 0 {
		width, height = 1080, 1920
	}
	color := strings.TrimSpace(r.Background)
	if color == "" {
		color = "black"
	}
	size := strconv.Itoa(width) + "x" + strconv.Itoa(height)
	duration := strconv.FormatFloat(req.DurationSeconds, 'f', 3, 64)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	var filter string
	if req.ImagePath != "" {
		args = append(args, "-loop", "1", "-i", req.ImagePath)
		filter = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s,format=yuv420p",
			width, height, width, height, color)
	} else {
		args = append(args, "-f", "lavfi", "-i", "color=c="+color+":s="+size+":r=30")
		filter = "format=yuv420p"
	}
	args = append(args,
		"-i", req.AudioPath,
		"-map", "0:v", "-map", "1:a",
		"-vf", filter,
		"-c:v", "libx264", "-tune", "stillimage", "-r", "30",
		"-c:a", "aac", "-b:a", "192k",
		"-t", duration, "-shortest",
		"-movflags", "+faststart",
		req.OutputPath,
	)
	return args
}

func tail(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	msg := strings.TrimSpace(strings.Join(lines, " | "))
	if msg == "" {
		return "ffmpeg failed"
	}
	return msg
}
