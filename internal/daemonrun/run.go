package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"quill/internal/app"
	"quill/internal/config"
	"quill/internal/deps"
	"quill/internal/logging"
	"quill/internal/preflight"
	"quill/internal/reaper"
	"quill/internal/worker"
)

// Options configures worker process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Queues restricts the pools started by this process. Empty runs all.
	Queues []string
	// SkipPreflight starts even when readiness checks fail.
	SkipPreflight bool
	// NoSchedule disables the maintenance cron in this process.
	NoSchedule bool
}

// Run starts the worker pools and maintenance schedule and blocks until
// SIGINT/SIGTERM or ctx cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	logger, err := logging.New(logging.Options{
		Level:       firstNonEmpty(opts.LogLevel, cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "tool"), Pattern: "*.log"},
	)
	pidPath := filepath.Join(cfg.Paths.DataDir, fmt.Sprintf("worker-%d.pid", os.Getpid()))
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	a, err := app.Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}
	defer a.Close()

	if !opts.SkipPreflight {
		results := preflight.RunAll(signalCtx, cfg, preflight.Options{Redis: a.Redis})
		for _, r := range results {
			if !r.Passed {
				logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", r.Name),
					logging.String("detail", r.Detail),
					logging.Bool("optional", r.Optional),
				)
			}
		}
		if err := preflight.Err(results); err != nil {
			return err
		}
	}

	runner := worker.NewFromConfig(a.Jobs, logger, cfg)
	a.Register(runner)
	if len(opts.Queues) > 0 {
		runner.Restrict(opts.Queues...)
	}
	if err := runner.Start(signalCtx); err != nil {
		logger.Warn("worker start failed",
			logging.Error(err),
			logging.Event("worker_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "no jobs will be processed by this process"),
		)
		return err
	}
	defer runner.Stop()

	if !opts.NoSchedule {
		if _, err := reaper.Schedule(signalCtx, a.Jobs, cfg, logger); err != nil {
			return err
		}
	}

	logger.Info("quill worker started",
		logging.String("queues", strings.Join(runner.Queues(), ",")),
		logging.Event("worker_started"),
	)
	<-signalCtx.Done()
	logger.Info("quill worker shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.Event("dependency_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("narration_enabled", cfg.Narration.Enabled),
		logging.Bool("video_enabled", cfg.Video.Enabled),
		logging.Bool("social_enabled", cfg.Social.Enabled),
		logging.String("blob_backend", cfg.Blob.Backend),
		logging.String("redis_addr", cfg.Redis.Addr),
	}
	for _, status := range deps.CheckBinaries(deps.MediaRequirements(cfg)) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
