package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/queue"
	"quill/internal/worker"
)

// Job types served on the maintenance queue.
const (
	JobType      = "reaper.run"
	SweepJobType = "reaper.sweep"
)

// SweepRequest is the sweep job payload.
type SweepRequest struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// JobResult is stored as the maintenance job result.
type JobResult struct {
	Report
	Locked bool `json:"locked,omitempty"`
}

// Enqueuer is the queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, opts queue.EnqueueOptions) (*queue.Job, error)
}

// HandleJob runs a reaper pass as a worker job. A pass already running on
// this host turns the job into a no-op.
func (r *Reaper) HandleJob(ctx context.Context, _ *queue.Job) (any, error) {
	report, err := r.Run(ctx, func(fraction float64) {
		worker.ReportProgress(ctx, fraction)
	})
	if errors.Is(err, ErrLocked) {
		r.logger.Info("reaper pass already running; skipping", logging.Event("reaper_locked"))
		return JobResult{Locked: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return JobResult{Report: report}, nil
}

// HandleSweepJob runs SweepExpired as a worker job.
func (r *Reaper) HandleSweepJob(defaultRetention time.Duration) worker.HandlerFunc {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var req SweepRequest
		if len(job.Payload) > 0 {
			if err := job.Decode(&req); err != nil {
				return nil, fmt.Errorf("decode sweep request: %w", err)
			}
		}
		retention := defaultRetention
		if req.RetentionHours > 0 {
			retention = time.Duration(req.RetentionHours) * time.Hour
		}
		report, err := r.SweepExpired(ctx, retention)
		if errors.Is(err, ErrLocked) {
			return JobResult{Locked: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return JobResult{Report: report}, nil
	}
}

// Schedule enqueues reaper and sweep jobs on the configured cron specs. The
// returned scheduler stops when ctx is cancelled.
func Schedule(ctx context.Context, jobs Enqueuer, cfg *config.Config, logger *slog.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "reaper-schedule")
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	enqueue := func(jobType, jobID string) func() {
		return func() {
			if _, err := jobs.Enqueue(ctx, config.QueueMaintenance, jobType, nil, queue.EnqueueOptions{
				JobID:    jobID,
				Priority: queue.PriorityBackground,
			}); err != nil {
				logger.Error("maintenance enqueue failed",
					logging.String("job_type", jobType),
					logging.Error(err),
					logging.Alert("maintenance_enqueue"),
				)
				return
			}
			logger.Debug("maintenance job enqueued", logging.String("job_type", jobType))
		}
	}
	if _, err := c.AddFunc(cfg.Reaper.Schedule, enqueue(JobType, "reaper:run")); err != nil {
		return nil, fmt.Errorf("reaper schedule %q: %w", cfg.Reaper.Schedule, err)
	}
	if _, err := c.AddFunc(cfg.Reaper.SweepSchedule, enqueue(SweepJobType, "reaper:sweep")); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", cfg.Reaper.SweepSchedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	logger.Info("maintenance schedule started",
		logging.String("reaper", cfg.Reaper.Schedule),
		logging.String("sweep", cfg.Reaper.SweepSchedule),
	)
	return c, nil
}
