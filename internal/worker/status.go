package worker

import (
	"context"

	"quill/internal/logging"
	"quill/internal/queue"
)

// StatusSummary is a lightweight view of the runner for diagnostics.
type StatusSummary struct {
	Running   bool
	Queues    []string
	Processed int64
	Failed    int64
	LastError string
	LastJob   *queue.Job
	Stats     []queue.QueueStats
}

// Status returns the latest runner information.
func (r *Runner) Status(ctx context.Context) StatusSummary {
	queues := r.Queues()
	r.mu.RLock()
	summary := StatusSummary{
		Running:   r.running,
		Queues:    queues,
		Processed: r.processed,
		Failed:    r.failed,
	}
	if r.lastErr != nil {
		summary.LastError = r.lastErr.Error()
	}
	if r.lastJob != nil {
		copy := *r.lastJob
		summary.LastJob = &copy
	}
	r.mu.RUnlock()

	stats, err := r.jobs.Stats(ctx)
	if err != nil {
		r.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.Stats = stats
	return summary
}
