package worker

import (
	"context"
	"log/slog"

	"quill/internal/logging"
)

type progressKey struct{}

type progressFunc func(ctx context.Context, fraction float64)

func withProgress(ctx context.Context, fn progressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress records fractional progress (0..1) for the job running in
// ctx. It is a no-op outside a worker.
func ReportProgress(ctx context.Context, fraction float64) {
	if ctx == nil {
		return
	}
	fn, ok := ctx.Value(progressKey{}).(progressFunc)
	if !ok || fn == nil {
		return
	}
	fn(ctx, fraction)
}

func (r *Runner) progressReporter(logger *slog.Logger, seq int64) progressFunc {
	return func(ctx context.Context, fraction float64) {
		if err := r.jobs.UpdateProgress(ctx, seq, fraction); err != nil {
			logger.Debug("progress update failed", logging.Error(err))
		}
	}
}
