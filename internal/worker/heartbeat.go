package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quill/internal/logging"
	"quill/internal/queue"
)

// heartbeatLoop extends the lease of one job until ctx is cancelled.
func (r *Runner) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, seq int64) {
	defer wg.Done()
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.jobs.Heartbeat(ctx, seq); err != nil {
				switch {
				case errors.Is(err, context.Canceled):
					return
				case errors.Is(err, queue.ErrLeaseLost):
					logging.WarnWithContext(logger, "heartbeat rejected; lease was reclaimed", "lease_lost",
						logging.String(logging.FieldImpact, "another worker may pick up this job"),
					)
					return
				default:
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}

func (r *Runner) runReclaimer(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.ReclaimInterval)
	defer ticker.Stop()

	r.Reclaim(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reclaim(ctx)
		}
	}
}

// Reclaim returns jobs with lapsed leases to pending.
func (r *Runner) Reclaim(ctx context.Context) int64 {
	reclaimed, err := r.jobs.ReclaimExpired(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("reclaim of expired leases failed; stuck jobs may remain",
				logging.Error(err),
				logging.Event("lease_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return 0
	}
	if reclaimed > 0 {
		r.logger.Info("reclaimed expired job leases",
			logging.Int64("count", reclaimed),
			logging.Event("lease_reclaimed"),
		)
	}
	return reclaimed
}
