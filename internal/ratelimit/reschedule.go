package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"quill/internal/logging"
	"quill/internal/queue"
)

// Enqueuer is the part of the job queue Reschedule needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, opts queue.EnqueueOptions) (*queue.Job, error)
}

// SocialSyncJobID is the deterministic id shared by every sync job for a
// subject, so repeated reschedules collapse into one pending row.
func SocialSyncJobID(subject string) string {
	return "social-sync:" + subject
}

// Rescheduled describes a job pushed back because of a quota.
type Rescheduled struct {
	JobID      string  `json:"job_id"`
	Endpoint   string  `json:"endpoint"`
	Subject    string  `json:"subject"`
	RetryAfter float64 `json:"retry_after_seconds"`
}

// Reschedule re-enqueues jobType under jobID with a delay of
// decision.RetryAfter. The returned value is meant to be the job result: the
// current delivery completes successfully and the successor runs later.
func Reschedule(ctx context.Context, q Enqueuer, logger *slog.Logger, queueName, jobType, jobID string, payload any, endpoint, subject string, decision Decision) (*Rescheduled, error) {
	if decision.Allowed {
		return nil, fmt.Errorf("reschedule %s: decision allows the call", jobID)
	}
	if _, err := q.Enqueue(ctx, queueName, jobType, payload, queue.EnqueueOptions{
		JobID:    jobID,
		Delay:    decision.RetryAfter,
		Priority: queue.PriorityBackground,
	}); err != nil {
		return nil, fmt.Errorf("reschedule %s: %w", jobID, err)
	}
	if logger != nil {
		logger.Info("rate limited; job rescheduled",
			logging.Event("rate_limited"),
			logging.String("endpoint", endpoint),
			logging.String("subject", subject),
			logging.String("rescheduled_job_id", jobID),
			logging.Duration("retry_after", decision.RetryAfter),
			logging.Int("window_count", decision.Count),
			logging.Int("window_limit", decision.Limit),
		)
	}
	return &Rescheduled{
		JobID:      jobID,
		Endpoint:   endpoint,
		Subject:    subject,
		RetryAfter: decision.RetryAfter.Seconds(),
	}, nil
}
