package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/internal/config"
	"quill/internal/database"
)

// Options configures retry and lease behaviour.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Lease       time.Duration
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	opts Options
}

// New wraps an open database.
func New(db *sql.DB, opts Options) *Store {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 10 * time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, opts: opts}
}

// NewFromConfig builds a Store using the [queue] settings.
func NewFromConfig(db *sql.DB, cfg *config.Config) *Store {
	return New(db, Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
		BackoffMax:  time.Duration(cfg.Queue.BackoffMaxSeconds) * time.Second,
		Lease:       time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
	})
}

// Lease returns the lease duration granted on claim and heartbeat.
func (s *Store) Lease() time.Duration {
	return s.opts.Lease
}

func (s *Store) now() time.Time {
	return s.opts.Now().UTC()
}

const jobColumns = "seq, job_id, queue, type, payload, status, priority, run_at, attempts, max_attempts, last_error, result_json, progress, lease_until, heartbeat_at, created_at, updated_at, finished_at"

// Enqueue inserts a pending job. When a pending row with the same job ID
// exists it is replaced in place, so repeated enqueues never stack.
func (s *Store) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts EnqueueOptions) (*Job, error) {
	queueName = strings.TrimSpace(queueName)
	jobType = strings.TrimSpace(jobType)
	if queueName == "" || jobType == "" {
		return nil, errors.New("enqueue: queue and job type are required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	jobID := strings.TrimSpace(opts.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}
	priority := opts.Priority
	if priority <= 0 {
		priority = PriorityDefault
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.opts.MaxAttempts
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	now := s.now()
	nowText := database.FormatTime(now)
	runAt := database.FormatTime(now.Add(delay))
	keepLater := 0
	if opts.KeepLater {
		keepLater = 1
	}

	var job *Job
	err = database.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`INSERT INTO jobs (job_id, queue, type, payload, status, priority, run_at, attempts, max_attempts, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
             ON CONFLICT(job_id) WHERE status = 'pending' DO UPDATE SET
                 queue = excluded.queue,
                 type = excluded.type,
                 payload = excluded.payload,
                 priority = excluded.priority,
                 run_at = CASE WHEN ? = 1 AND jobs.run_at > excluded.run_at THEN jobs.run_at ELSE excluded.run_at END,
                 attempts = 0,
                 max_attempts = excluded.max_attempts,
                 last_error = NULL,
                 progress = 0,
                 updated_at = excluded.updated_at
             RETURNING `+jobColumns,
			jobID, queueName, jobType, string(encoded), StatusPending, priority, runAt, maxAttempts, nowText, nowText, keepLater,
		)
		var scanErr error
		job, scanErr = scanJob(row)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return job, nil
}

// Claim leases the most urgent runnable job on queueName. It returns nil when
// nothing is due.
func (s *Store) Claim(ctx context.Context, queueName string) (*Job, error) {
	now := s.now()
	nowText := database.FormatTime(now)
	leaseUntil := database.FormatTime(now.Add(s.opts.Lease))

	var job *Job
	err := database.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1, lease_until = ?, heartbeat_at = ?, updated_at = ?
             WHERE seq = (
                 SELECT seq FROM jobs
                 WHERE queue = ? AND status = ? AND run_at <= ?
                 ORDER BY priority, run_at, seq
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			StatusActive, leaseUntil, nowText, nowText,
			queueName, StatusPending, nowText,
		)
		var scanErr error
		job, scanErr = scanJob(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			job = nil
			return nil
		}
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queueName, err)
	}
	return job, nil
}

// Heartbeat extends the lease of an active job.
func (s *Store) Heartbeat(ctx context.Context, seq int64) error {
	now := s.now()
	res, err := database.Exec(ctx, s.db,
		`UPDATE jobs SET heartbeat_at = ?, lease_until = ?, updated_at = ? WHERE seq = ? AND status = ?`,
		database.FormatTime(now), database.FormatTime(now.Add(s.opts.Lease)), database.FormatTime(now), seq, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return requireAffected(res)
}

// UpdateProgress records fractional progress (0..1) for an active job.
func (s *Store) UpdateProgress(ctx context.Context, seq int64, progress float64) error {
	progress = max(0, min(1, progress))
	res, err := database.Exec(ctx, s.db,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE seq = ? AND status = ?`,
		progress, database.FormatTime(s.now()), seq, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireAffected(res)
}

// Complete marks an active job completed and stores its JSON result.
func (s *Store) Complete(ctx context.Context, seq int64, result any) error {
	var resultText any
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		resultText = string(encoded)
	}
	nowText := database.FormatTime(s.now())
	res, err := database.Exec(ctx, s.db,
		`UPDATE jobs
         SET status = ?, result_json = ?, progress = 1, lease_until = NULL, finished_at = ?, updated_at = ?
         WHERE seq = ? AND status = ?`,
		StatusCompleted, resultText, nowText, nowText, seq, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireAffected(res)
}

// Fail records a failed attempt. Retryable failures with attempts remaining go
// back to pending after an exponential backoff; a pending duplicate of the
// same job ID supersedes the retry.
func (s *Store) Fail(ctx context.Context, job *Job, cause error, retryable bool) (FailOutcome, error) {
	if job == nil {
		return "", errors.New("fail: nil job")
	}
	message := "failed"
	if cause != nil {
		message = cause.Error()
	}
	now := s.now()
	nowText := database.FormatTime(now)

	var outcome FailOutcome
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		var jobID string
		err := tx.QueryRowContext(ctx,
			`SELECT job_id, attempts, max_attempts FROM jobs WHERE seq = ? AND status = ?`, job.Seq, StatusActive,
		).Scan(&jobID, &attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLeaseLost
		}
		if err != nil {
			return err
		}

		outcome = OutcomeFailed
		if retryable && attempts < maxAttempts {
			outcome = OutcomeRetried
			pending, err := hasPendingDuplicate(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if pending {
				outcome = OutcomeSuperseded
			}
		}

		switch outcome {
		case OutcomeRetried:
			runAt := database.FormatTime(now.Add(s.Backoff(attempts)))
			_, err = tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, run_at = ?, last_error = ?, lease_until = NULL, updated_at = ? WHERE seq = ?`,
				StatusPending, runAt, message, nowText, job.Seq)
		default:
			if outcome == OutcomeSuperseded {
				message = "superseded by pending duplicate: " + message
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, last_error = ?, lease_until = NULL, finished_at = ?, updated_at = ? WHERE seq = ?`,
				StatusFailed, message, nowText, nowText, job.Seq)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			return "", err
		}
		return "", fmt.Errorf("record job failure: %w", err)
	}
	return outcome, nil
}

// Backoff returns the delay before retrying after the given attempt number.
func (s *Store) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := s.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.opts.BackoffMax {
			return s.opts.BackoffMax
		}
	}
	return delay
}

// ReclaimExpired returns active jobs whose lease has lapsed to pending (or
// fails them when attempts are exhausted). It reports how many rows changed.
func (s *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	nowText := database.FormatTime(s.now())
	var changed int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		changed = 0
		rows, err := tx.QueryContext(ctx,
			`SELECT seq, job_id, attempts, max_attempts FROM jobs WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?`,
			StatusActive, nowText)
		if err != nil {
			return err
		}
		type expired struct {
			seq                   int64
			jobID                 string
			attempts, maxAttempts int
		}
		var list []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.seq, &e.jobID, &e.attempts, &e.maxAttempts); err != nil {
				rows.Close()
				return err
			}
			list = append(list, e)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		for _, e := range list {
			pending, err := hasPendingDuplicate(ctx, tx, e.jobID)
			if err != nil {
				return err
			}
			if pending || e.attempts >= e.maxAttempts {
				reason := "lease expired after final attempt"
				if pending {
					reason = "lease expired; superseded by pending duplicate"
				}
				_, err = tx.ExecContext(ctx,
					`UPDATE jobs SET status = ?, last_error = ?, lease_until = NULL, finished_at = ?, updated_at = ? WHERE seq = ?`,
					StatusFailed, reason, nowText, nowText, e.seq)
			} else {
				_, err = tx.ExecContext(ctx,
					`UPDATE jobs SET status = ?, run_at = ?, last_error = ?, lease_until = NULL, updated_at = ? WHERE seq = ?`,
					StatusPending, nowText, "lease expired", nowText, e.seq)
			}
			if err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim expired jobs: %w", err)
	}
	return changed, nil
}

func hasPendingDuplicate(ctx context.Context, tx *sql.Tx, jobID string) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE job_id = ? AND status = ?`, jobID, StatusPending,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check pending duplicate: %w", err)
	}
	return count > 0, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return encoded, nil
	}
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}
