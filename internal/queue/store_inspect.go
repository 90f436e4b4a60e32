package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quill/internal/database"
)

// Get returns the job with the given sequence number.
func (s *Store) Get(ctx context.Context, seq int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE seq = ?`, seq)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindPending returns the pending row for jobID, or nil when none exists.
func (s *Store) FindPending(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ? AND status = ?`, jobID, StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending job: %w", err)
	}
	return job, nil
}

// List returns jobs matching filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if q := strings.TrimSpace(filter.Queue); q != "" {
		clauses = append(clauses, "queue = ?")
		args = append(args, q)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+database.Placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats counts jobs grouped by queue and status.
func (s *Store) Stats(ctx context.Context) ([]QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT queue, status, COUNT(1) FROM jobs GROUP BY queue, status ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats []QueueStats
	index := map[string]int{}
	for rows.Next() {
		var (
			queueName string
			status    Status
			count     int
		)
		if err := rows.Scan(&queueName, &status, &count); err != nil {
			return nil, err
		}
		pos, ok := index[queueName]
		if !ok {
			pos = len(stats)
			index[queueName] = pos
			stats = append(stats, QueueStats{Queue: queueName, Counts: map[Status]int{}})
		}
		stats[pos].Counts[status] = count
	}
	return stats, rows.Err()
}

// RetryFailed moves failed jobs back to pending with a fresh attempt budget.
// Jobs whose ID already has a pending row are left alone.
func (s *Store) RetryFailed(ctx context.Context, seqs ...int64) (int64, error) {
	nowText := database.FormatTime(s.now())
	query := `UPDATE jobs
        SET status = ?, attempts = 0, run_at = ?, last_error = NULL, finished_at = NULL, updated_at = ?
        WHERE status = ?
          AND NOT EXISTS (SELECT 1 FROM jobs p WHERE p.job_id = jobs.job_id AND p.status = ?)`
	args := []any{StatusPending, nowText, nowText, StatusFailed, StatusPending}
	if len(seqs) > 0 {
		query += " AND seq IN (" + database.Placeholders(len(seqs)) + ")"
		for _, seq := range seqs {
			args = append(args, seq)
		}
	}
	res, err := database.Exec(ctx, s.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinished deletes completed and failed jobs that finished before the
// retention window.
func (s *Store) PurgeFinished(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := database.FormatTime(s.now().Add(-retention))
	res, err := database.Exec(ctx, s.db,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job         Job
		payload     string
		status      string
		runAt       string
		lastError   sql.NullString
		result      sql.NullString
		leaseUntil  sql.NullString
		heartbeatAt sql.NullString
		createdAt   string
		updatedAt   string
		finishedAt  sql.NullString
	)
	if err := scanner.Scan(
		&job.Seq,
		&job.ID,
		&job.Queue,
		&job.Type,
		&payload,
		&status,
		&job.Priority,
		&runAt,
		&job.Attempts,
		&job.MaxAttempts,
		&lastError,
		&result,
		&job.Progress,
		&leaseUntil,
		&heartbeatAt,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = []byte(payload)
	job.Status = Status(status)
	job.RunAt = database.TimeOrZero(runAt)
	job.LastError = lastError.String
	if result.Valid {
		job.Result = []byte(result.String)
	}
	job.LeaseUntil = database.TimeFromNull(leaseUntil)
	job.HeartbeatAt = database.TimeFromNull(heartbeatAt)
	job.CreatedAt = database.TimeOrZero(createdAt)
	job.UpdatedAt = database.TimeOrZero(updatedAt)
	job.FinishedAt = database.TimeFromNull(finishedAt)
	return &job, nil
}
