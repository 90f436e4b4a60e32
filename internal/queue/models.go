package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AllStatuses lists statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusActive, StatusCompleted, StatusFailed}
}

// ParseStatus converts a string to a Status.
func ParseStatus(value string) (Status, bool) {
	for _, s := range AllStatuses() {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// Priorities. Lower values are claimed first.
const (
	PriorityUser       = 1
	PriorityDefault    = 5
	PriorityBackground = 10
)

var (
	// ErrLeaseLost indicates the job is no longer active under this worker,
	// typically because its lease expired and it was reclaimed.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrJobNotFound indicates no job row matched.
	ErrJobNotFound = errors.New("job not found")
)

// Job is one row of the jobs table.
type Job struct {
	Seq         int64
	ID          string
	Queue       string
	Type        string
	Payload     json.RawMessage
	Status      Status
	Priority    int
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	LastError   string
	Result      json.RawMessage
	Progress    float64
	LeaseUntil  *time.Time
	HeartbeatAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has empty payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// EnqueueOptions tunes a single enqueue call.
type EnqueueOptions struct {
	// JobID deduplicates pending work. A random ID is assigned when empty.
	JobID       string
	Delay       time.Duration
	Priority    int
	MaxAttempts int
	// KeepLater leaves a pending job's later run_at in place instead of
	// pulling it forward to now+Delay.
	KeepLater bool
}

// FailOutcome reports what happened to a failed job.
type FailOutcome string

const (
	OutcomeRetried    FailOutcome = "retried"
	OutcomeFailed     FailOutcome = "failed"
	OutcomeSuperseded FailOutcome = "superseded"
)

// ListFilter narrows List results.
type ListFilter struct {
	Queue    string
	Statuses []Status
	Limit    int
}

// QueueStats counts jobs per status for one queue.
type QueueStats struct {
	Queue  string         `json:"queue"`
	Counts map[Status]int `json:"counts"`
}
