// Package queue persists background jobs in SQLite and exposes the claim,
// heartbeat, retry, and completion operations worker pools drive.
//
// Jobs are at-least-once: a claimed job holds a lease that its worker extends
// with heartbeats, and ReclaimExpired returns abandoned jobs to pending. Job
// IDs deduplicate pending work. Enqueueing an ID that already has a pending row
// replaces that row instead of stacking a second one, which is how
// self-rescheduling jobs keep a single future run.
//
// Lower priority values are more urgent. Failures are retried with
// exponential backoff until max attempts is reached, unless the caller marks
// the failure as permanent.
package queue
