// Package worker runs bounded pools of goroutines that claim jobs from the
// durable queue and dispatch them to registered handlers.
//
// Each queue gets its own pool sized from config. While a handler runs, a
// heartbeat goroutine extends the job lease; a single reclaimer returns jobs
// whose lease lapsed (for example after a crash) to pending. Handler errors
// feed the queue retry policy: errors classified as retryable by
// services.Retryable are retried with backoff, the rest fail immediately.
package worker
