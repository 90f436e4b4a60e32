// Package services defines shared utilities consumed by job handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp artifact IDs, job IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper. Retryable decides whether
//     the job queue schedules another attempt; Details produces the summary
//     persisted on failed artifacts and jobs.
//
// Subpackages hold the HTTP clients for the text, narration, and social
// providers.
package services
