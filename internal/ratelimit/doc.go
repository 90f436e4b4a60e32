// Package ratelimit tracks per-endpoint, per-subject call quotas for external
// APIs in Redis sorted sets so independent worker processes share one view of
// the trailing window.
//
// Each (endpoint, subject) pair owns a sorted set of call timestamps scored in
// unix milliseconds. Check prunes entries that fell out of the window, counts
// what remains, and when over quota derives RetryAfter from the oldest entry
// still inside the window. Record appends a call and refreshes the key expiry.
//
// Being rate limited is flow control: jobs call Reschedule to re-enqueue
// themselves under a deterministic job id and report success.
package ratelimit
