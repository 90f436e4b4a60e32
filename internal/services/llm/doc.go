// Package llm provides an OpenAI-compatible chat completion client used to
// write story pages, monologue scripts and narration text.
//
// Complete sends a system and user prompt and returns the generated content
// together with token usage and a cost estimate. When the provider reports a
// cost in its usage block that figure wins; otherwise cost is derived from the
// configured per-million-token rates.
//
// # Retry Behaviour
//
// Requests are retried on HTTP 408/429/5xx, empty content and network
// timeouts with exponential backoff (base 1s, max 10s, 5 attempts by
// default). A Retry-After header overrides the computed delay. Context
// cancellation aborts retries immediately. Authentication failures are
// reported as configuration errors so the job queue does not retry them.
package llm
