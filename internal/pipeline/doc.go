// Package pipeline produces the derived assets of a completed artifact.
//
// Stages run in a fixed order (text, audio, video) and each depends on the
// output of the one before it. Every stage checks for an existing asset of
// the current generation cycle first and skips when one is found, so a
// redelivered job only redoes what is missing. A stage failure never rolls
// back earlier stages; Run attempts every stage and then reports the
// failures so the queue can retry the job.
package pipeline
