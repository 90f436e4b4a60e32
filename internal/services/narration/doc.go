// Package narration wraps an OpenAI-compatible text-to-speech endpoint that
// turns narration scripts into MP3 audio.
//
// Cost is estimated from the number of characters sent and the configured
// per-thousand-character rate; the provider does not report spend.
package narration
