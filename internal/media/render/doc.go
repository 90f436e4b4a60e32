// Package render produces the narrated video asset with ffmpeg: a still
// cover image (or a solid background when no cover exists) looped over the
// narration audio.
package render
