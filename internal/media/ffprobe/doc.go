// Package ffprobe runs ffprobe and decodes its JSON output. The audio stage
// uses it to measure narrated audio duration; the video stage uses the
// measured duration to size the render.
package ffprobe
