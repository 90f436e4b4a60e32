// Package logging assembles structured slog loggers and formatting helpers used
// across quill services.
//
// It owns the configurable console/JSON handlers, routes file output through a
// size-rotated lumberjack writer, and exposes context-aware helpers so job
// handlers automatically tag log lines with artifact IDs, job IDs, stages, and
// correlation IDs. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
package logging
