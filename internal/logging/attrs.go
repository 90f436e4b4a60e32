package logging

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Attr and Value alias slog so callers need only this package.
type (
	Attr  = slog.Attr
	Value = slog.Value
)

func Any(key string, value any) Attr { return slog.Any(key, value) }
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }
func Float64(key string, value float64) Attr { return slog.Float64(key, value) }
func Int(key string, value int) Attr { return slog.Int(key, value) }
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }
func String(key string, value string) Attr { return slog.String(key, value) }
func Alert(value string) Attr { return slog.String(FieldAlert, value) }
func Event(eventType string) Attr { return slog.String(FieldEventType, eventType) }
func ArtifactID(id string) Attr { return slog.String(FieldArtifactID, id) }
func JobID(id string) Attr { return slog.String(FieldJobID, id) }
func Queue(name string) Attr { return slog.String(FieldQueue, name) }
func Stage(name string) Attr { return slog.String(FieldStage, name) }
func Seconds(key string, d time.Duration) Attr { return slog.Float64(key, math.Round(d.Seconds()*1000)/1000) }

// Cost records a USD amount rounded to micro-dollars.
func Cost(usd float64) Attr {
	return slog.Float64(FieldCostUSD, math.Round(usd*1e6)/1e6)
}

// Error records err under "error". A nil error is recorded as "<nil>" so the
// key is always present on failure lines.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs to the variadic form slog methods take.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component name. A nil logger becomes
// a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// HasAttrKey reports whether attrs contains key.
func HasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }
func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }
func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }
func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
