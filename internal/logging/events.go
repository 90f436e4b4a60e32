package logging

import "log/slog"

const defaultErrorHint = "check logs for details"

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact. Missing fields get defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, Event(eventType))
	attrs = withDefault(attrs, String(FieldErrorHint, defaultErrorHint))
	attrs = withDefault(attrs, String(FieldImpact, "operation completed with warnings"))
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, Event(eventType))
	attrs = withDefault(attrs, String(FieldErrorHint, defaultErrorHint))
	logger.Error(msg, Args(attrs...)...)
}

func withDefault(attrs []Attr, fallback Attr) []Attr {
	if HasAttrKey(attrs, fallback.Key) {
		return attrs
	}
	return append(attrs, fallback)
}
