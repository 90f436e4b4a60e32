package logging

import (
	"context"
	"log/slog"

	"quill/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldArtifactID is the standardized key for artifact identifiers.
	FieldArtifactID = "artifact_id"
	// FieldJobID is the standardized key for queue job identifiers.
	FieldJobID = "job_id"
	// FieldStage is the standardized key for pipeline stage names.
	FieldStage = "stage"
	// FieldQueue is the standardized key for worker queue names.
	FieldQueue = "queue"
	// FieldCorrelationID is the standardized key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. precondition_warning).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldCostUSD is the provider spend attributed to a log line.
	FieldCostUSD = "cost_usd"
)

// ContextFields extracts the artifact, job, stage, queue, and correlation
// identifiers stored on ctx by the services helpers.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	lookups := []struct {
		get  func(context.Context) (string, bool)
		attr func(string) Attr
	}{
		{services.ArtifactIDFromContext, ArtifactID},
		{services.JobIDFromContext, JobID},
		{services.StageFromContext, Stage},
		{services.QueueFromContext, Queue},
		{services.RequestIDFromContext, func(id string) Attr { return String(FieldCorrelationID, id) }},
	}
	var fields []slog.Attr
	for _, l := range lookups {
		if value, ok := l.get(ctx); ok {
			fields = append(fields, l.attr(value))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
