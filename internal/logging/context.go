package logging

import (
	"context"
	"log/slog"

	"inkwell/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldBookID is the standardized structured logging key for book identifiers.
	FieldBookID = "book_id"
	// FieldChapterID is the standardized structured logging key for chapter identifiers.
	FieldChapterID = "chapter_id"
	// FieldChapterNumber is the 1-based chapter position within its book.
	FieldChapterNumber = "chapter_number"
	// FieldUnitID is the standardized structured logging key for work unit identifiers.
	FieldUnitID = "unit_id"
	// FieldQueue is the standardized structured logging key for named work queues.
	FieldQueue = "queue"
	// FieldOperation is the standardized structured logging key for work unit operations.
	FieldOperation = "operation"
	// FieldEvent is the standardized structured logging key for lifecycle event names.
	FieldEvent = "event"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType classifies a log line for filtering (e.g. "generation_failed").
	FieldEventType = "event_type"
	// FieldErrorHint tells an operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 6)
	if id, ok := services.BookIDFromContext(ctx); ok {
		fields = append(fields, BookID(id))
	}
	if id, ok := services.ChapterIDFromContext(ctx); ok {
		fields = append(fields, ChapterID(id))
	}
	if id, ok := services.UnitIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldUnitID, id))
	}
	if q, ok := services.QueueFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldQueue, q))
	}
	if op, ok := services.OperationFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldOperation, op))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
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
	return slog.New(logger.Handler().WithAttrs(fields))
}
