package services

import "context"

type contextKey string

const (
	bookIDKey    contextKey = "book_id"
	chapterIDKey contextKey = "chapter_id"
	unitIDKey    contextKey = "unit_id"
	queueKey     contextKey = "queue"
	operationKey contextKey = "operation"
	requestIDKey contextKey = "request_id"
)

// WithBookID annotates context with the book identifier.
func WithBookID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, bookIDKey, id)
}

// BookIDFromContext extracts the book identifier if present.
func BookIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, bookIDKey)
}

// WithChapterID annotates context with the chapter identifier.
func WithChapterID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, chapterIDKey, id)
}

// ChapterIDFromContext extracts the chapter identifier if present.
func ChapterIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, chapterIDKey)
}

func int64Value(ctx context.Context, key contextKey) (int64, bool) {
	v := ctx.Value(key)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithUnitID annotates context with the work unit identifier.
func WithUnitID(ctx context.Context, id string) context.Context {
	return withString(ctx, unitIDKey, id)
}

// UnitIDFromContext returns the work unit identifier if present.
func UnitIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, unitIDKey)
}

// WithQueue annotates context with the named work queue (content, quality, ...).
func WithQueue(ctx context.Context, queue string) context.Context {
	return withString(ctx, queueKey, queue)
}

// QueueFromContext returns the queue name if present.
func QueueFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, queueKey)
}

// WithOperation annotates context with the work unit operation name.
func WithOperation(ctx context.Context, op string) context.Context {
	return withString(ctx, operationKey, op)
}

// OperationFromContext returns the operation name if present.
func OperationFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, operationKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
