package services_test

import (
	"context"
	"testing"

	"inkwell/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithBookID(ctx, 42)
	ctx = services.WithChapterID(ctx, 7)
	ctx = services.WithUnitID(ctx, "unit-1")
	ctx = services.WithQueue(ctx, "content")
	ctx = services.WithOperation(ctx, "chapter.generate")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.BookIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected book id: %v %v", id, ok)
	}
	if id, ok := services.ChapterIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected chapter id: %v %v", id, ok)
	}
	if id, ok := services.UnitIDFromContext(ctx); !ok || id != "unit-1" {
		t.Fatalf("unexpected unit id: %v %v", id, ok)
	}
	if q, ok := services.QueueFromContext(ctx); !ok || q != "content" {
		t.Fatalf("unexpected queue: %v %v", q, ok)
	}
	if op, ok := services.OperationFromContext(ctx); !ok || op != "chapter.generate" {
		t.Fatalf("unexpected operation: %v %v", op, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithQueue(ctx, "")
	if _, ok := services.QueueFromContext(ctx); ok {
		t.Fatal("expected no queue value")
	}
	if _, ok := services.BookIDFromContext(ctx); ok {
		t.Fatal("expected no book id")
	}
}
