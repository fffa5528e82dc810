package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"inkwell/internal/services"
)

func TestCodeMapsTypedErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"transition", &services.InvalidTransitionError{Entity: "book", ID: 1, Event: "publish_primary", From: "qa_review"}, CodeInvalidTransition, http.StatusConflict},
		{"gate", &services.QualityGateError{BookID: 1}, CodeQualityGateFailed, http.StatusUnprocessableEntity},
		{"conflict", &services.ConcurrencyConflictError{Entity: "chapter", ID: 2}, CodeConcurrencyConflict, http.StatusConflict},
		{"not found", services.Wrap(services.ErrNotFound, "catalog", "get", "book 9", nil), CodeNotFound, http.StatusNotFound},
		{"validation", services.Wrap(services.ErrValidation, "api", "checklist", "bad", nil), CodeValidation, http.StatusBadRequest},
		{"configuration", services.Wrap(services.ErrConfiguration, "llm", "init", "no key", nil), CodeConfiguration, http.StatusServiceUnavailable},
		{"provider", &services.ProviderError{Provider: "llm", Operation: "generate", Transient: true}, CodeProvider, http.StatusBadGateway},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), CodeTimeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, status := Code(tc.err)
			if code != tc.code || status != tc.status {
				t.Fatalf("Code(%v) = %s/%d, want %s/%d", tc.err, code, status, tc.code, tc.status)
			}
		})
	}
}

func TestErrorFromAttachesGateFailures(t *testing.T) {
	err := fmt.Errorf("fire: %w", &services.QualityGateError{
		BookID: 7,
		Failures: []services.GateFailure{
			{Code: "ai_score_too_high", Message: "AI-detection score 25.0 must be below 20.0"},
			{Code: "checklist_incomplete", Message: "checklist incomplete: metadata_locked"},
		},
	})
	body := ErrorFrom(err)
	if body.Code != CodeQualityGateFailed {
		t.Fatalf("unexpected code %q", body.Code)
	}
	failures, ok := body.Details["failures"].(GateFailures)
	if !ok || len(failures) != 2 {
		t.Fatalf("expected two gate failures, got %#v", body.Details["failures"])
	}
	if failures[1].Code != "checklist_incomplete" {
		t.Fatalf("unexpected failure order: %+v", failures)
	}
}

func TestErrorFromTransitionDetails(t *testing.T) {
	body := ErrorFrom(&services.InvalidTransitionError{Entity: "book", ID: 3, Event: "archive", From: "concept_pending"})
	if body.Details["event"] != "archive" || body.Details["from"] != "concept_pending" {
		t.Fatalf("unexpected details: %#v", body.Details)
	}
}

func TestDecodedErrorUnwrapsToSentinel(t *testing.T) {
	var err error = &Error{Code: CodeConcurrencyConflict, Message: "book 1: concurrent modification"}
	if !errors.Is(err, services.ErrConcurrencyConflict) {
		t.Fatal("expected decoded error to match ErrConcurrencyConflict")
	}
	if errors.Is(&Error{Code: CodeInternal}, services.ErrNotFound) {
		t.Fatal("internal error must not match a typed sentinel")
	}
	if ErrorFrom(nil).Code != "" {
		t.Fatal("nil error should produce an empty body")
	}
}
