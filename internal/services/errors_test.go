package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"inkwell/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "generation", "chat", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generation", "chat", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient marker", services.Wrap(services.ErrTransient, "content", "generate", "", errors.New("io")), true},
		{"timeout marker", services.Wrap(services.ErrTimeout, "", "", "deadline", nil), true},
		{"validation marker", services.Wrap(services.ErrValidation, "content", "generate", "empty prompt", nil), false},
		{"transient provider", &services.ProviderError{Provider: "openai", Operation: "chat", Transient: true}, true},
		{"permanent provider", &services.ProviderError{Provider: "openai", Operation: "chat", Transient: false}, false},
		{"wrapped provider", fmt.Errorf("chapter 3: %w", &services.ProviderError{Provider: "openai", Transient: true}), true},
		{"conflict", &services.ConcurrencyConflictError{Entity: "chapter", ID: 1}, false},
		{"plain error", errors.New("unknown"), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	invalid := &services.InvalidTransitionError{Entity: "book", ID: 1, Event: "archive", From: "concept_pending"}
	if !errors.Is(invalid, services.ErrInvalidTransition) {
		t.Fatal("expected invalid transition sentinel")
	}
	gate := &services.QualityGateError{BookID: 1, Failures: []services.GateFailure{{Code: "ai_score_too_high", Message: "AI score 25 must be below 20"}}}
	if !errors.Is(gate, services.ErrQualityGateFailed) {
		t.Fatal("expected quality gate sentinel")
	}
	if got := gate.Codes(); len(got) != 1 || got[0] != "ai_score_too_high" {
		t.Fatalf("unexpected codes: %v", got)
	}
	base := errors.New("503")
	provider := &services.ProviderError{Provider: "openai", Operation: "chat", Transient: true, Err: base}
	if !errors.Is(provider, services.ErrProvider) || !errors.Is(provider, base) {
		t.Fatalf("expected provider error to unwrap to sentinel and cause: %v", provider)
	}
	var conflict *services.ConcurrencyConflictError
	if !errors.As(fmt.Errorf("wrap: %w", &services.ConcurrencyConflictError{Entity: "book", ID: 9}), &conflict) || conflict.ID != 9 {
		t.Fatal("expected errors.As to find conflict")
	}
}
