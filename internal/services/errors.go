package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	ErrInvalidTransition   = errors.New("invalid transition")
	ErrQualityGateFailed   = errors.New("quality gate failed")
	ErrProvider            = errors.New("provider error")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a handler failure should be attempted again.
// Transient, timeout, and transient provider failures retry; everything else
// (validation, configuration, not found, state conflicts) is terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrQualityGateFailed),
		errors.Is(err, ErrConcurrencyConflict):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, ErrExternalTool):
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// InvalidTransitionError reports an event fired from a state outside its
// allowed sources. The entity is left untouched.
type InvalidTransitionError struct {
	Entity string
	ID     int64
	Event  string
	From   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %d: event %q not allowed from %q", e.Entity, e.ID, e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// GateFailure is one unmet export condition.
type GateFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QualityGateError carries every unmet condition that blocked an export.
type QualityGateError struct {
	BookID   int64
	Failures []GateFailure
}

func (e *QualityGateError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Message)
	}
	return fmt.Sprintf("book %d: quality gate failed: %s", e.BookID, strings.Join(msgs, "; "))
}

func (e *QualityGateError) Unwrap() error { return ErrQualityGateFailed }

// Codes returns the failure codes in evaluation order.
func (e *QualityGateError) Codes() []string {
	codes := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		codes = append(codes, f.Code)
	}
	return codes
}

// ProviderError wraps a failed call to an external provider.
type ProviderError struct {
	Provider  string
	Operation string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s provider failure", e.Provider, e.Operation, kind)
	}
	return fmt.Sprintf("%s %s: %s provider failure: %v", e.Provider, e.Operation, kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvider}
	}
	return []error{ErrProvider, e.Err}
}

// ConcurrencyConflictError reports that a row no longer matched the expected
// pre-state when a write was attempted.
type ConcurrencyConflictError struct {
	Entity   string
	ID       int64
	Expected string
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s %d: concurrent modification", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s %d: concurrent modification (expected %s)", e.Entity, e.ID, e.Expected)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }
