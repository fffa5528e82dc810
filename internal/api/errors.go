package api

import (
	"context"
	"errors"
	"net/http"

	"inkwell/internal/services"
)

// Stable rejection codes.
const (
	CodeInvalidTransition   = "invalid_transition"
	CodeQualityGateFailed   = "quality_gate_failed"
	CodeConcurrencyConflict = "concurrency_conflict"
	CodeNotFound            = "not_found"
	CodeValidation          = "validation"
	CodeConfiguration       = "configuration"
	CodeProvider            = "provider"
	CodeTimeout             = "timeout"
	CodeInternal            = "internal"
)

// Code maps an error to its stable code and HTTP status.
func Code(err error) (string, int) {
	switch {
	case err == nil:
		return "", http.StatusOK
	case errors.Is(err, services.ErrInvalidTransition):
		return CodeInvalidTransition, http.StatusConflict
	case errors.Is(err, services.ErrQualityGateFailed):
		return CodeQualityGateFailed, http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrConcurrencyConflict):
		return CodeConcurrencyConflict, http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return CodeValidation, http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		return CodeConfiguration, http.StatusServiceUnavailable
	case errors.Is(err, services.ErrProvider), errors.Is(err, services.ErrTransient):
		return CodeProvider, http.StatusBadGateway
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, http.StatusGatewayTimeout
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// ErrorFrom builds the rejection body for err, attaching structured details
// for typed domain errors.
func ErrorFrom(err error) Error {
	if err == nil {
		return Error{}
	}
	code, _ := Code(err)
	out := Error{Code: code, Message: err.Error()}

	var transition *services.InvalidTransitionError
	var gate *services.QualityGateError
	var conflict *services.ConcurrencyConflictError
	switch {
	case errors.As(err, &gate):
		out.Details = map[string]any{
			"bookId":   gate.BookID,
			"failures": GateFailures(gate.Failures),
		}
	case errors.As(err, &transition):
		out.Details = map[string]any{
			"entity": transition.Entity,
			"id":     transition.ID,
			"event":  transition.Event,
			"from":   transition.From,
		}
	case errors.As(err, &conflict):
		out.Details = map[string]any{
			"entity":   conflict.Entity,
			"id":       conflict.ID,
			"expected": conflict.Expected,
		}
	}
	return out
}

// Error lets a decoded rejection travel as an error on the client side.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Unwrap maps the stable code back onto the service sentinel so callers can
// keep using errors.Is across the HTTP boundary.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeInvalidTransition:
		return services.ErrInvalidTransition
	case CodeQualityGateFailed:
		return services.ErrQualityGateFailed
	case CodeConcurrencyConflict:
		return services.ErrConcurrencyConflict
	case CodeNotFound:
		return services.ErrNotFound
	case CodeValidation:
		return services.ErrValidation
	case CodeConfiguration:
		return services.ErrConfiguration
	case CodeProvider:
		return services.ErrProvider
	case CodeTimeout:
		return services.ErrTimeout
	}
	return nil
}
