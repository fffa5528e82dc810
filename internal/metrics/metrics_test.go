package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"inkwell/internal/metrics"
)

func TestObserveUnitIncrementsCounter(t *testing.T) {
	counter := metrics.WorkUnitsTotal.WithLabelValues("content", "test.op", metrics.ResultDone)
	before := testutil.ToFloat64(counter)
	metrics.ObserveUnit("content", "test.op", metrics.ResultDone, 10*time.Millisecond)
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected counter %v, got %v", before+1, got)
	}
}

func TestObserveGenerationTracksTokens(t *testing.T) {
	prompt := metrics.LLMTokensUsed.WithLabelValues("test-model", "prompt")
	completion := metrics.LLMTokensUsed.WithLabelValues("test-model", "completion")
	p0, c0 := testutil.ToFloat64(prompt), testutil.ToFloat64(completion)

	metrics.ObserveGeneration("chapter.generate", "test-model", 100, 250, 0.01, time.Second)

	if got := testutil.ToFloat64(prompt) - p0; got != 100 {
		t.Fatalf("expected 100 prompt tokens, got %v", got)
	}
	if got := testutil.ToFloat64(completion) - c0; got != 250 {
		t.Fatalf("expected 250 completion tokens, got %v", got)
	}
}

func TestOutcome(t *testing.T) {
	if metrics.Outcome(nil) != metrics.ResultOK {
		t.Fatal("nil error should be ok")
	}
	if metrics.Outcome(errors.New("x")) != metrics.ResultRejected {
		t.Fatal("error should be rejected")
	}
}
