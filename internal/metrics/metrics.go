// Package metrics exposes Prometheus collectors for the pipeline. Collectors
// register with the default registry; the daemon serves them on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inkwell"

var (
	BookTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "transitions_total",
			Help:      "Book lifecycle events by outcome",
		},
		[]string{"event", "result"},
	)

	ChapterTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chapter",
			Name:      "transitions_total",
			Help:      "Chapter lifecycle events by outcome",
		},
		[]string{"event", "result"},
	)

	GenerationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chapter",
			Name:      "generation_failures_total",
			Help:      "Chapters moved to generation_failed after exhausting retries",
		},
	)

	WorkUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "units_total",
			Help:      "Processed work units by outcome (done, retry, failed)",
		},
		[]string{"queue", "operation", "result"},
	)

	WorkUnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "unit_duration_seconds",
			Help:      "Work unit handler duration in seconds",
			Buckets:   []float64{.05, .25, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"queue", "operation"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "depth",
			Help:      "Work units per queue and status",
		},
		[]string{"queue", "status"},
	)

	AdmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "admitted_total",
			Help:      "Chapters admitted into the content queue",
		},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Tokens consumed by generation calls",
		},
		[]string{"model", "type"},
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated generation spend in USD",
		},
		[]string{"model"},
	)

	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Generation calls by status",
		},
		[]string{"operation", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Generation call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	QualityGateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "gate_total",
			Help:      "Export gate evaluations by result",
		},
		[]string{"result"},
	)

	ConsistencyIssuesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "consistency_issues_total",
			Help:      "Issues reported by consistency reviews",
		},
	)

	PriceChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "changes_total",
			Help:      "Pricing phase changes",
		},
		[]string{"from", "to"},
	)
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultDone     = "done"
	ResultRetry    = "retry"
	ResultFailed   = "failed"
)

// ObserveUnit records one handler execution.
func ObserveUnit(queue, operation, result string, elapsed time.Duration) {
	WorkUnitsTotal.WithLabelValues(queue, operation, result).Inc()
	WorkUnitDuration.WithLabelValues(queue, operation).Observe(elapsed.Seconds())
}

// ObserveGeneration records token usage and spend for one completion.
func ObserveGeneration(operation, model string, tokensIn, tokensOut int64, costUSD float64, elapsed time.Duration) {
	LLMCallTotal.WithLabelValues(operation, ResultOK).Inc()
	LLMCallDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(tokensIn))
	LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(tokensOut))
	if costUSD > 0 {
		LLMCostUSD.WithLabelValues(model).Add(costUSD)
	}
}

// ObserveGenerationError records a failed completion.
func ObserveGenerationError(operation string, elapsed time.Duration) {
	LLMCallTotal.WithLabelValues(operation, ResultFailed).Inc()
	LLMCallDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Outcome maps an error to a transition result label.
func Outcome(err error) string {
	if err != nil {
		return ResultRejected
	}
	return ResultOK
}
