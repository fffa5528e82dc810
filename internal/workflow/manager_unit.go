package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/logging"
	"inkwell/internal/metrics"
	"inkwell/internal/services"
	"inkwell/internal/services/llm"
	"inkwell/internal/workqueue"
)

const maxUnitBackoff = 30 * time.Minute

func (m *Manager) process(ctx context.Context, unit *workqueue.Unit) {
	ctx = withUnitContext(ctx, unit)
	logger := logging.WithContext(ctx, m.logger)

	handler, ok := m.handlers[unit.Operation]
	if !ok || handler.run == nil {
		err := fmt.Errorf("no handler registered for %s", unit.Operation)
		if failErr := m.queue.Fail(ctx, unit.ID, err.Error()); failErr != nil {
			logger.Error("failed to persist unit failure", logging.Error(failErr))
		}
		logging.ErrorWithContext(logger, "work unit dropped", "unit_unhandled",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "daemon and producer versions disagree on operations"),
		)
		m.setLastError(err)
		return
	}

	logger.Debug("work unit started", logging.Int("attempt", unit.Attempts))
	start := time.Now()
	err := m.runWithHeartbeat(ctx, unit, handler.run)
	elapsed := time.Since(start)
	m.setLastUnit(unit)

	if err == nil {
		if completeErr := m.queue.Complete(ctx, unit.ID); completeErr != nil {
			logger.Error("failed to complete work unit", logging.Error(completeErr))
			m.setLastError(completeErr)
		}
		metrics.ObserveUnit(unit.Queue, unit.Operation, metrics.ResultDone, elapsed)
		m.countResult(metrics.ResultDone)
		logger.Debug("work unit completed", logging.Duration("duration", elapsed))
		return
	}
	if ctx.Err() != nil {
		// The lease expires and the reclaim loop hands the unit out again.
		logger.Info("work unit interrupted by shutdown", logging.Error(err))
		return
	}
	m.handleUnitFailure(ctx, logger, handler, unit, err, elapsed)
}

func (m *Manager) runWithHeartbeat(ctx context.Context, unit *workqueue.Unit, run func(context.Context, *workqueue.Unit) error) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, unit.ID)

	err := run(ctx, unit)
	hbCancel()
	hbWG.Wait()
	return err
}

func (m *Manager) handleUnitFailure(ctx context.Context, logger *slog.Logger, handler unitHandler, unit *workqueue.Unit, cause error, elapsed time.Duration) {
	m.setLastError(cause)
	message := strings.TrimSpace(cause.Error())

	if services.Retryable(cause) && !unit.Exhausted() {
		delay := m.unitBackoff(unit.Attempts)
		if err := m.queue.Retry(ctx, unit.ID, m.now().Add(delay), message); err != nil {
			logger.Error("failed to reschedule work unit", logging.Error(err))
			return
		}
		metrics.ObserveUnit(unit.Queue, unit.Operation, metrics.ResultRetry, elapsed)
		m.countResult(metrics.ResultRetry)
		logging.WarnWithContext(logger, "work unit failed; retry scheduled", "unit_retry",
			logging.Error(cause),
			logging.Int("attempt", unit.Attempts),
			logging.Int("max_attempts", unit.MaxAttempts),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldErrorHint, "transient provider failure; no action needed unless it repeats"),
			logging.String(logging.FieldImpact, "work delayed"),
		)
		return
	}

	if err := m.queue.Fail(ctx, unit.ID, message); err != nil {
		logger.Error("failed to persist unit failure", logging.Error(err))
	}
	metrics.ObserveUnit(unit.Queue, unit.Operation, metrics.ResultFailed, elapsed)
	m.countResult(metrics.ResultFailed)
	m.exhaust(ctx, logger, handler, unit, cause)
}

func (m *Manager) exhaust(ctx context.Context, logger *slog.Logger, handler unitHandler, unit *workqueue.Unit, cause error) {
	if handler.onExhausted != nil {
		handler.onExhausted(ctx, unit, cause)
		return
	}
	logging.ErrorWithContext(logger, "work unit failed", "unit_failed",
		logging.Error(cause),
		logging.Int("attempts", unit.Attempts),
		logging.Bool("retryable", services.Retryable(cause)),
		logging.String(logging.FieldErrorHint, "inspect the error; the operation can be queued again once fixed"),
	)
}

// unitBackoff doubles the configured retry delay per attempt.
func (m *Manager) unitBackoff(attempt int) time.Duration {
	base := m.cfg.RetryDelay()
	if base <= 0 || attempt <= 1 {
		return max(base, 0)
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxUnitBackoff {
			return maxUnitBackoff
		}
	}
	return delay
}

func (m *Manager) reclaimExpired(ctx context.Context) {
	result, err := m.heartbeat.Reclaim(ctx, m.logger)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(m.logger, "reclaim of expired leases failed", "heartbeat_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check work queue backend availability"),
				logging.String(logging.FieldImpact, "stuck units stay leased until the next sweep"),
			)
		}
		return
	}
	for i := range result.Failed {
		unit := result.Failed[i]
		unitCtx := withUnitContext(ctx, &unit)
		handler := m.handlers[unit.Operation]
		metrics.ObserveUnit(unit.Queue, unit.Operation, metrics.ResultFailed, 0)
		m.countResult(metrics.ResultFailed)
		m.exhaust(unitCtx, logging.WithContext(unitCtx, m.logger), handler, &unit, errors.New("lease expired on final attempt"))
	}
}

func (m *Manager) refreshQueueGauges(ctx context.Context) {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return
	}
	for queue, s := range stats {
		metrics.QueueDepth.WithLabelValues(queue, "pending").Set(float64(s.Pending))
		metrics.QueueDepth.WithLabelValues(queue, "leased").Set(float64(s.Leased))
		metrics.QueueDepth.WithLabelValues(queue, "failed").Set(float64(s.Failed))
	}
}

// generate makes one text generator call. Transient failures are retried by
// rescheduling the unit, so the unit attempt counter is the only retry bound.
func (m *Manager) generate(ctx context.Context, operation string, req llm.Request) (llm.Generation, error) {
	start := time.Now()
	gen, err := m.generator.Generate(ctx, req)
	if err != nil {
		metrics.ObserveGenerationError(operation, time.Since(start))
		return llm.Generation{}, err
	}
	metrics.ObserveGeneration(operation, gen.Model, gen.TokensIn, gen.TokensOut, gen.CostUSD, time.Since(start))
	return gen, nil
}

// score rates text with both scorers, one call each.
func (m *Manager) score(ctx context.Context, text string) (float64, float64, error) {
	ai, err := m.scorer.ScoreAILikelihood(ctx, text)
	if err != nil {
		return 0, 0, err
	}
	plag, err := m.scorer.ScorePlagiarism(ctx, text)
	if err != nil {
		return 0, 0, err
	}
	return ai, plag, nil
}

func withUnitContext(ctx context.Context, unit *workqueue.Unit) context.Context {
	ctx = services.WithUnitID(ctx, unit.ID)
	ctx = services.WithQueue(ctx, unit.Queue)
	ctx = services.WithOperation(ctx, unit.Operation)
	if unit.BookID > 0 {
		ctx = services.WithBookID(ctx, unit.BookID)
	}
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}

// isStaleDelivery reports errors meaning the unit no longer owns its entity.
func isStaleDelivery(err error) bool {
	return errors.Is(err, services.ErrConcurrencyConflict) ||
		errors.Is(err, services.ErrInvalidTransition) ||
		errors.Is(err, services.ErrNotFound)
}
