package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"inkwell/internal/logging"
)

// Start begins background processing: one worker group per lane plus the
// admission and reclaim loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = group
	m.running = true
	m.mu.Unlock()

	for _, lane := range m.lanes {
		workers := max(lane.workers, 1)
		laneLogger := m.logger.With(logging.String(logging.FieldQueue, lane.queue))
		for i := 0; i < workers; i++ {
			queue := lane.queue
			worker := laneLogger.With(logging.Int("worker", i))
			group.Go(func() error {
				m.runWorker(groupCtx, queue, worker)
				return nil
			})
		}
	}
	group.Go(func() error {
		m.runAdmissionLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		m.runReclaimLoop(groupCtx)
		return nil
	})

	m.logger.Info("workflow started",
		logging.Int("lanes", len(m.lanes)),
		logging.Int("admission_cap", m.cfg.Workflow.AdmissionCap),
	)
	return nil
}

// Stop stops claiming new units and waits for in-flight handlers to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	group := m.group
	m.running = false
	m.cancel = nil
	m.group = nil
	m.mu.Unlock()

	cancel()
	if group != nil {
		_ = group.Wait()
	}
	m.logger.Info("workflow stopped")
}

// ProcessNext claims and runs at most one unit from queue. It reports whether
// a unit was processed.
func (m *Manager) ProcessNext(ctx context.Context, queue string) (bool, error) {
	unit, err := m.queue.Claim(ctx, queue, m.cfg.Lease())
	if err != nil {
		return false, err
	}
	if unit == nil {
		return false, nil
	}
	m.process(ctx, unit)
	return true, nil
}

// Drain processes queue until it has no eligible units or limit units ran.
func (m *Manager) Drain(ctx context.Context, queue string, limit int) (int, error) {
	count := 0
	for limit <= 0 || count < limit {
		ok, err := m.ProcessNext(ctx, queue)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		count++
	}
	return count, nil
}

func (m *Manager) runWorker(ctx context.Context, queue string, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := m.ProcessNext(ctx, queue)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim work unit",
				logging.Error(err),
				logging.String(logging.FieldEventType, "unit_claim_failed"),
				logging.String(logging.FieldErrorHint, "check work queue backend availability"),
			)
			m.wait(ctx, m.pollInterval())
			continue
		}
		if !processed {
			m.wait(ctx, m.pollInterval())
		}
	}
}

func (m *Manager) runAdmissionLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.Workflow.AdmissionInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if _, err := m.AdmitChapters(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.setLastError(err)
			logging.WarnWithContext(m.logger, "admission sweep failed", "admission_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check catalog and work queue access"),
				logging.String(logging.FieldImpact, "no new chapters dispatched until the next sweep"),
			)
		}
		if !m.wait(ctx, interval) {
			return
		}
	}
}

func (m *Manager) runReclaimLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	for {
		m.reclaimExpired(ctx)
		m.refreshQueueGauges(ctx)
		if !m.wait(ctx, interval) {
			return
		}
	}
}

func (m *Manager) pollInterval() time.Duration {
	interval := time.Duration(m.cfg.Workflow.PollInterval) * time.Second
	if interval <= 0 {
		return time.Second
	}
	return interval
}

// wait sleeps for d and reports false when ctx ended first.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
