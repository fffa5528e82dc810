package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"inkwell/internal/logging"
	"inkwell/internal/workqueue"
)

// HeartbeatMonitor extends leases of in-flight units and returns expired
// leases to the queue.
type HeartbeatMonitor struct {
	queue    workqueue.Queue
	logger   *slog.Logger
	interval time.Duration
	lease    time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(queue workqueue.Queue, logger *slog.Logger, interval, lease time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		queue:    queue,
		logger:   logger,
		interval: interval,
		lease:    lease,
	}
}

// Reclaim requeues units whose lease expired. Units that expired on their
// final attempt come back in the result for exhaustion handling.
func (h *HeartbeatMonitor) Reclaim(ctx context.Context, logger *slog.Logger) (workqueue.ReclaimResult, error) {
	result, err := h.queue.ReclaimExpired(ctx)
	if err != nil {
		return result, err
	}
	if result.Requeued > 0 || len(result.Failed) > 0 {
		logger.Info("reclaimed expired leases",
			logging.Int("requeued", result.Requeued),
			logging.Int("failed", len(result.Failed)),
		)
	}
	return result, nil
}

// StartLoop extends the lease of unitID until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, unitID string) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.queue.Heartbeat(ctx, unitID, h.lease); err != nil {
				switch {
				case errors.Is(err, context.Canceled):
					logger.Debug("heartbeat stopped")
				case errors.Is(err, workqueue.ErrNotLeased):
					logger.Warn("lease lost; unit may be redelivered",
						logging.Error(err),
						logging.String(logging.FieldEventType, "lease_lost"),
					)
				default:
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
