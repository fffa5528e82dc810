package pricing

import (
	"context"
	"errors"
	"time"

	"inkwell/internal/logging"
)

const weeklyInterval = 7 * day

// Scheduler runs the daily sweep on a fixed interval and the weekly
// promotion sweep once every seven days.
type Scheduler struct {
	engine     *Engine
	interval   time.Duration
	now        func() time.Time
	lastDaily  time.Time
	lastWeekly time.Time
}

// NewScheduler returns a scheduler that wakes every interval and runs any
// sweep that is due.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{engine: engine, interval: interval, now: time.Now}
}

// SetClock overrides the time source used to decide which sweeps are due.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs whichever sweeps are due at the current time.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	if s.lastDaily.IsZero() || now.Sub(s.lastDaily) >= day {
		if _, err := s.engine.DailySweep(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
			s.engine.logger.Warn("daily pricing sweep incomplete", logging.Error(err))
		}
		s.lastDaily = now
	}
	if s.lastWeekly.IsZero() || now.Sub(s.lastWeekly) >= weeklyInterval {
		if _, err := s.engine.WeeklyPromotionSweep(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
			s.engine.logger.Warn("weekly promotion sweep incomplete", logging.Error(err))
		}
		s.lastWeekly = now
	}
}
