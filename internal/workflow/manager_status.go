package workflow

import (
	"context"
	"maps"

	"inkwell/internal/logging"
	"inkwell/internal/workqueue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool
	LastError  string
	LastUnit   *workqueue.Unit
	QueueStats map[string]workqueue.QueueStats
	Lanes      map[string]int
	Processed  map[string]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Processed: maps.Clone(m.processed),
		Lanes:     make(map[string]int, len(m.lanes)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastUnit != nil {
		unit := *m.lastUnit
		summary.LastUnit = &unit
	}
	for _, lane := range m.lanes {
		summary.Lanes[lane.queue] = max(lane.workers, 1)
	}
	m.mu.RUnlock()

	stats, err := m.queue.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastUnit(unit *workqueue.Unit) {
	m.mu.Lock()
	if unit != nil {
		copied := *unit
		m.lastUnit = &copied
	} else {
		m.lastUnit = nil
	}
	m.mu.Unlock()
}

func (m *Manager) countResult(result string) {
	m.mu.Lock()
	m.processed[result]++
	m.mu.Unlock()
}
