package daemonctl

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"inkwell/internal/api"
	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/workqueue"
)

// Check is a single pass/warn/fail line in the status report.
type Check struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Snapshot is what `inkwell status` renders. When the daemon is offline the
// book and queue counts are read straight from the stores.
type Snapshot struct {
	Online bool             `json:"online"`
	PID    int              `json:"pid"`
	Status api.DaemonStatus `json:"status"`
	Checks []Check          `json:"checks"`
}

// BuildStatusSnapshot asks the running daemon for its status and falls back
// to the on-disk stores when it cannot be reached.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (Snapshot, error) {
	if cfg == nil {
		return Snapshot{}, errors.New("configuration not available")
	}
	snap := Snapshot{}
	alive, pid, _ := ProcessInfo(cfg)
	snap.PID = pid

	if client, err := NewClient(cfg); err == nil && client != nil && alive {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status, statusErr := client.Status(queryCtx)
		cancel()
		if statusErr == nil {
			snap.Online = status.Running
			snap.Status = status
		}
	}

	if !snap.Online {
		snap.Status = offlineStatus(ctx, cfg)
		snap.Status.PID = pid
	}
	snap.Checks = buildChecks(cfg, snap)
	return snap, nil
}

func offlineStatus(ctx context.Context, cfg *config.Config) api.DaemonStatus {
	status := api.DaemonStatus{
		DatabasePath:     cfg.DatabasePath(),
		WorkQueueBackend: cfg.WorkQueue.Backend,
		LockFilePath:     cfg.LockPath(),
		Books:            map[string]int{},
		Workflow:         api.WorkflowStatus{QueueStats: map[string]api.QueueStats{}, Lanes: map[string]int{}, Processed: map[string]int{}},
	}
	if status.WorkQueueBackend == "" {
		status.WorkQueueBackend = "sqlite"
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if store, err := catalog.Open(cfg); err == nil {
		if counts, err := store.CountBooksByStatus(queryCtx); err == nil {
			for s, n := range counts {
				status.Books[string(s)] = n
			}
		}
		_ = store.Close()
	}
	if queue, err := workqueue.Open(queryCtx, cfg); err == nil {
		if stats, err := queue.Stats(queryCtx); err == nil {
			status.Workflow.QueueStats = api.FromQueueStats(stats)
		}
		_ = queue.Close()
	}
	return status
}

func buildChecks(cfg *config.Config, snap Snapshot) []Check {
	checks := make([]Check, 0, 5)
	add := func(name string, ok bool, warnOnly bool, okDetail, badDetail string) {
		c := Check{Name: name, Severity: "ok", Detail: okDetail}
		if !ok {
			c.Detail = badDetail
			c.Severity = "error"
			if warnOnly {
				c.Severity = "warn"
			}
		}
		checks = append(checks, c)
	}

	add("daemon", snap.Online, true, "running", "not running; start it with `inkwell start`")
	add("llm", cfg.LLM.APIKey != "", false, cfg.LLM.Model, "llm.api_key is not set; chapter generation will fail")
	add("scoring", cfg.Scoring.Enabled, true, cfg.Scoring.URL, "disabled; preflight checks cannot run")
	add("notifications", cfg.Notifications.NtfyTopic != "", true, cfg.Notifications.NtfyTopic, "ntfy topic not set")
	add("api", cfg.Paths.APIBind != "", true, cfg.Paths.APIBind, "api_bind is empty; the CLI works against the local stores only")

	failed := 0
	for _, qs := range snap.Status.Workflow.QueueStats {
		failed += qs.Failed
	}
	add("work units", failed == 0, true, "no failed units", humanize.Comma(int64(failed))+" failed units; inspect chapters in generation_failed")
	return checks
}
