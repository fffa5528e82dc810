package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"inkwell/internal/api"
	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/pricing"
)

// Daemon runs the orchestrator, the pricing scheduler, and the HTTP API, and
// enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	rt        *Runtime
	scheduler *pricing.Scheduler
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a daemon over a built runtime.
func New(cfg *config.Config, rt *Runtime, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || rt == nil {
		return nil, errors.New("daemon requires config and runtime")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	interval := time.Duration(cfg.Pricing.SweepInterval) * time.Second
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		rt:        rt,
		scheduler: pricing.NewScheduler(rt.Pricing, interval),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the lock and launches workers, the pricing scheduler, and
// the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another inkwell daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.rt.Workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.rt.Workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.wg.Go(func() {
		d.scheduler.Run(runCtx)
	})

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("inkwell daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop stops background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.rt.Workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("inkwell daemon stopped")
}

// Close stops the daemon and releases the runtime.
func (d *Daemon) Close() error {
	d.Stop()
	return d.rt.Close()
}

// APIAddress returns the bound listener address, or "" when the API is off.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:          d.running.Load(),
		PID:              os.Getpid(),
		DatabasePath:     d.rt.Store.Path(),
		WorkQueueBackend: d.cfg.WorkQueue.Backend,
		LockFilePath:     d.lockPath,
		Books:            map[string]int{},
		Workflow:         api.FromStatusSummary(d.rt.Workflow.Status(ctx)),
	}
	if status.WorkQueueBackend == "" {
		status.WorkQueueBackend = "sqlite"
	}
	if status.Running {
		status.StartedAt = d.startedAt.UTC().Format(time.RFC3339)
	}
	counts, err := d.rt.Store.CountBooksByStatus(ctx)
	if err != nil {
		d.logger.Warn("book counts unavailable", logging.Error(err))
		return status
	}
	for s, n := range counts {
		status.Books[string(s)] = n
	}
	return status
}
