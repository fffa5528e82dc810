package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"inkwell/internal/api"
	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/lifecycle"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/pricing"
	"inkwell/internal/progress"
	"inkwell/internal/quality"
	"inkwell/internal/services/llm"
	"inkwell/internal/services/scoring"
	"inkwell/internal/workflow"
	"inkwell/internal/workqueue"
)

// Runtime is the wired object graph shared by the daemon and CLI commands.
// Building it never starts workers; CLI commands use it to apply operations
// whose follow-up units the daemon then processes from the shared queue.
type Runtime struct {
	Config   *config.Config
	Store    *catalog.Store
	Queue    workqueue.Queue
	Books    *lifecycle.Machine
	Chapters *lifecycle.Chapters
	Workflow *workflow.Manager
	Progress *progress.Aggregator
	Pricing  *pricing.Engine
	Service  *api.Service
}

// RuntimeOptions override collaborators, mainly for tests.
type RuntimeOptions struct {
	Generator llm.TextGenerator
	Scorer    scoring.Scorer
	Notifier  notifications.Service
}

// BuildRuntime opens storage and wires every component from cfg.
func BuildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := catalog.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	queue, err := workqueue.Open(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open work queue: %w", err)
	}

	generator := opts.Generator
	if generator == nil {
		generator, err = llm.NewConfiguredGenerator(cfg.LLM)
		if err != nil {
			_ = queue.Close()
			_ = store.Close()
			return nil, err
		}
	}
	scorer := opts.Scorer
	if scorer == nil && cfg.Scoring.Enabled {
		scorer = scoring.NewConfiguredScorer(cfg.Scoring)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	thresholds := quality.ThresholdsFromConfig(cfg.Quality)
	books := lifecycle.NewMachine(store, thresholds, logger)
	chapters := lifecycle.NewChapters(store, nil, logger)
	manager, err := workflow.NewManager(cfg, workflow.Deps{
		Store:     store,
		Queue:     queue,
		Books:     books,
		Chapters:  chapters,
		Generator: generator,
		Scorer:    scorer,
		Notifier:  notifier,
	}, logger)
	if err != nil {
		_ = queue.Close()
		_ = store.Close()
		return nil, err
	}

	aggregator := progress.NewAggregator(store, logger)
	// Pricing notifications travel through the work queue like every other event.
	engine := pricing.NewEngine(store, cfg.Pricing, nil, manager, logger)

	rt := &Runtime{
		Config:   cfg,
		Store:    store,
		Queue:    queue,
		Books:    books,
		Chapters: chapters,
		Workflow: manager,
		Progress: aggregator,
		Pricing:  engine,
	}
	rt.Service = api.NewService(api.Deps{
		Store:      store,
		Books:      books,
		Chapters:   chapters,
		Progress:   aggregator,
		Pricing:    engine,
		Preflight:  manager,
		Thresholds: thresholds,
	})
	return rt, nil
}

// Close releases the queue and the catalog.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Queue != nil {
		errs = append(errs, r.Queue.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}
