package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/lifecycle"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/quality"
	"inkwell/internal/services"
	"inkwell/internal/services/llm"
	"inkwell/internal/services/scoring"
	"inkwell/internal/workqueue"
)

// Deps bundles the collaborators the manager drives.
type Deps struct {
	Store     *catalog.Store
	Queue     workqueue.Queue
	Books     *lifecycle.Machine
	Chapters  *lifecycle.Chapters
	Generator llm.TextGenerator
	// Scorer may be nil, in which case no scoring units are queued.
	Scorer   scoring.Scorer
	Notifier notifications.Service
}

// Manager coordinates work-unit processing across the named queues.
type Manager struct {
	cfg        *config.Config
	store      *catalog.Store
	queue      workqueue.Queue
	books      *lifecycle.Machine
	chapters   *lifecycle.Chapters
	generator  llm.TextGenerator
	scorer     scoring.Scorer
	notifier   notifications.Service
	thresholds quality.Thresholds
	logger     *slog.Logger
	heartbeat  *HeartbeatMonitor
	now        func() time.Time

	handlers map[string]unitHandler
	lanes    []laneSpec

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	lastErr   error
	lastUnit  *workqueue.Unit
	processed map[string]int
}

// NewManager wires a manager and registers it as the chapter machine's
// rewrite scheduler and as an observer of book transitions.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) (*Manager, error) {
	if cfg == nil || deps.Store == nil || deps.Queue == nil || deps.Chapters == nil || deps.Generator == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init", "config, store, queue, chapters, and generator are required", nil)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:        cfg,
		store:      deps.Store,
		queue:      deps.Queue,
		books:      deps.Books,
		chapters:   deps.Chapters,
		generator:  deps.Generator,
		scorer:     deps.Scorer,
		notifier:   notifier,
		thresholds: quality.ThresholdsFromConfig(cfg.Quality),
		logger:     logger,
		now:        time.Now,
		processed:  make(map[string]int),
	}
	m.heartbeat = NewHeartbeatMonitor(
		deps.Queue,
		logger,
		time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
		cfg.Lease(),
	)
	m.registerHandlers()
	m.lanes = []laneSpec{
		{queue: workqueue.QueueContent, workers: cfg.Workflow.ContentWorkers},
		{queue: workqueue.QueueQuality, workers: cfg.Workflow.QualityWorkers},
		{queue: workqueue.QueueExport, workers: cfg.Workflow.ExportWorkers},
		{queue: workqueue.QueueNotifications, workers: cfg.Workflow.NotificationWorkers},
	}

	m.chapters.SetRewriteScheduler(m)
	if m.books != nil {
		m.books.Observe(m.onBookTransition)
	}
	return m, nil
}

// SetClock overrides the time source used for retry scheduling.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) registerHandlers() {
	content := unitHandler{run: m.handleChapterGeneration, onExhausted: m.onGenerationExhausted}
	m.handlers = map[string]unitHandler{
		workqueue.OpChapterGenerate:      content,
		workqueue.OpChapterRewrite:       content,
		workqueue.OpBookConsistencyCheck: {run: m.handleConsistencyCheck},
		workqueue.OpChapterQualityScore:  {run: m.handleChapterQuality},
		workqueue.OpBookExportPreflight:  {run: m.handleExportPreflight},
		workqueue.OpNotifyEvent:          {run: m.handleNotify, onExhausted: m.onNotifyExhausted},
	}
}
