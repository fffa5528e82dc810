package workflow_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/lifecycle"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/quality"
	"inkwell/internal/services/llm"
	"inkwell/internal/services/scoring"
	"inkwell/internal/testsupport"
	"inkwell/internal/workflow"
	"inkwell/internal/workqueue"
)

type harness struct {
	cfg      *config.Config
	store    *catalog.Store
	queue    *workqueue.SQLiteQueue
	books    *lifecycle.Machine
	chapters *lifecycle.Chapters
	gen      *llm.Fake
	notes    *notifications.Recorder
	mgr      *workflow.Manager
}

type harnessOption func(*workflow.Deps)

func withoutScorer() harnessOption {
	return func(d *workflow.Deps) { d.Scorer = nil }
}

func withScorer(s scoring.Scorer) harnessOption {
	return func(d *workflow.Deps) { d.Scorer = s }
}

func newHarness(t *testing.T, cfgOpts []testsupport.ConfigOption, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	store := testsupport.MustOpenStore(t, cfg)
	queue, err := workqueue.OpenSQLite(filepath.Join(testsupport.BaseDir(cfg), "workqueue.db"), cfg.Workflow.MaxUnitAttempts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	h := &harness{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		books:    lifecycle.NewMachine(store, quality.ThresholdsFromConfig(cfg.Quality), logging.NewNop()),
		chapters: lifecycle.NewChapters(store, nil, logging.NewNop()),
		gen:      &llm.Fake{},
		notes:    &notifications.Recorder{},
	}
	deps := workflow.Deps{
		Store:     store,
		Queue:     queue,
		Books:     h.books,
		Chapters:  h.chapters,
		Generator: h.gen,
		Scorer:    scoring.Static{AI: 5, Plagiarism: 1},
		Notifier:  h.notes,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.mgr, err = workflow.NewManager(cfg, deps, logging.NewNop())
	require.NoError(t, err)
	return h
}

// startWriting creates a book and fires it into writing_in_progress, which
// materializes and admits its chapters.
func (h *harness) startWriting(t *testing.T, title string, chapters int) *catalog.Book {
	t.Helper()
	book := testsupport.NewBook(t, h.store, title, chapters)
	for _, ev := range []string{
		lifecycle.EventStartKeywordResearch,
		lifecycle.EventApproveKeywords,
		lifecycle.EventStartWriting,
	} {
		var err error
		book, err = h.books.Fire(context.Background(), book.ID, ev, lifecycle.FireOptions{})
		require.NoError(t, err, "fire %s", ev)
	}
	return book
}

func (h *harness) drain(t *testing.T, queue string) int {
	t.Helper()
	n, err := h.mgr.Drain(context.Background(), queue, 0)
	require.NoError(t, err)
	return n
}

func (h *harness) stats(t *testing.T, queue string) workqueue.QueueStats {
	t.Helper()
	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	return stats[queue]
}

func (h *harness) chapter(t *testing.T, bookID int64, number int) *catalog.Chapter {
	t.Helper()
	ch, err := h.store.GetChapterByNumber(context.Background(), bookID, number)
	require.NoError(t, err)
	return ch
}

func (h *harness) chapterStatuses(t *testing.T, bookID int64) []catalog.ChapterStatus {
	t.Helper()
	chapters, err := h.store.ListChapters(context.Background(), bookID, 0)
	require.NoError(t, err)
	out := make([]catalog.ChapterStatus, len(chapters))
	for i, ch := range chapters {
		out[i] = ch.Status
	}
	return out
}

func eventsOf(recorded []notifications.Recorded, event notifications.Event) []notifications.Recorded {
	var out []notifications.Recorded
	for _, r := range recorded {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}
