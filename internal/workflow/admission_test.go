package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"inkwell/internal/catalog"
	"inkwell/internal/lifecycle"
	"inkwell/internal/services"
	"inkwell/internal/services/scoring"
	"inkwell/internal/testsupport"
	"inkwell/internal/workqueue"
)

func scoringPair(ai, plag float64) scoring.Scorer {
	return scoring.Static{AI: ai, Plagiarism: plag}
}

func lifecycleOpts() lifecycle.FireOptions { return lifecycle.FireOptions{} }

func TestStartWritingAdmitsUpToCap(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithAdmissionCap(5)})
	ctx := context.Background()
	book := h.startWriting(t, "Eight Bells", 8)

	require.Equal(t, 5, h.stats(t, workqueue.QueueContent).Pending)
	live, err := h.queue.CountLive(ctx, workqueue.QueueContent, book.ID)
	require.NoError(t, err)
	require.Equal(t, 5, live)

	admitted, err := h.mgr.AdmitChapters(ctx)
	require.NoError(t, err)
	require.Zero(t, admitted)

	n, err := h.mgr.Drain(ctx, workqueue.QueueContent, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	admitted, err = h.mgr.AdmitChapters(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, admitted)
	require.Equal(t, 5, h.stats(t, workqueue.QueueContent).Pending)

	statuses := h.chapterStatuses(t, book.ID)
	require.Equal(t, catalog.ChapterPendingQA, statuses[0])
	require.Equal(t, catalog.ChapterPendingQA, statuses[1])
	require.Equal(t, catalog.ChapterReadyToWrite, statuses[7])
}

func TestAdmissionCapIsPerBook(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithAdmissionCap(2)})
	ctx := context.Background()
	first := h.startWriting(t, "First", 4)
	second := h.startWriting(t, "Second", 4)

	for _, book := range []*catalog.Book{first, second} {
		live, err := h.queue.CountLive(ctx, workqueue.QueueContent, book.ID)
		require.NoError(t, err)
		require.Equal(t, 2, live)
	}
	require.Equal(t, 4, h.stats(t, workqueue.QueueContent).Pending)
}

func TestAdmissionSkipsBooksOutsideWriting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	book := testsupport.NewBook(t, h.store, "Not Yet", 3)
	ch, err := h.store.CreateChapter(ctx, catalog.NewChapter{BookID: book.ID, Number: 1, Title: "Early"})
	require.NoError(t, err)
	_, err = h.chapters.MarkReadyToWrite(ctx, ch.ID)
	require.NoError(t, err)

	admitted, err := h.mgr.AdmitChapters(ctx)
	require.NoError(t, err)
	require.Zero(t, admitted)
	require.Zero(t, h.stats(t, workqueue.QueueContent).Pending)
}

func TestScheduleRewriteDeduplicates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	book := h.startWriting(t, "Dedupe", 1)
	ch := h.chapter(t, book.ID, 1)

	// the generate unit already holds chapter:{id}
	require.NoError(t, h.mgr.ScheduleRewrite(ctx, ch))
	require.Equal(t, 1, h.stats(t, workqueue.QueueContent).Pending)
}

func TestSchedulePreflightRequiresScorer(t *testing.T) {
	h := newHarness(t, nil, withoutScorer())
	err := h.mgr.SchedulePreflight(context.Background(), 1)
	require.ErrorIs(t, err, services.ErrConfiguration)
}
