package workflow

import (
	"context"
	"errors"
	"fmt"

	"inkwell/internal/catalog"
	"inkwell/internal/logging"
	"inkwell/internal/metrics"
	"inkwell/internal/services"
	"inkwell/internal/workqueue"
)

// AdmitChapters runs one admission sweep over every book that is being
// written and returns how many generation units were queued.
func (m *Manager) AdmitChapters(ctx context.Context) (int, error) {
	books, err := m.store.ListBooks(ctx, catalog.BookFilter{
		Statuses: []catalog.BookStatus{catalog.BookWritingInProgress, catalog.BookQAReview},
	})
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, book := range books {
		admitted, err := m.AdmitBook(ctx, book)
		total += admitted
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return total, err
			}
			errs = append(errs, fmt.Errorf("book %d: %w", book.ID, err))
		}
	}
	if total > 0 {
		m.logger.Info("admission sweep queued chapters", logging.Int("admitted", total), logging.Int("books", len(books)))
	}
	return total, errors.Join(errs...)
}

// AdmitBook queues generation for up to the admission cap of ready chapters,
// counting units already live for the book. Rejected chapters without a live
// rewrite are queued as well.
func (m *Manager) AdmitBook(ctx context.Context, book *catalog.Book) (int, error) {
	ctx = services.WithBookID(ctx, book.ID)
	admitted := 0

	rewrites, err := m.store.ListChapters(ctx, book.ID, 0, catalog.ChapterRejected)
	if err != nil {
		return 0, err
	}
	for _, ch := range rewrites {
		queued, err := m.enqueueChapter(ctx, workqueue.OpChapterRewrite, ch)
		if err != nil {
			return admitted, err
		}
		if queued {
			admitted++
		}
	}

	if book.Status != catalog.BookWritingInProgress {
		return admitted, nil
	}
	live, err := m.queue.CountLive(ctx, workqueue.QueueContent, book.ID)
	if err != nil {
		return admitted, err
	}
	slots := m.cfg.Workflow.AdmissionCap - live
	if slots <= 0 {
		logging.WithContext(ctx, m.logger).Debug("admission cap reached", logging.Int("live", live))
		return admitted, nil
	}
	ready, err := m.store.ListChapters(ctx, book.ID, slots, catalog.ChapterReadyToWrite)
	if err != nil {
		return admitted, err
	}
	for _, ch := range ready {
		queued, err := m.enqueueChapter(ctx, workqueue.OpChapterGenerate, ch)
		if err != nil {
			return admitted, err
		}
		if queued {
			admitted++
		}
	}
	return admitted, nil
}

// ScheduleRewrite queues regeneration for a rejected chapter.
func (m *Manager) ScheduleRewrite(ctx context.Context, ch *catalog.Chapter) error {
	_, err := m.enqueueChapter(ctx, workqueue.OpChapterRewrite, ch)
	return err
}

// SchedulePreflight queues manuscript scoring for a book.
func (m *Manager) SchedulePreflight(ctx context.Context, bookID int64) error {
	if m.scorer == nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "preflight", "scoring is disabled", nil)
	}
	unit, err := workqueue.NewUnit(workqueue.QueueExport, workqueue.OpBookExportPreflight, bookID, bookID, nil)
	if err != nil {
		return err
	}
	unit.DedupeKey = workqueue.DedupeKeyFor("preflight", bookID)
	_, err = m.queue.Enqueue(ctx, unit)
	return err
}

func (m *Manager) enqueueChapter(ctx context.Context, op string, ch *catalog.Chapter) (bool, error) {
	unit, err := workqueue.NewUnit(workqueue.QueueContent, op, ch.BookID, ch.ID, chapterPayload{
		ChapterID: ch.ID,
		Number:    ch.Number,
	})
	if err != nil {
		return false, err
	}
	unit.DedupeKey = workqueue.DedupeKeyFor("chapter", ch.ID)
	queued, err := m.queue.Enqueue(ctx, unit)
	if errors.Is(err, workqueue.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if op == workqueue.OpChapterGenerate {
		metrics.AdmittedTotal.Inc()
	}
	logging.WithContext(services.WithChapterID(ctx, ch.ID), m.logger).Debug("chapter queued",
		logging.String(logging.FieldOperation, op),
		logging.String(logging.FieldUnitID, queued.ID),
		logging.Int(logging.FieldChapterNumber, ch.Number),
	)
	return true, nil
}

func (m *Manager) scheduleQualityScore(ctx context.Context, ch *catalog.Chapter) {
	if m.scorer == nil {
		return
	}
	unit, err := workqueue.NewUnit(workqueue.QueueQuality, workqueue.OpChapterQualityScore, ch.BookID, ch.ID, chapterPayload{
		ChapterID: ch.ID,
		Number:    ch.Number,
	})
	if err == nil {
		unit.DedupeKey = workqueue.DedupeKeyFor("quality", ch.ID)
		_, err = m.queue.Enqueue(ctx, unit)
	}
	if err != nil && !errors.Is(err, workqueue.ErrDuplicate) {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "chapter scoring not queued", "quality_enqueue_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "chapter scores stay empty until the next rewrite"),
		)
	}
}

// scheduleConsistency queues an advisory check each time the written chapter
// count reaches a new multiple of workflow.consistency_every.
func (m *Manager) scheduleConsistency(ctx context.Context, bookID int64) {
	every := m.cfg.Workflow.ConsistencyEvery
	if every <= 0 {
		return
	}
	logger := logging.WithContext(ctx, m.logger)
	written, err := m.store.CountWrittenChapters(ctx, bookID)
	if err != nil {
		logger.Warn("written chapter count unavailable", logging.Error(err))
		return
	}
	milestone := (written / every) * every
	if milestone == 0 {
		return
	}
	reports, err := m.store.ListConsistencyReports(ctx, bookID)
	if err != nil {
		logger.Warn("consistency reports unavailable", logging.Error(err))
		return
	}
	if len(reports) > 0 && reports[0].ChaptersChecked >= milestone {
		return
	}
	unit, err := workqueue.NewUnit(workqueue.QueueQuality, workqueue.OpBookConsistencyCheck, bookID, bookID, consistencyPayload{Milestone: milestone})
	if err != nil {
		return
	}
	unit.DedupeKey = fmt.Sprintf("consistency:%d:%d", bookID, milestone)
	if _, err := m.queue.Enqueue(ctx, unit); err != nil {
		if !errors.Is(err, workqueue.ErrDuplicate) {
			logger.Warn("consistency check not queued", logging.Error(err))
		}
		return
	}
	logger.Info("consistency check queued", logging.Int("milestone", milestone))
}
