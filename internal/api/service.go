package api

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"inkwell/internal/catalog"
	"inkwell/internal/lifecycle"
	"inkwell/internal/pricing"
	"inkwell/internal/progress"
	"inkwell/internal/quality"
	"inkwell/internal/services"
)

// Preflighter queues manuscript scoring for a book.
type Preflighter interface {
	SchedulePreflight(ctx context.Context, bookID int64) error
}

// Deps bundles what Service operates on. Preflight may be nil.
type Deps struct {
	Store      *catalog.Store
	Books      *lifecycle.Machine
	Chapters   *lifecycle.Chapters
	Progress   *progress.Aggregator
	Pricing    *pricing.Engine
	Preflight  Preflighter
	Thresholds quality.Thresholds
}

// Service implements every produced operation.
type Service struct {
	store      *catalog.Store
	books      *lifecycle.Machine
	chapters   *lifecycle.Chapters
	progress   *progress.Aggregator
	pricing    *pricing.Engine
	preflight  Preflighter
	thresholds quality.Thresholds
	now        func() time.Time
}

// NewService constructs a Service.
func NewService(deps Deps) *Service {
	return &Service{
		store:      deps.Store,
		books:      deps.Books,
		chapters:   deps.Chapters,
		progress:   deps.Progress,
		pricing:    deps.Pricing,
		preflight:  deps.Preflight,
		thresholds: deps.Thresholds,
		now:        time.Now,
	}
}

// SetClock overrides the time used for pricing sweeps.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBookRequest carries the fields for a new book.
type CreateBookRequest struct {
	Title              string `json:"title"`
	Genre              string `json:"genre"`
	Premise            string `json:"premise"`
	Outline            string `json:"outline"`
	TargetChapterCount int    `json:"targetChapterCount"`
}

// CreateBook inserts a book at concept_pending.
func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (Book, error) {
	book, err := s.store.CreateBook(ctx, catalog.NewBook{
		Title:              req.Title,
		Genre:              req.Genre,
		Premise:            req.Premise,
		Outline:            req.Outline,
		TargetChapterCount: req.TargetChapterCount,
	})
	if err != nil {
		return Book{}, err
	}
	return FromBook(book), nil
}

// GetBook returns one book.
func (s *Service) GetBook(ctx context.Context, id int64) (Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return Book{}, err
	}
	return FromBook(book), nil
}

// ListBooks returns books filtered by status names.
func (s *Service) ListBooks(ctx context.Context, statuses []string, limit int) ([]Book, error) {
	filter := catalog.BookFilter{Limit: limit}
	for _, raw := range statuses {
		status, ok := catalog.ParseBookStatus(raw)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list books", fmt.Sprintf("unknown status %q", raw), nil)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromBooks(books), nil
}

// FireBookEvent runs a lifecycle event. A non-zero expectedVersion rejects
// the event when the book changed since the caller read it.
func (s *Service) FireBookEvent(ctx context.Context, id int64, event string, expectedVersion int64) (Book, error) {
	book, err := s.books.Fire(ctx, id, event, lifecycle.FireOptions{ExpectedVersion: expectedVersion})
	if err != nil {
		return Book{}, err
	}
	return FromBook(book), nil
}

// ListChapters returns a book's chapters, optionally filtered by status.
func (s *Service) ListChapters(ctx context.Context, bookID int64, statuses []string) ([]Chapter, error) {
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	var filter []catalog.ChapterStatus
	for _, raw := range statuses {
		status, ok := catalog.ParseChapterStatus(raw)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list chapters", fmt.Sprintf("unknown status %q", raw), nil)
		}
		filter = append(filter, status)
	}
	chapters, err := s.store.ListChapters(ctx, bookID, 0, filter...)
	if err != nil {
		return nil, err
	}
	return FromChapters(chapters), nil
}

// GetChapter returns one chapter including its content.
func (s *Service) GetChapter(ctx context.Context, id int64) (Chapter, error) {
	ch, err := s.store.GetChapter(ctx, id)
	if err != nil {
		return Chapter{}, err
	}
	return FromChapter(ch, true), nil
}

// ApproveChapter accepts a reviewed chapter.
func (s *Service) ApproveChapter(ctx context.Context, id int64) (Chapter, error) {
	return s.chapterResult(s.chapters.Approve(ctx, id))
}

// RejectChapter records reviewer notes and queues a rewrite.
func (s *Service) RejectChapter(ctx context.Context, id int64, notes string) (Chapter, error) {
	return s.chapterResult(s.chapters.Reject(ctx, id, notes))
}

// MarkReady hands a pending chapter to admission.
func (s *Service) MarkReady(ctx context.Context, id int64) (Chapter, error) {
	return s.chapterResult(s.chapters.MarkReadyToWrite(ctx, id))
}

// RequeueChapter returns a generation_failed chapter to admission.
func (s *Service) RequeueChapter(ctx context.Context, id int64) (Chapter, error) {
	return s.chapterResult(s.chapters.Requeue(ctx, id))
}

// SetChapterContent replaces chapter text with an operator edit.
func (s *Service) SetChapterContent(ctx context.Context, id int64, content string) (Chapter, error) {
	return s.chapterResult(s.chapters.SetContent(ctx, id, content))
}

func (s *Service) chapterResult(ch *catalog.Chapter, err error) (Chapter, error) {
	if err != nil {
		return Chapter{}, err
	}
	return FromChapter(ch, false), nil
}

// Progress returns the combined completion snapshot.
func (s *Service) Progress(ctx context.Context, bookID int64) (Progress, error) {
	report, err := s.progress.Report(ctx, bookID)
	if err != nil {
		return Progress{}, err
	}
	return FromProgress(report), nil
}

// ResyncWordCount recomputes the stored book word count from its chapters.
func (s *Service) ResyncWordCount(ctx context.Context, bookID int64) (int, error) {
	return s.progress.ResyncWordCount(ctx, bookID)
}

// RecordScoresRequest carries externally measured scores. Nil fields are unchanged.
type RecordScoresRequest struct {
	AIDetectionScore *float64 `json:"aiDetectionScore"`
	PlagiarismScore  *float64 `json:"plagiarismScore"`
}

// RecordScores stores book-level quality scores.
func (s *Service) RecordScores(ctx context.Context, bookID int64, req RecordScoresRequest) (Book, error) {
	if req.AIDetectionScore == nil && req.PlagiarismScore == nil {
		return Book{}, services.Wrap(services.ErrValidation, "api", "record scores", "at least one score is required", nil)
	}
	book, err := s.store.UpdateBookScores(ctx, bookID, req.AIDetectionScore, req.PlagiarismScore)
	if err != nil {
		return Book{}, err
	}
	return FromBook(book), nil
}

// UpdateChecklist marks preflight checklist items. Only configured items are
// accepted.
func (s *Service) UpdateChecklist(ctx context.Context, bookID int64, items map[string]bool) (Book, error) {
	if len(items) == 0 {
		return Book{}, services.Wrap(services.ErrValidation, "api", "checklist", "no checklist items given", nil)
	}
	normalized := make(map[string]bool, len(items))
	for key, done := range items {
		key = strings.ToLower(strings.TrimSpace(key))
		if !slices.Contains(s.thresholds.RequiredChecklist, key) {
			return Book{}, services.Wrap(services.ErrValidation, "api", "checklist",
				fmt.Sprintf("unknown checklist item %q (known: %s)", key, strings.Join(s.thresholds.RequiredChecklist, ", ")), nil)
		}
		normalized[key] = done
	}
	book, err := s.store.UpdateChecklist(ctx, bookID, normalized)
	if err != nil {
		return Book{}, err
	}
	return FromBook(book), nil
}

// GateResult is the advisory evaluation of the export gate.
type GateResult struct {
	Passed   bool         `json:"passed"`
	Failures GateFailures `json:"failures"`
}

// EvaluateGate reports whether approve_for_export would pass right now. It
// never changes state.
func (s *Service) EvaluateGate(ctx context.Context, bookID int64) (GateResult, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return GateResult{}, err
	}
	result := quality.Evaluate(quality.InputFromBook(book), s.thresholds)
	failures := GateFailures(result.Failures)
	if failures == nil {
		failures = GateFailures{}
	}
	return GateResult{Passed: result.Passed, Failures: failures}, nil
}

// SchedulePreflight queues manuscript scoring for a book.
func (s *Service) SchedulePreflight(ctx context.Context, bookID int64) error {
	if s.preflight == nil {
		return services.Wrap(services.ErrConfiguration, "api", "preflight", "preflight scheduling unavailable", nil)
	}
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		return err
	}
	return s.preflight.SchedulePreflight(ctx, bookID)
}

// ConsistencyReports lists a book's advisory reports, newest first.
func (s *Service) ConsistencyReports(ctx context.Context, bookID int64) ([]ConsistencyReport, error) {
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	reports, err := s.store.ListConsistencyReports(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return FromConsistencyReports(reports), nil
}
