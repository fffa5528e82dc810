package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"inkwell/internal/catalog"
	"inkwell/internal/logging"
	"inkwell/internal/services"
)

var statusPercent = map[catalog.BookStatus]int{
	catalog.BookConceptPending:        5,
	catalog.BookKeywordResearch:       10,
	catalog.BookKeywordApproved:       15,
	catalog.BookDescriptionGeneration: 20,
	catalog.BookDescriptionApproved:   25,
	catalog.BookBibleGeneration:       30,
	catalog.BookBibleApproved:         35,
	catalog.BookWritingInProgress:     50,
	catalog.BookQAReview:              80,
	catalog.BookExportReady:           90,
	catalog.BookPublishedPrimary:      95,
	catalog.BookPublishedAll:          100,
	catalog.BookArchived:              100,
}

// Percentage maps a lifecycle status to its fixed progress percentage.
// Unknown statuses report 0.
func Percentage(status catalog.BookStatus) int {
	return statusPercent[status]
}

// ChapterCompletion returns approved/target as a percentage rounded to one
// decimal place and capped at 100.
func ChapterCompletion(approved, target int) float64 {
	if target <= 0 || approved <= 0 {
		return 0
	}
	pct := float64(approved) / float64(target) * 100
	return math.Min(100, math.Round(pct*10)/10)
}

// Report is a combined progress snapshot for one book.
type Report struct {
	BookID             int64
	Title              string
	Status             catalog.BookStatus
	Percentage         int
	ApprovedChapters   int
	TargetChapters     int
	ChapterCompletion  float64
	ChaptersByStatus   map[catalog.ChapterStatus]int
	StoredWordCount    int
	LiveWordCount      int
	WordCountStale     bool
	GenerationFailures int
}

// Aggregator reads progress from the catalog.
type Aggregator struct {
	store  *catalog.Store
	logger *slog.Logger
}

// NewAggregator constructs an aggregator.
func NewAggregator(store *catalog.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logging.NewComponentLogger(logger, "progress")}
}

// Report builds the progress snapshot for a book. Published chapters count
// as approved.
func (a *Aggregator) Report(ctx context.Context, bookID int64) (*Report, error) {
	book, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	counts, err := a.store.CountChaptersByStatus(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("chapter counts: %w", err)
	}
	live, err := a.store.SumWordCount(ctx, bookID)
	if err != nil {
		return nil, err
	}
	approved := counts[catalog.ChapterApproved] + counts[catalog.ChapterPublished]
	return &Report{
		BookID:             book.ID,
		Title:              book.Title,
		Status:             book.Status,
		Percentage:         Percentage(book.Status),
		ApprovedChapters:   approved,
		TargetChapters:     book.TargetChapterCount,
		ChapterCompletion:  ChapterCompletion(approved, book.TargetChapterCount),
		ChaptersByStatus:   counts,
		StoredWordCount:    book.CurrentWordCount,
		LiveWordCount:      live,
		WordCountStale:     live != book.CurrentWordCount,
		GenerationFailures: counts[catalog.ChapterGenerationFailed],
	}, nil
}

// ResyncWordCount sums word counts across the book's live chapters and
// stores the total on the book.
func (a *Aggregator) ResyncWordCount(ctx context.Context, bookID int64) (int, error) {
	total, err := a.store.SumWordCount(ctx, bookID)
	if err != nil {
		return 0, err
	}
	if err := a.store.SetWordCount(ctx, bookID, total); err != nil {
		return 0, err
	}
	logging.WithContext(services.WithBookID(ctx, bookID), a.logger).Info("word count resynced",
		logging.Int("words", total),
	)
	return total, nil
}
