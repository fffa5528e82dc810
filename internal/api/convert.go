package api

import (
	"maps"
	"time"

	"inkwell/internal/catalog"
	"inkwell/internal/lifecycle"
	"inkwell/internal/progress"
	"inkwell/internal/workflow"
	"inkwell/internal/workqueue"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromBook converts a catalog book to its API representation.
func FromBook(book *catalog.Book) Book {
	if book == nil {
		return Book{}
	}
	checklist := maps.Clone(map[string]bool(book.Checklist))
	if checklist == nil {
		checklist = map[string]bool{}
	}
	events := lifecycle.AvailableEvents(book.Status)
	if events == nil {
		events = []string{}
	}
	return Book{
		ID:                 book.ID,
		Title:              book.Title,
		Genre:              book.Genre,
		Premise:            book.Premise,
		Status:             string(book.Status),
		Percentage:         progress.Percentage(book.Status),
		TargetChapterCount: book.TargetChapterCount,
		WordCount:          book.CurrentWordCount,
		AIDetectionScore:   book.AIDetectionScore,
		PlagiarismScore:    book.PlagiarismScore,
		PreflightPassed:    book.PreflightPassed,
		Checklist:          checklist,
		AvailableEvents:    events,
		Version:            book.Version,
		PublishedAt:        formatTimePtr(book.PublishedAt),
		CreatedAt:          formatTime(book.CreatedAt),
		UpdatedAt:          formatTime(book.UpdatedAt),
	}
}

// FromBooks converts a slice of books.
func FromBooks(books []*catalog.Book) []Book {
	out := make([]Book, 0, len(books))
	for _, b := range books {
		out = append(out, FromBook(b))
	}
	return out
}

// FromChapter converts a catalog chapter. Content is included only when
// withContent is set.
func FromChapter(ch *catalog.Chapter, withContent bool) Chapter {
	if ch == nil {
		return Chapter{}
	}
	dto := Chapter{
		ID:                 ch.ID,
		BookID:             ch.BookID,
		Number:             ch.Number,
		Title:              ch.Title,
		Status:             string(ch.Status),
		WordCount:          ch.WordCount,
		GenerationAttempts: ch.GenerationAttempts,
		GenerationModel:    ch.GenerationModel,
		TokensUsed:         ch.GenerationTokensUsed,
		CostUSD:            ch.GenerationCostUSD,
		AIDetectionScore:   ch.AIDetectionScore,
		PlagiarismScore:    ch.PlagiarismScore,
		QANotes:            ch.QANotes,
		LastError:          ch.LastError,
		Version:            ch.Version,
		UpdatedAt:          formatTime(ch.UpdatedAt),
	}
	if withContent {
		dto.Content = ch.Content
	}
	return dto
}

// FromChapters converts a slice of chapters without content.
func FromChapters(chapters []*catalog.Chapter) []Chapter {
	out := make([]Chapter, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, FromChapter(ch, false))
	}
	return out
}

// FromProgress converts an aggregator report.
func FromProgress(r *progress.Report) Progress {
	if r == nil {
		return Progress{}
	}
	byStatus := make(map[string]int, len(r.ChaptersByStatus))
	for status, n := range r.ChaptersByStatus {
		byStatus[string(status)] = n
	}
	return Progress{
		BookID:             r.BookID,
		Title:              r.Title,
		Status:             string(r.Status),
		Percentage:         r.Percentage,
		ApprovedChapters:   r.ApprovedChapters,
		TargetChapters:     r.TargetChapters,
		ChapterCompletion:  r.ChapterCompletion,
		ChaptersByStatus:   byStatus,
		StoredWordCount:    r.StoredWordCount,
		LiveWordCount:      r.LiveWordCount,
		WordCountStale:     r.WordCountStale,
		GenerationFailures: r.GenerationFailures,
	}
}

// FromPricing converts a strategy and its history.
func FromPricing(ps *catalog.PricingStrategy, history []catalog.PriceChange) Pricing {
	if ps == nil {
		return Pricing{History: []PriceChange{}}
	}
	dto := Pricing{
		BookID:                    ps.BookID,
		Phase:                     string(ps.Phase),
		CurrentPrice:              ps.CurrentPrice,
		AutoPriceEnabled:          ps.AutoPriceEnabled,
		PromotionEligible:         ps.PromotionEligible,
		ReviewsThresholdForGrowth: ps.ReviewsThresholdForGrowth,
		DaysInLaunchPhase:         ps.DaysInLaunchPhase,
		DaysBetweenPromotions:     ps.DaysBetweenPromotions,
		LastPromotionDate:         formatTimePtr(ps.LastPromotionDate),
		NextPromotionDate:         formatTimePtr(ps.NextPromotionDate),
		PromotionType:             ps.PromotionType,
		History:                   make([]PriceChange, 0, len(history)),
	}
	for _, h := range history {
		dto.History = append(dto.History, PriceChange{
			ChangedAt: formatTime(h.ChangedAt),
			Price:     h.Price,
			Phase:     string(h.Phase),
			Reason:    h.Reason,
		})
	}
	return dto
}

// FromConsistencyReports converts stored reports, newest first.
func FromConsistencyReports(reports []catalog.ConsistencyReport) []ConsistencyReport {
	out := make([]ConsistencyReport, 0, len(reports))
	for _, r := range reports {
		issues := make([]ConsistencyIssue, 0, len(r.Issues))
		for _, issue := range r.Issues {
			issues = append(issues, ConsistencyIssue(issue))
		}
		out = append(out, ConsistencyReport{
			ID:              r.ID,
			ChaptersChecked: r.ChaptersChecked,
			Model:           r.Model,
			Issues:          issues,
			CreatedAt:       formatTime(r.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts the orchestrator status.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:    summary.Running,
		LastError:  summary.LastError,
		QueueStats: make(map[string]QueueStats, len(summary.QueueStats)),
		Lanes:      maps.Clone(summary.Lanes),
		Processed:  maps.Clone(summary.Processed),
	}
	if summary.LastUnit != nil {
		status.LastUnit = summary.LastUnit.Operation + " " + summary.LastUnit.ID
	}
	maps.Copy(status.QueueStats, FromQueueStats(summary.QueueStats))
	if status.Lanes == nil {
		status.Lanes = map[string]int{}
	}
	if status.Processed == nil {
		status.Processed = map[string]int{}
	}
	return status
}

// FromQueueStats converts per-queue work unit counts.
func FromQueueStats(stats map[string]workqueue.QueueStats) map[string]QueueStats {
	out := make(map[string]QueueStats, len(stats))
	for queue, s := range stats {
		out[queue] = QueueStats{Pending: s.Pending, Leased: s.Leased, Done: s.Done, Failed: s.Failed}
	}
	return out
}
