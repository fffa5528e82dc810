package catalog

import (
	"fmt"
	"strings"
	"time"
)

// BookStatus is the production lifecycle stage of a book.
type BookStatus string

const (
	BookConceptPending        BookStatus = "concept_pending"
	BookKeywordResearch       BookStatus = "keyword_research"
	BookKeywordApproved       BookStatus = "keyword_approved"
	BookDescriptionGeneration BookStatus = "description_generation"
	BookDescriptionApproved   BookStatus = "description_approved"
	BookBibleGeneration       BookStatus = "bible_generation"
	BookBibleApproved         BookStatus = "bible_approved"
	BookWritingInProgress     BookStatus = "writing_in_progress"
	BookQAReview              BookStatus = "qa_review"
	BookExportReady           BookStatus = "export_ready"
	BookPublishedPrimary      BookStatus = "published_primary"
	BookPublishedAll          BookStatus = "published_all"
	BookArchived              BookStatus = "archived"
)

var allBookStatuses = []BookStatus{
	BookConceptPending,
	BookKeywordResearch,
	BookKeywordApproved,
	BookDescriptionGeneration,
	BookDescriptionApproved,
	BookBibleGeneration,
	BookBibleApproved,
	BookWritingInProgress,
	BookQAReview,
	BookExportReady,
	BookPublishedPrimary,
	BookPublishedAll,
	BookArchived,
}

var bookStatusSet = func() map[BookStatus]struct{} {
	m := make(map[BookStatus]struct{}, len(allBookStatuses))
	for _, s := range allBookStatuses {
		m[s] = struct{}{}
	}
	return m
}()

// BookStatuses returns every lifecycle status in pipeline order.
func BookStatuses() []BookStatus {
	return append([]BookStatus(nil), allBookStatuses...)
}

// ParseBookStatus normalizes user input into a lifecycle status.
func ParseBookStatus(value string) (BookStatus, bool) {
	normalized := BookStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := bookStatusSet[normalized]
	return normalized, ok
}

// IsPublished reports whether the book is on sale.
func (s BookStatus) IsPublished() bool {
	return s == BookPublishedPrimary || s == BookPublishedAll
}

// ChapterStatus is the generation/review stage of a chapter.
type ChapterStatus string

const (
	ChapterPending          ChapterStatus = "pending"
	ChapterReadyToWrite     ChapterStatus = "ready_to_write"
	ChapterWriting          ChapterStatus = "writing"
	ChapterWritten          ChapterStatus = "written"
	ChapterPendingQA        ChapterStatus = "pending_qa"
	ChapterApproved         ChapterStatus = "approved"
	ChapterRejected         ChapterStatus = "rejected"
	ChapterPublished        ChapterStatus = "published"
	ChapterGenerationFailed ChapterStatus = "generation_failed"
)

var allChapterStatuses = []ChapterStatus{
	ChapterPending,
	ChapterReadyToWrite,
	ChapterWriting,
	ChapterWritten,
	ChapterPendingQA,
	ChapterApproved,
	ChapterRejected,
	ChapterPublished,
	ChapterGenerationFailed,
}

var chapterStatusSet = func() map[ChapterStatus]struct{} {
	m := make(map[ChapterStatus]struct{}, len(allChapterStatuses))
	for _, s := range allChapterStatuses {
		m[s] = struct{}{}
	}
	return m
}()

// ChapterStatuses returns every chapter status.
func ChapterStatuses() []ChapterStatus {
	return append([]ChapterStatus(nil), allChapterStatuses...)
}

// ParseChapterStatus normalizes user input into a chapter status.
func ParseChapterStatus(value string) (ChapterStatus, bool) {
	normalized := ChapterStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := chapterStatusSet[normalized]
	return normalized, ok
}

// writtenStatuses are chapters that have produced content at least once.
var writtenStatuses = []ChapterStatus{ChapterWritten, ChapterPendingQA, ChapterApproved, ChapterPublished}

// PricePhase is a stage of the pricing automaton.
type PricePhase string

const (
	PhaseLaunch PricePhase = "launch"
	PhaseGrowth PricePhase = "growth"
	PhaseMature PricePhase = "mature"
	PhasePromo  PricePhase = "promo"
	PhaseBundle PricePhase = "bundle"
)

// ParsePricePhase normalizes user input into a pricing phase.
func ParsePricePhase(value string) (PricePhase, bool) {
	switch p := PricePhase(strings.ToLower(strings.TrimSpace(value))); p {
	case PhaseLaunch, PhaseGrowth, PhaseMature, PhasePromo, PhaseBundle:
		return p, true
	default:
		return "", false
	}
}

// Checklist records the manual preflight items an operator has confirmed.
type Checklist map[string]bool

// Missing returns required items not marked complete, in required order.
func (c Checklist) Missing(required []string) []string {
	var missing []string
	for _, item := range required {
		if !c[item] {
			missing = append(missing, item)
		}
	}
	return missing
}

// Book is a work item moving through the production pipeline.
type Book struct {
	ID                 int64
	Title              string
	Genre              string
	Premise            string
	Outline            string
	Status             BookStatus
	TargetChapterCount int
	CurrentWordCount   int
	AIDetectionScore   *float64
	PlagiarismScore    *float64
	PreflightPassed    bool
	Checklist          Checklist
	PublishedAt        *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// Chapter is one generated unit of a book.
type Chapter struct {
	ID                   int64
	BookID               int64
	Number               int
	Title                string
	Outline              string
	Status               ChapterStatus
	Content              string
	WordCount            int
	GenerationAttempts   int
	GenerationModel      string
	GenerationTokensUsed int64
	GenerationCostUSD    float64
	AIDetectionScore     *float64
	PlagiarismScore      *float64
	QANotes              string
	QAReviewedAt         *time.Time
	LastError            string
	ClaimToken           string
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}

// Label renders "Chapter N" or "Chapter N: Title".
func (c *Chapter) Label() string {
	if c == nil {
		return ""
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Sprintf("Chapter %d", c.Number)
	}
	return fmt.Sprintf("Chapter %d: %s", c.Number, c.Title)
}

// CountWords returns the whitespace-delimited word count used for every
// stored word_count.
func CountWords(content string) int {
	return len(strings.Fields(content))
}

// PricingStrategy is the per-book pricing automaton state.
type PricingStrategy struct {
	BookID                    int64
	Phase                     PricePhase
	CurrentPrice              float64
	ReviewsThresholdForGrowth int
	DaysInLaunchPhase         int
	DaysBetweenPromotions     int
	AutoPriceEnabled          bool
	PromotionEligible         bool
	LastPromotionDate         *time.Time
	NextPromotionDate         *time.Time
	PromotionType             string
	Version                   int64
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// PriceChange is one immutable price_history entry.
type PriceChange struct {
	ID        int64
	BookID    int64
	ChangedAt time.Time
	Price     float64
	Phase     PricePhase
	Reason    string
}

// ReviewSnapshot is a point-in-time review count pulled from a market-data feed.
type ReviewSnapshot struct {
	ID            int64
	BookID        int64
	TotalReviews  int
	AverageRating float64
	CapturedAt    time.Time
}

// ConsistencyIssue is one contradiction reported by the advisory check.
type ConsistencyIssue struct {
	Chapter     int    `json:"chapter"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ConsistencyReport is a persisted advisory consistency check result.
type ConsistencyReport struct {
	ID              int64
	BookID          int64
	ChaptersChecked int
	Issues          []ConsistencyIssue
	Model           string
	CreatedAt       time.Time
}

// BookFilter narrows ListBooks results.
type BookFilter struct {
	Statuses []BookStatus
	Limit    int
}
