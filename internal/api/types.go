package api

import "inkwell/internal/services"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Book describes a book in a transport-friendly format.
type Book struct {
	ID                 int64           `json:"id"`
	Title              string          `json:"title"`
	Genre              string          `json:"genre,omitempty"`
	Premise            string          `json:"premise,omitempty"`
	Status             string          `json:"status"`
	Percentage         int             `json:"percentage"`
	TargetChapterCount int             `json:"targetChapterCount"`
	WordCount          int             `json:"wordCount"`
	AIDetectionScore   *float64        `json:"aiDetectionScore,omitempty"`
	PlagiarismScore    *float64        `json:"plagiarismScore,omitempty"`
	PreflightPassed    bool            `json:"preflightPassed"`
	Checklist          map[string]bool `json:"checklist"`
	AvailableEvents    []string        `json:"availableEvents"`
	Version            int64           `json:"version"`
	PublishedAt        string          `json:"publishedAt,omitempty"`
	CreatedAt          string          `json:"createdAt,omitempty"`
	UpdatedAt          string          `json:"updatedAt,omitempty"`
}

// Chapter describes a chapter without its full content.
type Chapter struct {
	ID                 int64    `json:"id"`
	BookID             int64    `json:"bookId"`
	Number             int      `json:"number"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	WordCount          int      `json:"wordCount"`
	GenerationAttempts int      `json:"generationAttempts"`
	GenerationModel    string   `json:"generationModel,omitempty"`
	TokensUsed         int64    `json:"tokensUsed"`
	CostUSD            float64  `json:"costUsd"`
	AIDetectionScore   *float64 `json:"aiDetectionScore,omitempty"`
	PlagiarismScore    *float64 `json:"plagiarismScore,omitempty"`
	QANotes            string   `json:"qaNotes,omitempty"`
	LastError          string   `json:"lastError,omitempty"`
	Version            int64    `json:"version"`
	UpdatedAt          string   `json:"updatedAt,omitempty"`
	Content            string   `json:"content,omitempty"`
}

// Progress is the combined completion snapshot for a book.
type Progress struct {
	BookID             int64          `json:"bookId"`
	Title              string         `json:"title"`
	Status             string         `json:"status"`
	Percentage         int            `json:"percentage"`
	ApprovedChapters   int            `json:"approvedChapters"`
	TargetChapters     int            `json:"targetChapters"`
	ChapterCompletion  float64        `json:"chapterCompletion"`
	ChaptersByStatus   map[string]int `json:"chaptersByStatus"`
	StoredWordCount    int            `json:"storedWordCount"`
	LiveWordCount      int            `json:"liveWordCount"`
	WordCountStale     bool           `json:"wordCountStale"`
	GenerationFailures int            `json:"generationFailures"`
}

// PriceChange is one price_history entry.
type PriceChange struct {
	ChangedAt string  `json:"changedAt"`
	Price     float64 `json:"price"`
	Phase     string  `json:"phase"`
	Reason    string  `json:"reason"`
}

// Pricing is a book's strategy with its full history.
type Pricing struct {
	BookID                    int64         `json:"bookId"`
	Phase                     string        `json:"phase"`
	CurrentPrice              float64       `json:"currentPrice"`
	AutoPriceEnabled          bool          `json:"autoPriceEnabled"`
	PromotionEligible         bool          `json:"promotionEligible"`
	ReviewsThresholdForGrowth int           `json:"reviewsThresholdForGrowth"`
	DaysInLaunchPhase         int           `json:"daysInLaunchPhase"`
	DaysBetweenPromotions     int           `json:"daysBetweenPromotions"`
	LastPromotionDate         string        `json:"lastPromotionDate,omitempty"`
	NextPromotionDate         string        `json:"nextPromotionDate,omitempty"`
	PromotionType             string        `json:"promotionType,omitempty"`
	History                   []PriceChange `json:"history"`
}

// SweepResult reports what a pricing sweep did.
type SweepResult struct {
	Sweep       string `json:"sweep"`
	Checked     int    `json:"checked"`
	Transitions int    `json:"transitions"`
	Scheduled   int    `json:"scheduled"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
}

// ConsistencyIssue is one advisory continuity finding.
type ConsistencyIssue struct {
	Chapter     int    `json:"chapter"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ConsistencyReport is a stored advisory consistency check.
type ConsistencyReport struct {
	ID              int64              `json:"id"`
	ChaptersChecked int                `json:"chaptersChecked"`
	Model           string             `json:"model,omitempty"`
	Issues          []ConsistencyIssue `json:"issues"`
	CreatedAt       string             `json:"createdAt,omitempty"`
}

// QueueStats counts units by status for one named queue.
type QueueStats struct {
	Pending int `json:"pending"`
	Leased  int `json:"leased"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// WorkflowStatus summarizes orchestrator execution state.
type WorkflowStatus struct {
	Running    bool                  `json:"running"`
	LastError  string                `json:"lastError,omitempty"`
	LastUnit   string                `json:"lastUnit,omitempty"`
	QueueStats map[string]QueueStats `json:"queueStats"`
	Lanes      map[string]int        `json:"lanes"`
	Processed  map[string]int        `json:"processed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running          bool           `json:"running"`
	PID              int            `json:"pid"`
	DatabasePath     string         `json:"databasePath"`
	WorkQueueBackend string         `json:"workQueueBackend"`
	LockFilePath     string         `json:"lockFilePath"`
	StartedAt        string         `json:"startedAt,omitempty"`
	Books            map[string]int `json:"books"`
	Workflow         WorkflowStatus `json:"workflow"`
}

// Error is the rejection body returned for every failed operation.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// GateFailures is the detail payload attached to quality_gate_failed.
type GateFailures []services.GateFailure
