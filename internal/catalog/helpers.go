package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const bookColumns = "id, title, genre, premise, outline, status, target_chapter_count, current_word_count, ai_detection_score, plagiarism_score, preflight_passed, checklist_json, published_at, version, created_at, updated_at, deleted_at"

func scanBook(scanner rowScanner) (*Book, error) {
	var (
		book         Book
		genre        sql.NullString
		premise      sql.NullString
		outline      sql.NullString
		status       string
		aiScore      sql.NullFloat64
		plagScore    sql.NullFloat64
		preflight    int
		checklistRaw sql.NullString
		publishedRaw sql.NullString
		createdRaw   string
		updatedRaw   string
		deletedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&book.ID,
		&book.Title,
		&genre,
		&premise,
		&outline,
		&status,
		&book.TargetChapterCount,
		&book.CurrentWordCount,
		&aiScore,
		&plagScore,
		&preflight,
		&checklistRaw,
		&publishedRaw,
		&book.Version,
		&createdRaw,
		&updatedRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}
	book.Genre = genre.String
	book.Premise = premise.String
	book.Outline = outline.String
	book.Status = BookStatus(status)
	book.AIDetectionScore = floatPtr(aiScore)
	book.PlagiarismScore = floatPtr(plagScore)
	book.PreflightPassed = preflight != 0
	book.Checklist = Checklist{}
	if checklistRaw.Valid && checklistRaw.String != "" {
		if err := json.Unmarshal([]byte(checklistRaw.String), &book.Checklist); err != nil {
			return nil, err
		}
	}
	book.PublishedAt = timePtr(publishedRaw)
	book.CreatedAt, _ = parseTimeString(createdRaw)
	book.UpdatedAt, _ = parseTimeString(updatedRaw)
	book.DeletedAt = timePtr(deletedRaw)
	return &book, nil
}

const chapterColumns = "id, book_id, chapter_number, title, outline, status, content, word_count, generation_attempts, generation_model, generation_tokens_used, generation_cost_usd, ai_detection_score, plagiarism_score, qa_notes, qa_reviewed_at, last_error, claim_token, version, created_at, updated_at, deleted_at"

func scanChapter(scanner rowScanner) (*Chapter, error) {
	var (
		ch          Chapter
		title       sql.NullString
		outline     sql.NullString
		status      string
		content     sql.NullString
		model       sql.NullString
		aiScore     sql.NullFloat64
		plagScore   sql.NullFloat64
		notes       sql.NullString
		reviewedRaw sql.NullString
		lastError   sql.NullString
		claimToken  sql.NullString
		createdRaw  string
		updatedRaw  string
		deletedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&ch.ID,
		&ch.BookID,
		&ch.Number,
		&title,
		&outline,
		&status,
		&content,
		&ch.WordCount,
		&ch.GenerationAttempts,
		&model,
		&ch.GenerationTokensUsed,
		&ch.GenerationCostUSD,
		&aiScore,
		&plagScore,
		&notes,
		&reviewedRaw,
		&lastError,
		&claimToken,
		&ch.Version,
		&createdRaw,
		&updatedRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}
	ch.Title = title.String
	ch.Outline = outline.String
	ch.Status = ChapterStatus(status)
	ch.Content = content.String
	ch.GenerationModel = model.String
	ch.AIDetectionScore = floatPtr(aiScore)
	ch.PlagiarismScore = floatPtr(plagScore)
	ch.QANotes = notes.String
	ch.QAReviewedAt = timePtr(reviewedRaw)
	ch.LastError = lastError.String
	ch.ClaimToken = claimToken.String
	ch.CreatedAt, _ = parseTimeString(createdRaw)
	ch.UpdatedAt, _ = parseTimeString(updatedRaw)
	ch.DeletedAt = timePtr(deletedRaw)
	return &ch, nil
}

const strategyColumns = "book_id, phase, current_price, reviews_threshold_for_growth, days_in_launch_phase, days_between_promotions, auto_price_enabled, promotion_eligible, last_promotion_date, next_promotion_date, promotion_type, version, created_at, updated_at"

func scanStrategy(scanner rowScanner) (*PricingStrategy, error) {
	var (
		ps         PricingStrategy
		phase      string
		auto       int
		eligible   int
		lastPromo  sql.NullString
		nextPromo  sql.NullString
		promoType  sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&ps.BookID,
		&phase,
		&ps.CurrentPrice,
		&ps.ReviewsThresholdForGrowth,
		&ps.DaysInLaunchPhase,
		&ps.DaysBetweenPromotions,
		&auto,
		&eligible,
		&lastPromo,
		&nextPromo,
		&promoType,
		&ps.Version,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	ps.Phase = PricePhase(phase)
	ps.AutoPriceEnabled = auto != 0
	ps.PromotionEligible = eligible != 0
	ps.LastPromotionDate = timePtr(lastPromo)
	ps.NextPromotionDate = timePtr(nextPromo)
	ps.PromotionType = promoType.String
	ps.CreatedAt, _ = parseTimeString(createdRaw)
	ps.UpdatedAt, _ = parseTimeString(updatedRaw)
	return &ps, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := parseTimeString(v.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs[S ~string](statuses []S) []any {
	args := make([]any, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
	}
	return args
}
