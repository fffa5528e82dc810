package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"inkwell/internal/services"
)

// Tx exposes the dependent writes a book transition may perform inside its
// own transaction.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Now returns the store clock.
func (t *Tx) Now() time.Time {
	return t.store.Now()
}

// CountChapters returns the number of live chapters for a book.
func (t *Tx) CountChapters(ctx context.Context, bookID int64) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chapters WHERE book_id = ? AND deleted_at IS NULL`, bookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chapters: %w", err)
	}
	return count, nil
}

// EnsureChapters creates pending chapters for every number in 1..count that
// has no live row yet. It returns how many rows were inserted.
func (t *Tx) EnsureChapters(ctx context.Context, bookID int64, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT chapter_number FROM chapters WHERE book_id = ? AND deleted_at IS NULL`, bookID)
	if err != nil {
		return 0, fmt.Errorf("list chapter numbers: %w", err)
	}
	existing := make(map[int]struct{})
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return 0, err
		}
		existing[n] = struct{}{}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	now := t.store.timestamp()
	inserted := 0
	for n := 1; n <= count; n++ {
		if _, ok := existing[n]; ok {
			continue
		}
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO chapters (book_id, chapter_number, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			bookID, n, ChapterPending, now, now); err != nil {
			return inserted, fmt.Errorf("insert chapter %d: %w", n, err)
		}
		inserted++
	}
	return inserted, nil
}

// MoveChapters changes every live chapter of a book from one status to another.
func (t *Tx) MoveChapters(ctx context.Context, bookID int64, from, to ChapterStatus) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE chapters SET status = ?, version = version + 1, updated_at = ?
         WHERE book_id = ? AND status = ? AND deleted_at IS NULL`,
		to, t.store.timestamp(), bookID, from)
	if err != nil {
		return 0, fmt.Errorf("move chapters %s->%s: %w", from, to, err)
	}
	return res.RowsAffected()
}

// NewChapter carries the fields accepted when a chapter is created directly.
type NewChapter struct {
	BookID  int64
	Number  int
	Title   string
	Outline string
}

// CreateChapter inserts a pending chapter. The chapter number must be unique
// among the book's live chapters.
func (s *Store) CreateChapter(ctx context.Context, nc NewChapter) (*Chapter, error) {
	if nc.Number <= 0 {
		return nil, services.Wrap(services.ErrValidation, "catalog", "create chapter", "chapter number must be positive", nil)
	}
	if _, err := s.GetBook(ctx, nc.BookID); err != nil {
		return nil, err
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO chapters (book_id, chapter_number, title, outline, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nc.BookID, nc.Number,
		nullableString(strings.TrimSpace(nc.Title)),
		nullableString(strings.TrimSpace(nc.Outline)),
		ChapterPending, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, services.Wrap(services.ErrValidation, "catalog", "create chapter",
				fmt.Sprintf("book %d already has chapter %d", nc.BookID, nc.Number), nil)
		}
		return nil, fmt.Errorf("insert chapter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("chapter id: %w", err)
	}
	return s.GetChapter(ctx, id)
}

// GetChapter fetches a live chapter by ID.
func (s *Store) GetChapter(ctx context.Context, id int64) (*Chapter, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+chapterColumns+` FROM chapters WHERE id = ? AND deleted_at IS NULL`, id)
	ch, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chapterNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter %d: %w", id, err)
	}
	return ch, nil
}

// GetChapterByNumber fetches a live chapter by its position in a book.
func (s *Store) GetChapterByNumber(ctx context.Context, bookID int64, number int) (*Chapter, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+chapterColumns+` FROM chapters WHERE book_id = ? AND chapter_number = ? AND deleted_at IS NULL`,
		bookID, number)
	ch, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "chapter",
			fmt.Sprintf("book %d chapter %d", bookID, number), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter %d/%d: %w", bookID, number, err)
	}
	return ch, nil
}

// ListChapters returns a book's live chapters ordered by number. When statuses
// are provided only matching chapters are returned; limit <= 0 means no limit.
func (s *Store) ListChapters(ctx context.Context, bookID int64, limit int, statuses ...ChapterStatus) ([]*Chapter, error) {
	query := `SELECT ` + chapterColumns + ` FROM chapters WHERE book_id = ? AND deleted_at IS NULL`
	args := []any{bookID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	query += ` ORDER BY chapter_number`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// CountChaptersByStatus groups a book's live chapters by status.
func (s *Store) CountChaptersByStatus(ctx context.Context, bookID int64) (map[ChapterStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM chapters WHERE book_id = ? AND deleted_at IS NULL GROUP BY status`, bookID)
	if err != nil {
		return nil, fmt.Errorf("chapter stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ChapterStatus]int)
	for rows.Next() {
		var status ChapterStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CountWrittenChapters counts chapters that have produced content at least once.
func (s *Store) CountWrittenChapters(ctx context.Context, bookID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM chapters WHERE book_id = ? AND deleted_at IS NULL AND status IN (`+
			makePlaceholders(len(writtenStatuses))+`)`,
		append([]any{bookID}, statusArgs(writtenStatuses)...)...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count written chapters: %w", err)
	}
	return count, nil
}

// SumWordCount totals word_count across a book's live chapters.
func (s *Store) SumWordCount(ctx context.Context, bookID int64) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT SUM(word_count) FROM chapters WHERE book_id = ? AND deleted_at IS NULL`, bookID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum word count: %w", err)
	}
	return int(total.Int64), nil
}

// SetChapterScores records chapter-level quality scores.
func (s *Store) SetChapterScores(ctx context.Context, id int64, aiScore, plagiarismScore *float64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE chapters
         SET ai_detection_score = COALESCE(?, ai_detection_score),
             plagiarism_score = COALESCE(?, plagiarism_score),
             updated_at = ?
         WHERE id = ? AND deleted_at IS NULL`,
		nullableFloat(aiScore), nullableFloat(plagiarismScore), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set chapter scores: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chapterNotFound(id)
	}
	return nil
}

// SoftDeleteChapter hides a chapter from listings, sweeps, and word counts.
func (s *Store) SoftDeleteChapter(ctx context.Context, id int64) error {
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE chapters SET deleted_at = ?, version = version + 1, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chapterNotFound(id)
	}
	return nil
}

// ChapterTransition describes one validated chapter status change.
type ChapterTransition struct {
	Event   string
	Sources []ChapterStatus
	Target  ChapterStatus
	// NoopFrom lists states in which the event is accepted without a write.
	NoopFrom []ChapterStatus
	// Apply may mutate content, generation, and review fields before commit.
	Apply func(ch *Chapter) error
}

// TransitionChapter atomically moves a chapter from one of t.Sources to
// t.Target. The returned bool is false when the call was a no-op.
// word_count is always recomputed from content before the write.
func (s *Store) TransitionChapter(ctx context.Context, id int64, t ChapterTransition) (*Chapter, bool, error) {
	ctx = ensureContext(ctx)
	var (
		result  *Chapter
		changed bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		changed = false
		row := tx.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = ? AND deleted_at IS NULL`, id)
		ch, err := scanChapter(row)
		if errors.Is(err, sql.ErrNoRows) {
			return chapterNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("read chapter %d: %w", id, err)
		}
		if slices.Contains(t.NoopFrom, ch.Status) {
			result = ch
			return nil
		}
		if !slices.Contains(t.Sources, ch.Status) {
			return &services.InvalidTransitionError{Entity: "chapter", ID: id, Event: t.Event, From: string(ch.Status)}
		}

		from, version := ch.Status, ch.Version
		if t.Apply != nil {
			if err := t.Apply(ch); err != nil {
				return err
			}
		}
		ch.WordCount = CountWords(ch.Content)

		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE chapters
             SET status = ?, content = ?, word_count = ?, generation_attempts = ?, generation_model = ?,
                 generation_tokens_used = ?, generation_cost_usd = ?, qa_notes = ?, qa_reviewed_at = ?,
                 last_error = ?, claim_token = ?, version = version + 1, updated_at = ?
             WHERE id = ? AND status = ? AND version = ?`,
			t.Target,
			nullableString(ch.Content),
			ch.WordCount,
			ch.GenerationAttempts,
			nullableString(ch.GenerationModel),
			ch.GenerationTokensUsed,
			ch.GenerationCostUSD,
			nullableString(ch.QANotes),
			nullableTime(ch.QAReviewedAt),
			nullableString(ch.LastError),
			nullableString(ch.ClaimToken),
			now,
			id, from, version,
		)
		if err != nil {
			return fmt.Errorf("update chapter %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &services.ConcurrencyConflictError{Entity: "chapter", ID: id, Expected: string(from)}
		}
		ch.Status = t.Target
		ch.Version = version + 1
		ch.UpdatedAt, _ = parseTimeString(now)
		result = ch
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func chapterNotFound(id int64) error {
	return services.Wrap(services.ErrNotFound, "catalog", "chapter", fmt.Sprintf("chapter %d", id), nil)
}
