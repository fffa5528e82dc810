package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"inkwell/internal/services"
)

// NewBook carries the fields accepted when a book is created.
type NewBook struct {
	Title              string
	Genre              string
	Premise            string
	Outline            string
	TargetChapterCount int
}

// CreateBook inserts a book at concept_pending.
func (s *Store) CreateBook(ctx context.Context, nb NewBook) (*Book, error) {
	title := strings.TrimSpace(nb.Title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "catalog", "create book", "title is required", nil)
	}
	if nb.TargetChapterCount < 0 {
		return nil, services.Wrap(services.ErrValidation, "catalog", "create book", "target chapter count must be non-negative", nil)
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO books (title, genre, premise, outline, status, target_chapter_count, checklist_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		title,
		nullableString(strings.TrimSpace(nb.Genre)),
		nullableString(strings.TrimSpace(nb.Premise)),
		nullableString(strings.TrimSpace(nb.Outline)),
		BookConceptPending,
		nb.TargetChapterCount,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("book id: %w", err)
	}
	return s.GetBook(ctx, id)
}

// GetBook fetches a live book by ID.
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+bookColumns+` FROM books WHERE id = ? AND deleted_at IS NULL`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bookNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return book, nil
}

// ListBooks returns live books ordered by ID.
func (s *Store) ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE deleted_at IS NULL`
	var args []any
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(filter.Statuses)) + `)`
		args = append(args, statusArgs(filter.Statuses)...)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBookScores records book-level AI-detection and plagiarism scores.
// A nil score leaves the stored value unchanged.
func (s *Store) UpdateBookScores(ctx context.Context, id int64, aiScore, plagiarismScore *float64) (*Book, error) {
	for _, score := range []*float64{aiScore, plagiarismScore} {
		if score != nil && (*score < 0 || *score > 100) {
			return nil, services.Wrap(services.ErrValidation, "catalog", "update scores", fmt.Sprintf("score %.2f outside 0-100", *score), nil)
		}
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE books
         SET ai_detection_score = COALESCE(?, ai_detection_score),
             plagiarism_score = COALESCE(?, plagiarism_score),
             version = version + 1, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL`,
		nullableFloat(aiScore), nullableFloat(plagiarismScore), s.timestamp(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update book scores: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, bookNotFound(id)
	}
	return s.GetBook(ctx, id)
}

// UpdateChecklist merges checklist items into the stored preflight checklist.
func (s *Store) UpdateChecklist(ctx context.Context, id int64, items map[string]bool) (*Book, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT checklist_json FROM books WHERE id = ? AND deleted_at IS NULL`, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return bookNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("read checklist: %w", err)
		}
		checklist := Checklist{}
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &checklist); err != nil {
				return fmt.Errorf("decode checklist: %w", err)
			}
		}
		for key, done := range items {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			checklist[key] = done
		}
		encoded, err := json.Marshal(checklist)
		if err != nil {
			return fmt.Errorf("encode checklist: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE books SET checklist_json = ?, version = version + 1, updated_at = ? WHERE id = ?`,
			string(encoded), s.timestamp(), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetBook(ctx, id)
}

// SetWordCount overwrites the denormalized book word count.
func (s *Store) SetWordCount(ctx context.Context, id int64, words int) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE books SET current_word_count = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		words, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set word count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return bookNotFound(id)
	}
	return nil
}

// SoftDeleteBook hides a book and its chapters from every listing and sweep.
func (s *Store) SoftDeleteBook(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE books SET deleted_at = ?, version = version + 1, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
			now, now, id)
		if err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return bookNotFound(id)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE chapters SET deleted_at = ?, updated_at = ? WHERE book_id = ? AND deleted_at IS NULL`,
			now, now, id); err != nil {
			return fmt.Errorf("delete chapters: %w", err)
		}
		return nil
	})
}

// BookTransition describes one validated lifecycle change.
type BookTransition struct {
	Event   string
	Sources []BookStatus
	Target  BookStatus
	// ExpectedVersion, when non-zero, must equal the stored version.
	ExpectedVersion int64
	// Apply runs inside the transaction after the source check. It may set
	// PreflightPassed or PublishedAt on book and use tx for dependent writes.
	// Returning an error aborts the transition with the row unchanged.
	Apply func(ctx context.Context, tx *Tx, book *Book) error
}

// TransitionBook atomically moves a book from one of t.Sources to t.Target.
func (s *Store) TransitionBook(ctx context.Context, id int64, t BookTransition) (*Book, error) {
	ctx = ensureContext(ctx)
	var result *Book
	err := s.withTx(ctx, func(sqlTx *sql.Tx) error {
		row := sqlTx.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ? AND deleted_at IS NULL`, id)
		book, err := scanBook(row)
		if errors.Is(err, sql.ErrNoRows) {
			return bookNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("read book %d: %w", id, err)
		}
		if !slices.Contains(t.Sources, book.Status) {
			return &services.InvalidTransitionError{Entity: "book", ID: id, Event: t.Event, From: string(book.Status)}
		}
		if t.ExpectedVersion != 0 && t.ExpectedVersion != book.Version {
			return &services.ConcurrencyConflictError{Entity: "book", ID: id, Expected: fmt.Sprintf("version %d", t.ExpectedVersion)}
		}

		from, version := book.Status, book.Version
		if t.Apply != nil {
			if err := t.Apply(ctx, &Tx{tx: sqlTx, store: s}, book); err != nil {
				return err
			}
		}

		now := s.timestamp()
		res, err := sqlTx.ExecContext(ctx,
			`UPDATE books
             SET status = ?, preflight_passed = ?, published_at = ?, version = version + 1, updated_at = ?
             WHERE id = ? AND status = ? AND version = ?`,
			t.Target, boolToInt(book.PreflightPassed), nullableTime(book.PublishedAt), now,
			id, from, version,
		)
		if err != nil {
			return fmt.Errorf("update book %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &services.ConcurrencyConflictError{Entity: "book", ID: id, Expected: string(from)}
		}
		book.Status = t.Target
		book.Version = version + 1
		book.UpdatedAt, _ = parseTimeString(now)
		result = book
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CountBooksByStatus groups live books by lifecycle status.
func (s *Store) CountBooksByStatus(ctx context.Context) (map[BookStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM books WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("book stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[BookStatus]int)
	for rows.Next() {
		var status BookStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func bookNotFound(id int64) error {
	return services.Wrap(services.ErrNotFound, "catalog", "book", fmt.Sprintf("book %d", id), nil)
}
