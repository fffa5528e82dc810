package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertConsistencyReport persists an advisory consistency check result.
func (s *Store) InsertConsistencyReport(ctx context.Context, report ConsistencyReport) (*ConsistencyReport, error) {
	issues := report.Issues
	if issues == nil {
		issues = []ConsistencyIssue{}
	}
	encoded, err := json.Marshal(issues)
	if err != nil {
		return nil, fmt.Errorf("encode issues: %w", err)
	}
	now := s.now()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO consistency_reports (book_id, chapters_checked, issues_json, model, created_at) VALUES (?, ?, ?, ?, ?)`,
		report.BookID, report.ChaptersChecked, string(encoded), nullableString(report.Model), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert consistency report: %w", err)
	}
	report.ID, _ = res.LastInsertId()
	report.Issues = issues
	report.CreatedAt = now
	return &report, nil
}

// ListConsistencyReports returns a book's reports, newest first.
func (s *Store) ListConsistencyReports(ctx context.Context, bookID int64) ([]ConsistencyReport, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, book_id, chapters_checked, issues_json, model, created_at
         FROM consistency_reports WHERE book_id = ? ORDER BY id DESC`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list consistency reports: %w", err)
	}
	defer rows.Close()

	var reports []ConsistencyReport
	for rows.Next() {
		var (
			r       ConsistencyReport
			raw     string
			model   sql.NullString
			created string
		)
		if err := rows.Scan(&r.ID, &r.BookID, &r.ChaptersChecked, &raw, &model, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &r.Issues); err != nil {
			return nil, fmt.Errorf("decode issues for report %d: %w", r.ID, err)
		}
		r.Model = model.String
		r.CreatedAt, _ = parseTimeString(created)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
