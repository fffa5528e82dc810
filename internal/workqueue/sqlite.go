package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"modernc.org/sqlite"

	"inkwell/internal/services"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS work_units (
    id TEXT PRIMARY KEY,
    queue TEXT NOT NULL,
    operation TEXT NOT NULL,
    book_id INTEGER NOT NULL DEFAULT 0,
    entity_id INTEGER NOT NULL DEFAULT 0,
    payload TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL,
    not_before INTEGER NOT NULL,
    lease_until INTEGER,
    last_error TEXT,
    status TEXT NOT NULL CHECK (status IN ('pending', 'leased', 'done', 'failed')),
    dedupe_key TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_work_units_dedupe
    ON work_units(dedupe_key) WHERE dedupe_key IS NOT NULL AND status IN ('pending', 'leased');
CREATE INDEX IF NOT EXISTS idx_work_units_ready ON work_units(queue, status, not_before);
CREATE INDEX IF NOT EXISTS idx_work_units_lease ON work_units(status, lease_until);
`

const unitColumns = `id, queue, operation, book_id, entity_id, payload, attempts, max_attempts,
    not_before, lease_until, last_error, status, dedupe_key, created_at, updated_at`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteQueue is a persistent Queue backed by a SQLite file.
type SQLiteQueue struct {
	db         *sql.DB
	now        func() time.Time
	maxDefault int
}

var _ Queue = (*SQLiteQueue)(nil)

// OpenSQLite opens (creating if needed) the work queue database at path.
// maxAttempts is applied to units enqueued without their own bound.
func OpenSQLite(path string, maxAttempts int) (*SQLiteQueue, error) {
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open work queue db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init work queue schema: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &SQLiteQueue{
		db:         db,
		now:        func() time.Time { return time.Now().UTC() },
		maxDefault: maxAttempts,
	}, nil
}

// SetClock overrides the time source used for eligibility and leases.
func (q *SQLiteQueue) SetClock(now func() time.Time) {
	q.now = now
}

// Close releases the database handle.
func (q *SQLiteQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, unit Unit) (Unit, error) {
	if err := unit.normalize(q.now(), q.maxDefault); err != nil {
		return Unit{}, err
	}
	var existing *Unit
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		existing = nil
		if unit.DedupeKey != "" {
			row := tx.QueryRowContext(ctx,
				`SELECT `+unitColumns+` FROM work_units WHERE dedupe_key = ? AND status IN ('pending', 'leased')`,
				unit.DedupeKey)
			found, err := scanUnit(row)
			if err == nil {
				existing = found
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check dedupe key: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO work_units (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, NULL, NULL, ?, ?, ?, ?)`,
			unit.ID, unit.Queue, unit.Operation, unit.BookID, unit.EntityID,
			nullableText(string(unit.Payload)), unit.MaxAttempts, unit.NotBefore.UnixNano(),
			StatusPending, nullableText(unit.DedupeKey), unit.CreatedAt.UnixNano(), unit.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert work unit: %w", err)
		}
		return nil
	})
	if err != nil {
		return Unit{}, err
	}
	if existing != nil {
		return *existing, ErrDuplicate
	}
	return unit, nil
}

func (q *SQLiteQueue) Claim(ctx context.Context, queue string, lease time.Duration) (*Unit, error) {
	var claimed *Unit
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		now := q.now()
		row := tx.QueryRowContext(ctx,
			`SELECT `+unitColumns+` FROM work_units
             WHERE queue = ? AND status = 'pending' AND not_before <= ?
             ORDER BY not_before, rowid LIMIT 1`,
			queue, now.UnixNano())
		unit, err := scanUnit(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select work unit: %w", err)
		}
		until := now.Add(lease)
		res, err := tx.ExecContext(ctx,
			`UPDATE work_units SET status = 'leased', attempts = attempts + 1, lease_until = ?, updated_at = ?
             WHERE id = ? AND status = 'pending'`,
			until.UnixNano(), now.UnixNano(), unit.ID)
		if err != nil {
			return fmt.Errorf("lease work unit: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		unit.Status = StatusLeased
		unit.Attempts++
		unit.LeaseUntil = &until
		unit.UpdatedAt = now
		claimed = unit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *SQLiteQueue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, StatusDone, "")
}

func (q *SQLiteQueue) Fail(ctx context.Context, id string, lastErr string) error {
	return q.finish(ctx, id, StatusFailed, lastErr)
}

func (q *SQLiteQueue) finish(ctx context.Context, id string, status Status, lastErr string) error {
	return q.leasedUpdate(ctx, id,
		`UPDATE work_units SET status = ?, lease_until = NULL, last_error = COALESCE(?, last_error), updated_at = ?
         WHERE id = ? AND status = 'leased'`,
		status, nullableText(lastErr), q.now().UnixNano(), id)
}

func (q *SQLiteQueue) Retry(ctx context.Context, id string, notBefore time.Time, lastErr string) error {
	return q.leasedUpdate(ctx, id,
		`UPDATE work_units SET status = 'pending', lease_until = NULL, not_before = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND status = 'leased'`,
		notBefore.UnixNano(), nullableText(lastErr), q.now().UnixNano(), id)
}

func (q *SQLiteQueue) Heartbeat(ctx context.Context, id string, lease time.Duration) error {
	now := q.now()
	return q.leasedUpdate(ctx, id,
		`UPDATE work_units SET lease_until = ?, updated_at = ? WHERE id = ? AND status = 'leased'`,
		now.Add(lease).UnixNano(), now.UnixNano(), id)
}

func (q *SQLiteQueue) leasedUpdate(ctx context.Context, id, query string, args ...any) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := q.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update work unit %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("work unit %s: %w", id, ErrNotLeased)
	}
	return nil
}

func (q *SQLiteQueue) ReclaimExpired(ctx context.Context) (ReclaimResult, error) {
	var result ReclaimResult
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		result = ReclaimResult{}
		now := q.now()
		rows, err := tx.QueryContext(ctx,
			`SELECT `+unitColumns+` FROM work_units WHERE status = 'leased' AND lease_until < ?`, now.UnixNano())
		if err != nil {
			return fmt.Errorf("select expired leases: %w", err)
		}
		var expired []*Unit
		for rows.Next() {
			unit, err := scanUnit(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, unit)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, unit := range expired {
			if unit.Exhausted() {
				unit.Status = StatusFailed
				unit.LastError = "lease expired on final attempt"
				unit.LeaseUntil = nil
				if _, err := tx.ExecContext(ctx,
					`UPDATE work_units SET status = 'failed', lease_until = NULL, last_error = ?, updated_at = ? WHERE id = ?`,
					unit.LastError, now.UnixNano(), unit.ID); err != nil {
					return fmt.Errorf("fail expired unit: %w", err)
				}
				result.Failed = append(result.Failed, *unit)
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE work_units SET status = 'pending', lease_until = NULL, not_before = ?, last_error = 'lease expired', updated_at = ? WHERE id = ?`,
				now.UnixNano(), now.UnixNano(), unit.ID); err != nil {
				return fmt.Errorf("requeue expired unit: %w", err)
			}
			result.Requeued++
		}
		return nil
	})
	return result, err
}

func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Unit, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM work_units WHERE id = ?`, id)
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "workqueue", "get", "unit "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get work unit: %w", err)
	}
	return unit, nil
}

func (q *SQLiteQueue) CountLive(ctx context.Context, queue string, bookID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM work_units WHERE queue = ? AND book_id = ? AND status IN ('pending', 'leased')`,
		queue, bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live units: %w", err)
	}
	return n, nil
}

func (q *SQLiteQueue) Stats(ctx context.Context) (map[string]QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT queue, status, COUNT(1) FROM work_units GROUP BY queue, status`)
	if err != nil {
		return nil, fmt.Errorf("work queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]QueueStats)
	for _, name := range Queues() {
		stats[name] = QueueStats{}
	}
	for rows.Next() {
		var (
			queue  string
			status Status
			count  int
		)
		if err := rows.Scan(&queue, &status, &count); err != nil {
			return nil, err
		}
		s := stats[queue]
		switch status {
		case StatusPending:
			s.Pending = count
		case StatusLeased:
			s.Leased = count
		case StatusDone:
			s.Done = count
		case StatusFailed:
			s.Failed = count
		}
		stats[queue] = s
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(scanner rowScanner) (*Unit, error) {
	var (
		u          Unit
		payload    sql.NullString
		notBefore  int64
		leaseUntil sql.NullInt64
		lastErr    sql.NullString
		status     string
		dedupe     sql.NullString
		created    int64
		updated    int64
	)
	if err := scanner.Scan(&u.ID, &u.Queue, &u.Operation, &u.BookID, &u.EntityID, &payload, &u.Attempts, &u.MaxAttempts,
		&notBefore, &leaseUntil, &lastErr, &status, &dedupe, &created, &updated); err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		u.Payload = []byte(payload.String)
	}
	u.NotBefore = time.Unix(0, notBefore).UTC()
	if leaseUntil.Valid {
		t := time.Unix(0, leaseUntil.Int64).UTC()
		u.LeaseUntil = &t
	}
	u.LastError = lastErr.String
	u.Status = Status(status)
	u.DedupeKey = dedupe.String
	u.CreatedAt = time.Unix(0, created).UTC()
	u.UpdatedAt = time.Unix(0, updated).UTC()
	return &u, nil
}

func nullableText(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func (q *SQLiteQueue) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqliteBusyCode
	}
	return false
}

func retryOnBusy(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(busyRetryAttempts),
		retry.Delay(busyRetryInitialBackoff),
		retry.MaxDelay(busyRetryMaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isSQLiteBusy),
		retry.LastErrorOnly(true),
	)
}
