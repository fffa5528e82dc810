package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkwell/internal/services"
)

// StrategyDefaults seeds a lazily created pricing strategy.
type StrategyDefaults struct {
	LaunchPrice               float64
	ReviewsThresholdForGrowth int
	DaysInLaunchPhase         int
	DaysBetweenPromotions     int
}

const initialPriceReason = "Initial launch pricing"

// GetPricingStrategy fetches the pricing strategy for a book.
func (s *Store) GetPricingStrategy(ctx context.Context, bookID int64) (*PricingStrategy, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+strategyColumns+` FROM pricing_strategies WHERE book_id = ?`, bookID)
	ps, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "pricing", fmt.Sprintf("book %d has no pricing strategy", bookID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get pricing strategy %d: %w", bookID, err)
	}
	return ps, nil
}

// EnsurePricingStrategy returns the book's strategy, creating it in the
// launch phase (with its initial price_history entry) when absent. The bool
// reports whether a strategy was created.
func (s *Store) EnsurePricingStrategy(ctx context.Context, bookID int64, defaults StrategyDefaults) (*PricingStrategy, bool, error) {
	ctx = ensureContext(ctx)
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created = false
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM pricing_strategies WHERE book_id = ?`, bookID).Scan(&exists); err != nil {
			return fmt.Errorf("check pricing strategy: %w", err)
		}
		if exists > 0 {
			return nil
		}
		var live int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM books WHERE id = ? AND deleted_at IS NULL`, bookID).Scan(&live); err != nil {
			return fmt.Errorf("check book: %w", err)
		}
		if live == 0 {
			return bookNotFound(bookID)
		}
		now := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pricing_strategies (book_id, phase, current_price, reviews_threshold_for_growth,
                days_in_launch_phase, days_between_promotions, auto_price_enabled, promotion_eligible, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, 1, 1, ?, ?)`,
			bookID, PhaseLaunch, defaults.LaunchPrice, defaults.ReviewsThresholdForGrowth,
			defaults.DaysInLaunchPhase, defaults.DaysBetweenPromotions, now, now); err != nil {
			return fmt.Errorf("insert pricing strategy: %w", err)
		}
		if err := insertPriceChange(ctx, tx, bookID, now, defaults.LaunchPrice, PhaseLaunch, initialPriceReason); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	ps, err := s.GetPricingStrategy(ctx, bookID)
	return ps, created, err
}

// StrategyChange is one pricing automaton step. When Phase or Price differ
// from the stored values a price_history entry is appended in the same
// transaction; Reason is then required.
type StrategyChange struct {
	ExpectedPhase   PricePhase
	ExpectedVersion int64
	Phase           PricePhase
	Price           float64
	Reason          string
	At              time.Time
	// Mutate adjusts promotion bookkeeping fields before the write.
	Mutate func(ps *PricingStrategy)
}

// ApplyStrategyChange commits a pricing step with a compare-and-swap on phase
// and version. It returns the updated strategy and whether history grew.
func (s *Store) ApplyStrategyChange(ctx context.Context, bookID int64, change StrategyChange) (*PricingStrategy, bool, error) {
	ctx = ensureContext(ctx)
	var (
		result   *PricingStrategy
		recorded bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		recorded = false
		row := tx.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM pricing_strategies WHERE book_id = ?`, bookID)
		ps, err := scanStrategy(row)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "catalog", "pricing", fmt.Sprintf("book %d has no pricing strategy", bookID), nil)
		}
		if err != nil {
			return fmt.Errorf("read pricing strategy: %w", err)
		}
		if (change.ExpectedPhase != "" && ps.Phase != change.ExpectedPhase) ||
			(change.ExpectedVersion != 0 && ps.Version != change.ExpectedVersion) {
			return &services.ConcurrencyConflictError{Entity: "pricing_strategy", ID: bookID, Expected: string(change.ExpectedPhase)}
		}

		fromPhase, version := ps.Phase, ps.Version
		phase := change.Phase
		if phase == "" {
			phase = ps.Phase
		}
		price := change.Price
		if price == 0 {
			price = ps.CurrentPrice
		}
		moves := phase != ps.Phase || price != ps.CurrentPrice
		if moves && strings.TrimSpace(change.Reason) == "" {
			return services.Wrap(services.ErrValidation, "catalog", "pricing", "price change requires a reason", nil)
		}
		ps.Phase, ps.CurrentPrice = phase, price
		if change.Mutate != nil {
			change.Mutate(ps)
		}

		at := change.At
		if at.IsZero() {
			at = s.now()
		}
		stamp := at.UTC().Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx,
			`UPDATE pricing_strategies
             SET phase = ?, current_price = ?, last_promotion_date = ?, next_promotion_date = ?, promotion_type = ?,
                 version = version + 1, updated_at = ?
             WHERE book_id = ? AND phase = ? AND version = ?`,
			ps.Phase, ps.CurrentPrice, nullableTime(ps.LastPromotionDate), nullableTime(ps.NextPromotionDate),
			nullableString(ps.PromotionType), s.timestamp(), bookID, fromPhase, version)
		if err != nil {
			return fmt.Errorf("update pricing strategy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &services.ConcurrencyConflictError{Entity: "pricing_strategy", ID: bookID, Expected: string(fromPhase)}
		}
		if moves {
			if err := insertPriceChange(ctx, tx, bookID, stamp, ps.CurrentPrice, ps.Phase, change.Reason); err != nil {
				return err
			}
			recorded = true
		}
		ps.Version = version + 1
		result = ps
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, recorded, nil
}

// StrategySettings toggles operator-controlled strategy flags. Nil fields are unchanged.
type StrategySettings struct {
	AutoPriceEnabled          *bool
	PromotionEligible         *bool
	ReviewsThresholdForGrowth *int
	DaysInLaunchPhase         *int
	DaysBetweenPromotions     *int
}

// UpdateStrategySettings applies operator settings without touching phase or price.
func (s *Store) UpdateStrategySettings(ctx context.Context, bookID int64, settings StrategySettings) (*PricingStrategy, error) {
	var auto, eligible any
	if settings.AutoPriceEnabled != nil {
		auto = boolToInt(*settings.AutoPriceEnabled)
	}
	if settings.PromotionEligible != nil {
		eligible = boolToInt(*settings.PromotionEligible)
	}
	intArg := func(v *int) any {
		if v == nil {
			return nil
		}
		return *v
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE pricing_strategies
         SET auto_price_enabled = COALESCE(?, auto_price_enabled),
             promotion_eligible = COALESCE(?, promotion_eligible),
             reviews_threshold_for_growth = COALESCE(?, reviews_threshold_for_growth),
             days_in_launch_phase = COALESCE(?, days_in_launch_phase),
             days_between_promotions = COALESCE(?, days_between_promotions),
             version = version + 1, updated_at = ?
         WHERE book_id = ?`,
		auto, eligible,
		intArg(settings.ReviewsThresholdForGrowth),
		intArg(settings.DaysInLaunchPhase),
		intArg(settings.DaysBetweenPromotions),
		s.timestamp(), bookID)
	if err != nil {
		return nil, fmt.Errorf("update strategy settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "pricing", fmt.Sprintf("book %d has no pricing strategy", bookID), nil)
	}
	return s.GetPricingStrategy(ctx, bookID)
}

// PriceHistory returns a book's price changes, oldest first.
func (s *Store) PriceHistory(ctx context.Context, bookID int64) ([]PriceChange, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, book_id, changed_at, price, phase, reason FROM price_history WHERE book_id = ? ORDER BY id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	defer rows.Close()

	var history []PriceChange
	for rows.Next() {
		var (
			pc      PriceChange
			changed string
			phase   string
		)
		if err := rows.Scan(&pc.ID, &pc.BookID, &changed, &pc.Price, &phase, &pc.Reason); err != nil {
			return nil, err
		}
		pc.ChangedAt, _ = parseTimeString(changed)
		pc.Phase = PricePhase(phase)
		history = append(history, pc)
	}
	return history, rows.Err()
}

func insertPriceChange(ctx context.Context, tx *sql.Tx, bookID int64, at string, price float64, phase PricePhase, reason string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (book_id, changed_at, price, phase, reason) VALUES (?, ?, ?, ?, ?)`,
		bookID, at, price, phase, reason); err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

// RecordReviewSnapshot stores a market-data review count for a book.
func (s *Store) RecordReviewSnapshot(ctx context.Context, bookID int64, totalReviews int, averageRating float64) (*ReviewSnapshot, error) {
	if totalReviews < 0 {
		return nil, services.Wrap(services.ErrValidation, "catalog", "reviews", "review count must be non-negative", nil)
	}
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO review_snapshots (book_id, total_reviews, average_rating, captured_at) VALUES (?, ?, ?, ?)`,
		bookID, totalReviews, averageRating, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert review snapshot: %w", err)
	}
	id, _ := res.LastInsertId()
	return &ReviewSnapshot{ID: id, BookID: bookID, TotalReviews: totalReviews, AverageRating: averageRating, CapturedAt: now}, nil
}

// ReviewCount returns the most recent review total recorded for a book, or
// zero when no snapshot exists.
func (s *Store) ReviewCount(ctx context.Context, bookID int64) (int, error) {
	var total int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT total_reviews FROM review_snapshots WHERE book_id = ? ORDER BY id DESC LIMIT 1`, bookID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest review count: %w", err)
	}
	return total, nil
}
