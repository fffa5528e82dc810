package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/metrics"
	"inkwell/internal/notifications"
	"inkwell/internal/services"
)

const defaultSweepWorkers = 4

// ReviewSource reports the current review count for a book.
type ReviewSource interface {
	ReviewCount(ctx context.Context, bookID int64) (int, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked     int
	Transitions int
	Scheduled   int
	Skipped     int
	Failed      int
}

// Engine applies the pricing automaton to published books.
type Engine struct {
	store    *catalog.Store
	reviews  ReviewSource
	notifier notifications.Service
	rules    Rules
	defaults catalog.StrategyDefaults
	workers  int
	logger   *slog.Logger
}

// NewEngine builds an engine. A nil reviews source reads review snapshots
// from store; a nil notifier drops events.
func NewEngine(store *catalog.Store, cfg config.Pricing, reviews ReviewSource, notifier notifications.Service, logger *slog.Logger) *Engine {
	if reviews == nil {
		reviews = store
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Engine{
		store:    store,
		reviews:  reviews,
		notifier: notifier,
		rules:    RulesFromConfig(cfg),
		defaults: catalog.StrategyDefaults{
			LaunchPrice:               cfg.LaunchPrice,
			ReviewsThresholdForGrowth: cfg.ReviewsThresholdForGrowth,
			DaysInLaunchPhase:         cfg.DaysInLaunchPhase,
			DaysBetweenPromotions:     cfg.DaysBetweenPromotions,
		},
		workers: defaultSweepWorkers,
		logger:  logging.NewComponentLogger(logger, "pricing"),
	}
}

// Strategy returns the book's strategy, creating it in LAUNCH when absent.
func (e *Engine) Strategy(ctx context.Context, bookID int64) (*catalog.PricingStrategy, error) {
	ps, created, err := e.store.EnsurePricingStrategy(ctx, bookID, e.defaults)
	if err != nil {
		return nil, err
	}
	if created {
		logging.WithContext(services.WithBookID(ctx, bookID), e.logger).Info("pricing strategy created",
			logging.String("phase", string(ps.Phase)),
			logging.Float64("price", ps.CurrentPrice),
		)
	}
	return ps, nil
}

// DailySweep evaluates every published book with auto pricing enabled and
// applies at most one step per book.
func (e *Engine) DailySweep(ctx context.Context, now time.Time) (SweepResult, error) {
	return e.sweep(ctx, "daily", func(ctx context.Context, book *catalog.Book) (outcome, error) {
		return e.stepBook(ctx, book, now)
	})
}

// WeeklyPromotionSweep schedules a countdown promotion one week out for every
// eligible MATURE book.
func (e *Engine) WeeklyPromotionSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	return e.sweep(ctx, "weekly", func(ctx context.Context, book *catalog.Book) (outcome, error) {
		return e.schedulePromotion(ctx, book, now)
	})
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeTransition
	outcomeScheduled
	outcomeSkipped
)

func (e *Engine) sweep(ctx context.Context, name string, fn func(context.Context, *catalog.Book) (outcome, error)) (SweepResult, error) {
	books, err := e.store.ListBooks(ctx, catalog.BookFilter{
		Statuses: []catalog.BookStatus{catalog.BookPublishedPrimary, catalog.BookPublishedAll},
	})
	if err != nil {
		return SweepResult{}, err
	}

	var (
		mu     sync.Mutex
		result SweepResult
		errs   []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)
	for _, book := range books {
		group.Go(func() error {
			bookCtx := services.WithBookID(groupCtx, book.ID)
			out, err := fn(bookCtx, book)
			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				return err
			case err != nil:
				result.Failed++
				errs = append(errs, fmt.Errorf("book %d: %w", book.ID, err))
				logging.WarnWithContext(logging.WithContext(bookCtx, e.logger), "pricing step failed", "pricing_failed",
					logging.Error(err),
					logging.String("sweep", name),
					logging.String(logging.FieldErrorHint, "the next sweep retries the book"),
					logging.String(logging.FieldImpact, "price unchanged for now"),
				)
			case out == outcomeTransition:
				result.Transitions++
			case out == outcomeScheduled:
				result.Scheduled++
			case out == outcomeSkipped:
				result.Skipped++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}
	e.logger.Info("pricing sweep complete",
		logging.String("sweep", name),
		logging.Int("checked", result.Checked),
		logging.Int("transitions", result.Transitions),
		logging.Int("scheduled", result.Scheduled),
		logging.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}

func (e *Engine) stepBook(ctx context.Context, book *catalog.Book, now time.Time) (outcome, error) {
	ps, err := e.Strategy(ctx, book.ID)
	if err != nil {
		return outcomeNone, err
	}
	if !ps.AutoPriceEnabled {
		return outcomeSkipped, nil
	}
	reviews, err := e.reviews.ReviewCount(ctx, book.ID)
	if err != nil {
		return outcomeNone, fmt.Errorf("review count: %w", err)
	}
	decision, ok := e.rules.Decide(ps, Facts{
		DaysSincePublish: DaysSincePublish(book, now),
		Reviews:          reviews,
		Now:              now,
	})
	if !ok {
		return outcomeNone, nil
	}
	if _, err := e.apply(ctx, book, ps, decision, now); err != nil {
		if errors.Is(err, services.ErrConcurrencyConflict) {
			return outcomeSkipped, nil
		}
		return outcomeNone, err
	}
	return outcomeTransition, nil
}

// apply commits a decision with a compare-and-swap on the strategy's phase and version.
func (e *Engine) apply(ctx context.Context, book *catalog.Book, ps *catalog.PricingStrategy, d Decision, now time.Time) (*catalog.PricingStrategy, error) {
	change := catalog.StrategyChange{
		ExpectedPhase:   ps.Phase,
		ExpectedVersion: ps.Version,
		Phase:           d.To,
		Price:           d.Price,
		Reason:          d.Reason,
		At:              now,
	}
	if d.StartsPromotion {
		promoType := promotionType(ps)
		change.Mutate = func(next *catalog.PricingStrategy) {
			started := now
			next.LastPromotionDate = &started
			next.NextPromotionDate = nil
			next.PromotionType = promoType
		}
	}
	updated, recorded, err := e.store.ApplyStrategyChange(ctx, book.ID, change)
	if err != nil {
		return nil, err
	}
	if recorded {
		e.recordChange(ctx, book, d, updated)
	}
	return updated, nil
}

func (e *Engine) recordChange(ctx context.Context, book *catalog.Book, d Decision, ps *catalog.PricingStrategy) {
	metrics.PriceChangesTotal.WithLabelValues(string(d.From), string(d.To)).Inc()
	logging.WithContext(ctx, e.logger).Info("pricing phase changed",
		logging.String(logging.FieldEventType, "price_changed"),
		logging.String("from", string(d.From)),
		logging.String("to", string(d.To)),
		logging.Float64("price", ps.CurrentPrice),
		logging.String("reason", d.Reason),
	)
	if err := e.notifier.Publish(ctx, notifications.EventPriceChanged, notifications.Payload{
		"title":  book.Title,
		"from":   string(d.From),
		"to":     string(d.To),
		"price":  ps.CurrentPrice,
		"reason": d.Reason,
	}); err != nil {
		logging.WithContext(ctx, e.logger).Warn("price change notification failed", logging.Error(err))
	}
}

func (e *Engine) schedulePromotion(ctx context.Context, book *catalog.Book, now time.Time) (outcome, error) {
	ps, err := e.Strategy(ctx, book.ID)
	if err != nil {
		return outcomeNone, err
	}
	if !PromotionDue(ps, now) {
		return outcomeNone, nil
	}
	start := now.Add(time.Duration(e.rules.ScheduleLeadDays) * day)
	_, _, err = e.store.ApplyStrategyChange(ctx, book.ID, catalog.StrategyChange{
		ExpectedPhase:   ps.Phase,
		ExpectedVersion: ps.Version,
		At:              now,
		Mutate: func(next *catalog.PricingStrategy) {
			next.NextPromotionDate = &start
			next.PromotionType = PromotionCountdown
		},
	})
	if errors.Is(err, services.ErrConcurrencyConflict) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	logging.WithContext(ctx, e.logger).Info("promotion scheduled",
		logging.String(logging.FieldEventType, "promotion_scheduled"),
		logging.String("promotion_type", PromotionCountdown),
		logging.String("starts", start.Format(time.DateOnly)),
	)
	if err := e.notifier.Publish(ctx, notifications.EventPromotionScheduled, notifications.Payload{
		"title": book.Title,
		"date":  start.Format(time.DateOnly),
	}); err != nil {
		logging.WithContext(ctx, e.logger).Warn("promotion notification failed", logging.Error(err))
	}
	return outcomeScheduled, nil
}

// StartPromotion enters PROMO immediately for a MATURE book, regardless of
// the schedule.
func (e *Engine) StartPromotion(ctx context.Context, bookID int64, now time.Time) (*catalog.PricingStrategy, error) {
	ctx = services.WithBookID(ctx, bookID)
	book, err := e.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	ps, err := e.Strategy(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return e.startPromotion(ctx, book, ps, e.rules.PromoPrice, "", now)
}

func (e *Engine) startPromotion(ctx context.Context, book *catalog.Book, ps *catalog.PricingStrategy, price float64, reason string, now time.Time) (*catalog.PricingStrategy, error) {
	if ps.Phase != catalog.PhaseMature {
		return nil, &services.InvalidTransitionError{Entity: "pricing_strategy", ID: book.ID, Event: "start_promotion", From: string(ps.Phase)}
	}
	if reason == "" {
		reason = fmt.Sprintf("Promotion started (%s)", promotionType(ps))
	}
	return e.apply(ctx, book, ps, Decision{
		From:            ps.Phase,
		To:              catalog.PhasePromo,
		Price:           price,
		Reason:          reason,
		StartsPromotion: true,
	}, now)
}

// manualEdges lists the phases an operator may move a strategy to. Nothing
// leads back into LAUNCH or GROWTH; BUNDLE is reachable from anywhere and
// leaves only to MATURE.
var manualEdges = map[catalog.PricePhase][]catalog.PricePhase{
	catalog.PhaseLaunch: {catalog.PhaseLaunch, catalog.PhaseGrowth, catalog.PhaseMature, catalog.PhaseBundle},
	catalog.PhaseGrowth: {catalog.PhaseGrowth, catalog.PhaseMature, catalog.PhaseBundle},
	catalog.PhaseMature: {catalog.PhaseMature, catalog.PhasePromo, catalog.PhaseBundle},
	catalog.PhasePromo:  {catalog.PhasePromo, catalog.PhaseMature, catalog.PhaseBundle},
	catalog.PhaseBundle: {catalog.PhaseBundle, catalog.PhaseMature},
}

// SetPhase is the operator override. Moves follow manualEdges, and outside
// PROMO and BUNDLE the price may not drop. A PROMO target starts a promotion.
func (e *Engine) SetPhase(ctx context.Context, bookID int64, phase catalog.PricePhase, price float64, reason string) (*catalog.PricingStrategy, error) {
	ctx = services.WithBookID(ctx, bookID)
	parsed, ok := catalog.ParsePricePhase(string(phase))
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "pricing", "set_phase", fmt.Sprintf("unknown phase %q", phase), nil)
	}
	phase = parsed
	if price < 0 {
		return nil, services.Wrap(services.ErrValidation, "pricing", "set_phase", "price must be non-negative", nil)
	}
	reason = strings.TrimSpace(reason)
	book, err := e.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	ps, err := e.Strategy(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(manualEdges[ps.Phase], phase) {
		return nil, &services.InvalidTransitionError{Entity: "pricing_strategy", ID: bookID, Event: "set_phase:" + string(phase), From: string(ps.Phase)}
	}
	if price == 0 {
		price = e.rules.priceFor(phase, ps.CurrentPrice)
	}
	now := e.store.Now()
	if phase == catalog.PhasePromo && ps.Phase != catalog.PhasePromo {
		return e.startPromotion(ctx, book, ps, price, reason, now)
	}
	exempt := phase == catalog.PhasePromo || phase == catalog.PhaseBundle || ps.Phase == catalog.PhaseBundle
	if !exempt && price < ps.CurrentPrice {
		return nil, services.Wrap(services.ErrValidation, "pricing", "set_phase",
			fmt.Sprintf("price %.2f is below the current %.2f outside a promotion", price, ps.CurrentPrice), nil)
	}
	if reason == "" {
		reason = "Manual phase change"
	}
	return e.apply(ctx, book, ps, Decision{From: ps.Phase, To: phase, Price: price, Reason: reason}, now)
}

// History returns the book's price changes, oldest first.
func (e *Engine) History(ctx context.Context, bookID int64) ([]catalog.PriceChange, error) {
	return e.store.PriceHistory(ctx, bookID)
}

func (r Rules) priceFor(phase catalog.PricePhase, current float64) float64 {
	switch phase {
	case catalog.PhaseLaunch:
		return r.LaunchPrice
	case catalog.PhaseGrowth:
		return r.GrowthPrice
	case catalog.PhaseMature:
		return r.MaturePrice
	case catalog.PhasePromo:
		return r.PromoPrice
	}
	return current
}
