package api

import (
	"context"
	"fmt"
	"strings"

	"inkwell/internal/catalog"
	"inkwell/internal/pricing"
	"inkwell/internal/services"
)

// Pricing sweep names accepted by RunPricingSweep.
const (
	SweepDaily  = "daily"
	SweepWeekly = "weekly"
)

// Pricing returns the book's strategy and history, creating the strategy
// in LAUNCH when absent.
func (s *Service) Pricing(ctx context.Context, bookID int64) (Pricing, error) {
	ps, err := s.pricing.Strategy(ctx, bookID)
	if err != nil {
		return Pricing{}, err
	}
	history, err := s.pricing.History(ctx, bookID)
	if err != nil {
		return Pricing{}, err
	}
	return FromPricing(ps, history), nil
}

// RunPricingSweep runs the named sweep immediately.
func (s *Service) RunPricingSweep(ctx context.Context, sweep string) (SweepResult, error) {
	sweep = strings.ToLower(strings.TrimSpace(sweep))
	if sweep == "" {
		sweep = SweepDaily
	}
	var (
		result pricing.SweepResult
		err    error
	)
	switch sweep {
	case SweepDaily:
		result, err = s.pricing.DailySweep(ctx, s.now())
	case SweepWeekly:
		result, err = s.pricing.WeeklyPromotionSweep(ctx, s.now())
	default:
		return SweepResult{}, services.Wrap(services.ErrValidation, "api", "pricing sweep", fmt.Sprintf("unknown sweep %q", sweep), nil)
	}
	dto := SweepResult{
		Sweep:       sweep,
		Checked:     result.Checked,
		Transitions: result.Transitions,
		Scheduled:   result.Scheduled,
		Skipped:     result.Skipped,
		Failed:      result.Failed,
	}
	return dto, err
}

// SetPricePhase is the operator phase override. A zero price uses the
// configured price for the phase.
func (s *Service) SetPricePhase(ctx context.Context, bookID int64, phase string, price float64, reason string) (Pricing, error) {
	if _, err := s.pricing.SetPhase(ctx, bookID, catalog.PricePhase(phase), price, reason); err != nil {
		return Pricing{}, err
	}
	return s.Pricing(ctx, bookID)
}

// StartPromotion enters PROMO immediately for a MATURE book.
func (s *Service) StartPromotion(ctx context.Context, bookID int64) (Pricing, error) {
	if _, err := s.pricing.StartPromotion(ctx, bookID, s.now()); err != nil {
		return Pricing{}, err
	}
	return s.Pricing(ctx, bookID)
}

// PricingSettings toggles automation flags. Nil fields are unchanged.
type PricingSettings struct {
	AutoPriceEnabled          *bool `json:"autoPriceEnabled"`
	PromotionEligible         *bool `json:"promotionEligible"`
	ReviewsThresholdForGrowth *int  `json:"reviewsThresholdForGrowth"`
	DaysInLaunchPhase         *int  `json:"daysInLaunchPhase"`
	DaysBetweenPromotions     *int  `json:"daysBetweenPromotions"`
}

// UpdatePricingSettings applies operator settings without touching phase or price.
func (s *Service) UpdatePricingSettings(ctx context.Context, bookID int64, settings PricingSettings) (Pricing, error) {
	for name, v := range map[string]*int{
		"reviewsThresholdForGrowth": settings.ReviewsThresholdForGrowth,
		"daysInLaunchPhase":         settings.DaysInLaunchPhase,
		"daysBetweenPromotions":     settings.DaysBetweenPromotions,
	} {
		if v != nil && *v < 0 {
			return Pricing{}, services.Wrap(services.ErrValidation, "api", "pricing settings", name+" must be non-negative", nil)
		}
	}
	if _, err := s.pricing.Strategy(ctx, bookID); err != nil {
		return Pricing{}, err
	}
	if _, err := s.store.UpdateStrategySettings(ctx, bookID, catalog.StrategySettings(settings)); err != nil {
		return Pricing{}, err
	}
	return s.Pricing(ctx, bookID)
}

// RecordReviews stores a market-data review snapshot.
func (s *Service) RecordReviews(ctx context.Context, bookID int64, total int, rating float64) error {
	if rating < 0 || rating > 5 {
		return services.Wrap(services.ErrValidation, "api", "reviews", "average rating must be between 0 and 5", nil)
	}
	_, err := s.store.RecordReviewSnapshot(ctx, bookID, total, rating)
	return err
}
