package pricing

import (
	"fmt"
	"time"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
)

// PromotionCountdown is the only promotion type the weekly sweep schedules.
const PromotionCountdown = "countdown"

const day = 24 * time.Hour

// Rules holds the prices and thresholds the automaton applies. Launch
// thresholds live on each strategy; the rest are global.
type Rules struct {
	LaunchPrice        float64
	GrowthPrice        float64
	MaturePrice        float64
	PromoPrice         float64
	MatureAfterDays    int
	MatureAfterReviews int
	PromoDurationDays  int
	ScheduleLeadDays   int
}

// RulesFromConfig maps the [pricing] section onto Rules.
func RulesFromConfig(cfg config.Pricing) Rules {
	return Rules{
		LaunchPrice:        cfg.LaunchPrice,
		GrowthPrice:        cfg.GrowthPrice,
		MaturePrice:        cfg.MaturePrice,
		PromoPrice:         cfg.PromoPrice,
		MatureAfterDays:    cfg.MatureAfterDays,
		MatureAfterReviews: cfg.MatureAfterReviews,
		PromoDurationDays:  cfg.PromoDurationDays,
		ScheduleLeadDays:   7,
	}
}

// Facts are the observations a daily decision is based on.
type Facts struct {
	DaysSincePublish int
	Reviews          int
	Now              time.Time
}

// Decision is one automaton step.
type Decision struct {
	From   catalog.PricePhase
	To     catalog.PricePhase
	Price  float64
	Reason string
	// StartsPromotion marks the MATURE → PROMO step, which also stamps
	// last_promotion_date and clears the schedule.
	StartsPromotion bool
}

// Decide returns the step the daily sweep should take for ps, if any. There
// are no steps back into LAUNCH or GROWTH, and BUNDLE has no outgoing steps.
func (r Rules) Decide(ps *catalog.PricingStrategy, f Facts) (Decision, bool) {
	switch ps.Phase {
	case catalog.PhaseLaunch:
		if f.DaysSincePublish >= ps.DaysInLaunchPhase && f.Reviews >= ps.ReviewsThresholdForGrowth {
			return Decision{
				From:   ps.Phase,
				To:     catalog.PhaseGrowth,
				Price:  r.GrowthPrice,
				Reason: fmt.Sprintf("Launch phase complete (%d days, %d reviews)", f.DaysSincePublish, f.Reviews),
			}, true
		}
	case catalog.PhaseGrowth:
		if f.DaysSincePublish >= r.MatureAfterDays && f.Reviews >= r.MatureAfterReviews {
			return Decision{
				From:   ps.Phase,
				To:     catalog.PhaseMature,
				Price:  r.MaturePrice,
				Reason: fmt.Sprintf("Growth phase complete (%d days, %d reviews)", f.DaysSincePublish, f.Reviews),
			}, true
		}
	case catalog.PhaseMature:
		if ps.NextPromotionDate != nil && !ps.NextPromotionDate.After(f.Now) {
			return Decision{
				From:            ps.Phase,
				To:              catalog.PhasePromo,
				Price:           r.PromoPrice,
				Reason:          fmt.Sprintf("Promotion started (%s)", promotionType(ps)),
				StartsPromotion: true,
			}, true
		}
	case catalog.PhasePromo:
		if ps.LastPromotionDate != nil && daysBetween(*ps.LastPromotionDate, f.Now) >= r.PromoDurationDays {
			return Decision{
				From:   ps.Phase,
				To:     catalog.PhaseMature,
				Price:  r.MaturePrice,
				Reason: "Promotional period ended",
			}, true
		}
	}
	return Decision{}, false
}

// PromotionDue reports whether the weekly sweep should schedule a promotion
// for ps. Strategies that were never promoted are due.
func PromotionDue(ps *catalog.PricingStrategy, now time.Time) bool {
	if ps.Phase != catalog.PhaseMature || !ps.PromotionEligible || !ps.AutoPriceEnabled {
		return false
	}
	if ps.NextPromotionDate != nil && ps.NextPromotionDate.After(now) {
		return false
	}
	if ps.LastPromotionDate == nil {
		return true
	}
	return daysBetween(*ps.LastPromotionDate, now) >= ps.DaysBetweenPromotions
}

func promotionType(ps *catalog.PricingStrategy) string {
	if ps.PromotionType != "" {
		return ps.PromotionType
	}
	return PromotionCountdown
}

// daysBetween counts whole elapsed days; negative spans count as zero.
func daysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / day)
}

// DaysSincePublish counts whole days since the book's publication, or zero
// when it has no publication date.
func DaysSincePublish(book *catalog.Book, now time.Time) int {
	if book == nil || book.PublishedAt == nil {
		return 0
	}
	return daysBetween(*book.PublishedAt, now)
}
