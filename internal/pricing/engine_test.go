package pricing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inkwell/internal/catalog"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/pricing"
	"inkwell/internal/services"
	"inkwell/internal/testsupport"
)

const day = 24 * time.Hour

var launchDay = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *catalog.Store
	engine *pricing.Engine
	notes  *notifications.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.SetClock(func() time.Time { return launchDay })
	notes := &notifications.Recorder{}
	return &fixture{
		store:  store,
		engine: pricing.NewEngine(store, cfg.Pricing, nil, notes, logging.NewNop()),
		notes:  notes,
	}
}

func (f *fixture) publishedBook(t *testing.T, title string) *catalog.Book {
	t.Helper()
	book := testsupport.NewBook(t, f.store, title, 1)
	book, err := f.store.TransitionBook(context.Background(), book.ID, catalog.BookTransition{
		Event:   "publish_primary",
		Sources: []catalog.BookStatus{catalog.BookConceptPending},
		Target:  catalog.BookPublishedPrimary,
		Apply: func(_ context.Context, _ *catalog.Tx, b *catalog.Book) error {
			published := launchDay
			b.PublishedAt = &published
			return nil
		},
	})
	require.NoError(t, err)
	return book
}

func (f *fixture) reviews(t *testing.T, bookID int64, total int) {
	t.Helper()
	_, err := f.store.RecordReviewSnapshot(context.Background(), bookID, total, 4.4)
	require.NoError(t, err)
}

func TestDailySweepMovesLaunchToGrowth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Harbor Lights")

	ps, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseLaunch, ps.Phase)
	require.InDelta(t, 0.99, ps.CurrentPrice, 1e-9)
	require.Equal(t, 7, ps.DaysInLaunchPhase)
	require.Equal(t, 20, ps.ReviewsThresholdForGrowth)

	before, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	f.reviews(t, book.ID, 25)
	result, err := f.engine.DailySweep(ctx, launchDay.Add(8*day))
	require.NoError(t, err)
	require.Equal(t, 1, result.Checked)
	require.Equal(t, 1, result.Transitions)

	ps, err = f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseGrowth, ps.Phase)
	require.InDelta(t, 2.99, ps.CurrentPrice, 1e-9)

	after, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	require.Equal(t, before, after[:len(before)])
	last := after[len(after)-1]
	require.Equal(t, catalog.PhaseGrowth, last.Phase)
	require.InDelta(t, 2.99, last.Price, 1e-9)
	require.Equal(t, "Launch phase complete (8 days, 25 reviews)", last.Reason)

	events := f.notes.Events()
	require.Len(t, events, 1)
	require.Equal(t, notifications.EventPriceChanged, events[0].Event)
	require.Equal(t, "growth", events[0].Payload["to"])
}

func TestDailySweepWaitsForBothThresholds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Patient")
	f.reviews(t, book.ID, 19)

	result, err := f.engine.DailySweep(ctx, launchDay.Add(40*day))
	require.NoError(t, err)
	require.Zero(t, result.Transitions)

	ps, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseLaunch, ps.Phase)
}

func TestFullCycleIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Lifecycle")

	f.reviews(t, book.ID, 25)
	_, err := f.engine.DailySweep(ctx, launchDay.Add(8*day))
	require.NoError(t, err)

	f.reviews(t, book.ID, 60)
	_, err = f.engine.DailySweep(ctx, launchDay.Add(31*day))
	require.NoError(t, err)

	weekly := launchDay.Add(35 * day)
	result, err := f.engine.WeeklyPromotionSweep(ctx, weekly)
	require.NoError(t, err)
	require.Equal(t, 1, result.Scheduled)

	ps, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseMature, ps.Phase)
	require.NotNil(t, ps.NextPromotionDate)
	require.True(t, ps.NextPromotionDate.Equal(weekly.Add(7*day)))
	require.Equal(t, pricing.PromotionCountdown, ps.PromotionType)

	result, err = f.engine.WeeklyPromotionSweep(ctx, weekly.Add(day))
	require.NoError(t, err)
	require.Zero(t, result.Scheduled, "already scheduled")

	_, err = f.engine.DailySweep(ctx, weekly.Add(3*day))
	require.NoError(t, err)
	ps, err = f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseMature, ps.Phase, "promotion not started before its date")

	promoStart := weekly.Add(7 * day)
	_, err = f.engine.DailySweep(ctx, promoStart)
	require.NoError(t, err)
	ps, err = f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhasePromo, ps.Phase)
	require.InDelta(t, 0.99, ps.CurrentPrice, 1e-9)
	require.Nil(t, ps.NextPromotionDate)
	require.NotNil(t, ps.LastPromotionDate)

	_, err = f.engine.DailySweep(ctx, promoStart.Add(7*day))
	require.NoError(t, err)

	f.reviews(t, book.ID, 5000)
	for i := 8; i < 20; i++ {
		_, err = f.engine.DailySweep(ctx, promoStart.Add(time.Duration(i)*day))
		require.NoError(t, err)
	}
	result, err = f.engine.WeeklyPromotionSweep(ctx, promoStart.Add(30*day))
	require.NoError(t, err)
	require.Zero(t, result.Scheduled, "promotions are spaced by days_between_promotions")

	history, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)
	phases := make([]catalog.PricePhase, len(history))
	for i, h := range history {
		phases[i] = h.Phase
	}
	require.Equal(t, []catalog.PricePhase{
		catalog.PhaseLaunch,
		catalog.PhaseGrowth,
		catalog.PhaseMature,
		catalog.PhasePromo,
		catalog.PhaseMature,
	}, phases)
	require.Equal(t, "Promotion started (countdown)", history[3].Reason)
	require.Equal(t, "Promotional period ended", history[4].Reason)
	require.Len(t, eventsOf(f.notes.Events(), notifications.EventPromotionScheduled), 1)
}

func TestConcurrentSweepsApplyStepOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Race")
	f.reviews(t, book.ID, 30)
	_, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)

	now := launchDay.Add(10 * day)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.DailySweep(ctx, now)
		}()
	}
	wg.Wait()

	history, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestAutoPricingDisabledIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Manual")
	_, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	off := false
	_, err = f.store.UpdateStrategySettings(ctx, book.ID, catalog.StrategySettings{AutoPriceEnabled: &off})
	require.NoError(t, err)
	f.reviews(t, book.ID, 100)

	result, err := f.engine.DailySweep(ctx, launchDay.Add(60*day))
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.Transitions)
}

func TestSetPhaseBundleIsTerminalForSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Box Set")

	ps, err := f.engine.SetPhase(ctx, book.ID, catalog.PhaseBundle, 9.99, "Bundled into trilogy")
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseBundle, ps.Phase)

	f.reviews(t, book.ID, 1000)
	_, err = f.engine.DailySweep(ctx, launchDay.Add(365*day))
	require.NoError(t, err)
	_, err = f.engine.WeeklyPromotionSweep(ctx, launchDay.Add(365*day))
	require.NoError(t, err)

	ps, err = f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseBundle, ps.Phase)
	require.InDelta(t, 9.99, ps.CurrentPrice, 1e-9)

	history, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "Bundled into trilogy", history[1].Reason)

	_, err = f.engine.SetPhase(ctx, book.ID, "clearance", 0, "")
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestStartPromotionRequiresMature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Too Soon")

	_, err := f.engine.StartPromotion(ctx, book.ID, launchDay)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	_, err = f.engine.SetPhase(ctx, book.ID, catalog.PhaseMature, 0, "")
	require.NoError(t, err)
	ps, err := f.engine.StartPromotion(ctx, book.ID, launchDay.Add(day))
	require.NoError(t, err)
	require.Equal(t, catalog.PhasePromo, ps.Phase)
	require.InDelta(t, 0.99, ps.CurrentPrice, 1e-9)
}

func TestSetPhaseRejectsMovesBackToEarlierPhases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Settled")

	_, err := f.engine.SetPhase(ctx, book.ID, catalog.PhaseMature, 0, "")
	require.NoError(t, err)
	before, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)

	for _, phase := range []catalog.PricePhase{catalog.PhaseLaunch, catalog.PhaseGrowth} {
		_, err = f.engine.SetPhase(ctx, book.ID, phase, 0, "")
		require.ErrorIs(t, err, services.ErrInvalidTransition, "mature -> %s", phase)
	}

	ps, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseMature, ps.Phase)
	require.InDelta(t, 3.99, ps.CurrentPrice, 1e-9)
	after, err := f.engine.History(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSetPhaseRejectsPriceDropOutsidePromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Bargain Bin")

	_, err := f.engine.SetPhase(ctx, book.ID, catalog.PhaseGrowth, 0, "")
	require.NoError(t, err)
	_, err = f.engine.SetPhase(ctx, book.ID, catalog.PhaseMature, 1.49, "")
	require.ErrorIs(t, err, services.ErrValidation)

	ps, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseGrowth, ps.Phase)
	require.InDelta(t, 2.99, ps.CurrentPrice, 1e-9)
}

func TestSetPhasePromoStampsPromotionAndEnds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Flash Sale")

	_, err := f.engine.SetPhase(ctx, book.ID, catalog.PhaseMature, 0, "")
	require.NoError(t, err)
	ps, err := f.engine.SetPhase(ctx, book.ID, catalog.PhasePromo, 0, "")
	require.NoError(t, err)
	require.Equal(t, catalog.PhasePromo, ps.Phase)
	require.InDelta(t, 0.99, ps.CurrentPrice, 1e-9)
	require.NotNil(t, ps.LastPromotionDate)
	require.True(t, ps.LastPromotionDate.Equal(launchDay))

	_, err = f.engine.DailySweep(ctx, launchDay.Add(8*day))
	require.NoError(t, err)
	ps, err = f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseMature, ps.Phase)
	require.InDelta(t, 3.99, ps.CurrentPrice, 1e-9)
}

func TestSetPhasePromoRequiresMature(t *testing.T) {
	f := newFixture(t)
	book := f.publishedBook(t, "Early Discount")

	_, err := f.engine.SetPhase(context.Background(), book.ID, catalog.PhasePromo, 0, "")
	require.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestUnpublishedBooksAreIgnored(t *testing.T) {
	f := newFixture(t)
	testsupport.NewBook(t, f.store, "Draft", 3)

	result, err := f.engine.DailySweep(context.Background(), launchDay.Add(100*day))
	require.NoError(t, err)
	require.Zero(t, result.Checked)
}

func TestSchedulerRunsDueSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.publishedBook(t, "Scheduled")
	f.reviews(t, book.ID, 25)

	now := launchDay.Add(8 * day)
	sched := pricing.NewScheduler(f.engine, time.Hour)
	sched.SetClock(func() time.Time { return now })
	sched.Tick(ctx)

	ps, err := f.engine.Strategy(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.PhaseGrowth, ps.Phase)
}

func eventsOf(recorded []notifications.Recorded, event notifications.Event) []notifications.Recorded {
	var out []notifications.Recorded
	for _, r := range recorded {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}
