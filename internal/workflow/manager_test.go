package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/services"
	"inkwell/internal/services/llm"
	"inkwell/internal/testsupport"
	"inkwell/internal/workflow"
	"inkwell/internal/workqueue"
)

func transient(msg string) error {
	return &services.ProviderError{Provider: "llm", Operation: "generate", Transient: true, Err: errors.New(msg)}
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := workflow.NewManager(&config.Config{}, workflow.Deps{}, logging.NewNop())
	require.ErrorIs(t, err, services.ErrConfiguration)
}

func TestGenerationWritesChapterAndQueuesScoring(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithAdmissionCap(1)})
	ctx := context.Background()
	book := h.startWriting(t, "Tidewater", 2)

	require.Equal(t, 1, h.stats(t, workqueue.QueueContent).Pending)
	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))

	ch := h.chapter(t, book.ID, 1)
	require.Equal(t, catalog.ChapterPendingQA, ch.Status)
	require.Equal(t, "fake", ch.GenerationModel)
	require.Equal(t, int64(2), ch.GenerationTokensUsed)
	require.Equal(t, 1, ch.GenerationAttempts)
	require.Empty(t, ch.ClaimToken)

	reqs := h.gen.Requests()
	require.Len(t, reqs, 1)
	require.Contains(t, reqs[0].System, "mystery")
	require.Contains(t, reqs[0].Prompt, "This is the first chapter.")
	require.Equal(t, h.cfg.LLM.WriteTemperature, reqs[0].Temperature)

	require.Equal(t, 1, h.drain(t, workqueue.QueueQuality))
	ch = h.chapter(t, book.ID, 1)
	require.NotNil(t, ch.AIDetectionScore)
	require.InDelta(t, 5, *ch.AIDetectionScore, 0.001)
	require.NotNil(t, ch.PlagiarismScore)
	require.InDelta(t, 1, *ch.PlagiarismScore, 0.001)

	admitted, err := h.mgr.AdmitChapters(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted)
	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	reqs = h.gen.Requests()
	require.Len(t, reqs, 2)
	require.Contains(t, reqs[1].Prompt, "Previous Chapter Excerpt")
	require.NotContains(t, reqs[1].Prompt, "This is the first chapter.")
}

func TestGenerationWithoutScorerSkipsScoring(t *testing.T) {
	h := newHarness(t, nil, withoutScorer())
	h.startWriting(t, "Unscored", 1)

	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	require.Zero(t, h.stats(t, workqueue.QueueQuality).Pending)
}

func TestTransientFailuresExhaustIntoGenerationFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.Respond = func(llm.Request) (llm.Generation, error) {
		return llm.Generation{}, transient("503 upstream")
	}
	book := h.startWriting(t, "Storm", 1)

	require.Equal(t, 3, h.drain(t, workqueue.QueueContent))
	require.Len(t, h.gen.Requests(), 3, "default max_unit_attempts bounds provider calls")

	ch := h.chapter(t, book.ID, 1)
	require.Equal(t, catalog.ChapterGenerationFailed, ch.Status)
	require.Contains(t, ch.LastError, "503 upstream")
	require.Empty(t, ch.ClaimToken)

	stats := h.stats(t, workqueue.QueueContent)
	require.Equal(t, 1, stats.Failed)
	require.Zero(t, stats.Pending)

	require.Equal(t, 1, h.drain(t, workqueue.QueueNotifications))
	failed := eventsOf(h.notes.Events(), notifications.EventGenerationFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "Storm", failed[0].Payload["title"])
	require.EqualValues(t, 1, failed[0].Payload["chapter"])
	require.EqualValues(t, 3, failed[0].Payload["attempts"])

	admitted, err := h.mgr.AdmitChapters(context.Background())
	require.NoError(t, err)
	require.Zero(t, admitted, "parked chapters wait for an explicit requeue")

	_, err = h.chapters.Requeue(context.Background(), ch.ID)
	require.NoError(t, err)
	h.gen.Respond = nil
	admitted, err = h.mgr.AdmitChapters(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, admitted)
	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	require.Equal(t, catalog.ChapterPendingQA, h.chapter(t, book.ID, 1).Status)
}

func TestPermanentFailureParksWithoutRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.PushError(&services.ProviderError{Provider: "llm", Operation: "generate", Err: errors.New("400 bad request")})
	book := h.startWriting(t, "Brittle", 1)

	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	require.Len(t, h.gen.Requests(), 1)
	require.Equal(t, catalog.ChapterGenerationFailed, h.chapter(t, book.ID, 1).Status)
}

func TestTransientFailureRecoversOnRedelivery(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithMaxUnitAttempts(2)})
	h.gen.PushError(transient("timeout"))
	book := h.startWriting(t, "Second Wind", 1)

	require.Equal(t, 2, h.drain(t, workqueue.QueueContent))
	ch := h.chapter(t, book.ID, 1)
	require.Equal(t, catalog.ChapterPendingQA, ch.Status)
	require.Equal(t, 1, ch.GenerationAttempts)
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	book := h.startWriting(t, "Twice Told", 1)
	ch := h.chapter(t, book.ID, 1)

	_, err := h.chapters.Claim(ctx, ch.ID, "another-unit")
	require.NoError(t, err)

	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	require.Empty(t, h.gen.Requests())
	require.Equal(t, 1, h.stats(t, workqueue.QueueContent).Done)

	ch = h.chapter(t, book.ID, 1)
	require.Equal(t, catalog.ChapterWriting, ch.Status)
	require.Equal(t, "another-unit", ch.ClaimToken)
}

func TestRejectQueuesRewriteWithFeedback(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	book := h.startWriting(t, "Redraft", 1)
	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	ch := h.chapter(t, book.ID, 1)

	_, err := h.chapters.Reject(ctx, ch.ID, "pacing drags in the middle")
	require.NoError(t, err)
	require.Equal(t, 1, h.stats(t, workqueue.QueueContent).Pending)

	admitted, err := h.mgr.AdmitChapters(ctx)
	require.NoError(t, err)
	require.Zero(t, admitted, "rewrite already live")

	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	reqs := h.gen.Requests()
	require.Len(t, reqs, 2)
	require.Contains(t, reqs[1].Prompt, "pacing drags in the middle")
	require.Equal(t, h.cfg.LLM.RewriteTemperature, reqs[1].Temperature)

	ch = h.chapter(t, book.ID, 1)
	require.Equal(t, catalog.ChapterPendingQA, ch.Status)
	require.Equal(t, 2, ch.GenerationAttempts)
}

func TestAdmissionRecoversUnscheduledRewrite(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	book := h.startWriting(t, "Recovered", 1)
	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))

	h.chapters.SetRewriteScheduler(nil)
	_, err := h.chapters.Reject(ctx, h.chapter(t, book.ID, 1).ID, "tighten dialogue")
	require.NoError(t, err)
	require.Zero(t, h.stats(t, workqueue.QueueContent).Pending)

	admitted, err := h.mgr.AdmitChapters(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted)
}

func TestConsistencyCheckRunsAtMilestone(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithConsistencyEvery(2)})
	ctx := context.Background()
	h.gen.Respond = func(req llm.Request) (llm.Generation, error) {
		if strings.Contains(req.System, "continuity editor") {
			return llm.Generation{
				Text:  "```json\n{\"issues\": [{\"chapter\": 2, \"type\": \"Timeline\", \"description\": \"Tuesday became Friday overnight.\"}]}\n```",
				Model: "fake",
			}, nil
		}
		return llm.Generation{Text: testsupport.Words(40), Model: "fake"}, nil
	}
	book := h.startWriting(t, "Continuity", 3)

	require.Equal(t, 3, h.drain(t, workqueue.QueueContent))
	before := h.chapterStatuses(t, book.ID)

	// three quality scores plus one consistency check for milestone 2
	require.Equal(t, 4, h.drain(t, workqueue.QueueQuality))

	reports, err := h.store.ListConsistencyReports(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, 2, reports[0].ChaptersChecked)
	require.Len(t, reports[0].Issues, 1)
	require.Equal(t, "timeline", reports[0].Issues[0].Type)
	require.Equal(t, before, h.chapterStatuses(t, book.ID))

	var checks int
	for _, req := range h.gen.Requests() {
		if strings.Contains(req.System, "continuity editor") {
			checks++
			require.InDelta(t, 0.2, req.Temperature, 1e-9)
		}
	}
	require.Equal(t, 1, checks)

	require.Equal(t, 1, h.drain(t, workqueue.QueueNotifications))
	issues := eventsOf(h.notes.Events(), notifications.EventConsistencyIssues)
	require.Len(t, issues, 1)
	require.EqualValues(t, 1, issues[0].Payload["issues"])
}

func TestSubmitForQAQueuesPreflight(t *testing.T) {
	h := newHarness(t, nil, withScorer(scoringPair(12, 1.5)))
	ctx := context.Background()
	book := h.startWriting(t, "Gatekeeper", 1)
	require.Equal(t, 1, h.drain(t, workqueue.QueueContent))
	_, err := h.chapters.Approve(ctx, h.chapter(t, book.ID, 1).ID)
	require.NoError(t, err)

	_, err = h.books.Fire(ctx, book.ID, "submit_for_qa", lifecycleOpts())
	require.NoError(t, err)
	require.Equal(t, 1, h.stats(t, workqueue.QueueExport).Pending)
	require.Equal(t, 1, h.drain(t, workqueue.QueueExport))

	book, err = h.store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.NotNil(t, book.AIDetectionScore)
	require.InDelta(t, 12, *book.AIDetectionScore, 0.001)
	require.NotNil(t, book.PlagiarismScore)
	require.InDelta(t, 1.5, *book.PlagiarismScore, 0.001)
	require.False(t, book.PreflightPassed)
}

func TestPublishQueuesNotification(t *testing.T) {
	h := newHarness(t, nil)
	ctx := services.WithBookID(context.Background(), 42)

	require.NoError(t, h.mgr.Publish(ctx, notifications.EventTest, notifications.Payload{"message": "hello"}))
	require.Empty(t, h.notes.Events())
	require.Equal(t, 1, h.drain(t, workqueue.QueueNotifications))

	events := h.notes.Events()
	require.Len(t, events, 1)
	require.Equal(t, notifications.EventTest, events[0].Event)
	require.Equal(t, "hello", events[0].Payload["message"])
}

func TestStartProcessesUntilStopped(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.mgr.Start(ctx))
	require.Error(t, h.mgr.Start(ctx), "second start must fail")
	require.True(t, h.mgr.Status(ctx).Running)

	book := h.startWriting(t, "Background", 2)
	require.Eventually(t, func() bool {
		for _, status := range h.chapterStatuses(t, book.ID) {
			if status != catalog.ChapterPendingQA {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	h.mgr.Stop()
	status := h.mgr.Status(context.Background())
	require.False(t, status.Running)
	require.GreaterOrEqual(t, status.Processed["done"], 2)
}
