package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inkwell/internal/catalog"
	"inkwell/internal/lifecycle"
	"inkwell/internal/logging"
	"inkwell/internal/metrics"
	"inkwell/internal/notifications"
	"inkwell/internal/quality"
	"inkwell/internal/services"
	"inkwell/internal/services/llm"
	"inkwell/internal/workqueue"
)

// handleChapterGeneration serves both chapter.generate and chapter.rewrite.
// The unit ID is the claim token, so a redelivered unit resumes its own claim
// while a second unit for the same chapter is dropped.
func (m *Manager) handleChapterGeneration(ctx context.Context, unit *workqueue.Unit) error {
	ctx = services.WithChapterID(ctx, unit.EntityID)
	logger := logging.WithContext(ctx, m.logger)

	ch, err := m.chapters.Claim(ctx, unit.EntityID, unit.ID)
	if err != nil {
		if isStaleDelivery(err) {
			metrics.ChapterTransitionsTotal.WithLabelValues(lifecycle.ChapterEventClaim, metrics.ResultRejected).Inc()
			logger.Debug("duplicate delivery dropped", logging.Error(err))
			return nil
		}
		return err
	}
	book, err := m.store.GetBook(ctx, ch.BookID)
	if err != nil {
		return err
	}

	var req llm.Request
	if unit.Operation == workqueue.OpChapterRewrite {
		req = m.rewriteRequest(book, ch)
	} else {
		req = m.writeRequest(book, ch, m.previousExcerpt(ctx, ch))
	}
	gen, err := m.generate(ctx, unit.Operation, req)
	if err != nil {
		return err
	}

	written, err := m.chapters.MarkWritten(ctx, ch.ID, unit.ID, lifecycle.Written{
		Content:    gen.Text,
		Model:      gen.Model,
		TokensUsed: gen.TokensUsed(),
		CostUSD:    gen.CostUSD,
	})
	if err != nil {
		if isStaleDelivery(err) {
			logging.WarnWithContext(logger, "generated text discarded; chapter changed during generation", "stale_completion",
				logging.Error(err),
				logging.String(logging.FieldImpact, "generation cost spent without a stored result"),
			)
			return nil
		}
		return err
	}
	logger.Info("chapter written",
		logging.String(logging.FieldEventType, "chapter_written"),
		logging.Int(logging.FieldChapterNumber, written.Number),
		logging.Int("word_count", written.WordCount),
		logging.String("model", written.GenerationModel),
		logging.Int64("tokens", written.GenerationTokensUsed),
		logging.Float64("cost_usd", written.GenerationCostUSD),
		logging.Int("attempts", written.GenerationAttempts),
	)
	m.scheduleQualityScore(ctx, written)
	m.scheduleConsistency(ctx, written.BookID)
	return nil
}

func (m *Manager) previousExcerpt(ctx context.Context, ch *catalog.Chapter) string {
	if ch.Number <= 1 {
		return ""
	}
	prev, err := m.store.GetChapterByNumber(ctx, ch.BookID, ch.Number-1)
	if err != nil || prev == nil {
		return ""
	}
	return lastWords(prev.Content, previousExcerptWords)
}

// onGenerationExhausted parks the chapter in generation_failed so it never
// sits in writing without an owner.
func (m *Manager) onGenerationExhausted(ctx context.Context, unit *workqueue.Unit, cause error) {
	ctx = services.WithChapterID(ctx, unit.EntityID)
	logger := logging.WithContext(ctx, m.logger)
	reason := fmt.Sprintf("%s failed after %d attempts: %v", unit.Operation, unit.Attempts, cause)

	ch, err := m.chapters.MarkGenerationFailed(ctx, unit.EntityID, unit.ID, reason)
	if err != nil {
		if isStaleDelivery(err) {
			logger.Debug("chapter not owned by exhausted unit; left unchanged", logging.Error(err))
			return
		}
		logger.Error("failed to park chapter after exhausted retries",
			logging.Error(err),
			logging.String(logging.FieldEventType, "generation_failed_persist"),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
		return
	}
	metrics.GenerationFailuresTotal.Inc()
	logging.ErrorWithContext(logger, "chapter generation failed; retries exhausted", "generation_failed",
		logging.Error(cause),
		logging.Int(logging.FieldChapterNumber, ch.Number),
		logging.Int("attempts", unit.Attempts),
		logging.Alert("generation_failed"),
		logging.String(logging.FieldErrorHint, "resolve the provider problem, then run `inkwell chapter requeue`"),
	)

	title := ""
	if book, err := m.store.GetBook(ctx, ch.BookID); err == nil {
		title = book.Title
	}
	m.publish(ctx, notifications.EventGenerationFailed, notifications.Payload{
		"title":    title,
		"chapter":  ch.Number,
		"attempts": unit.Attempts,
		"error":    cause.Error(),
	})
}

func (m *Manager) handleChapterQuality(ctx context.Context, unit *workqueue.Unit) error {
	if m.scorer == nil {
		return nil
	}
	ctx = services.WithChapterID(ctx, unit.EntityID)
	ch, err := m.store.GetChapter(ctx, unit.EntityID)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(ch.Content) == "" {
		return nil
	}
	ai, plag, err := m.score(ctx, ch.Content)
	if err != nil {
		return err
	}
	if err := m.store.SetChapterScores(ctx, ch.ID, &ai, &plag); err != nil {
		return err
	}
	logger := logging.WithContext(ctx, m.logger)
	if warnings := quality.ScoreWarnings(ai, plag, m.thresholds); len(warnings) > 0 {
		logging.WarnWithContext(logger, "chapter quality scores above threshold", "quality_warning",
			logging.Int(logging.FieldChapterNumber, ch.Number),
			logging.Float64("ai_score", ai),
			logging.Float64("plagiarism_score", plag),
			logging.String("warnings", strings.Join(warnings, "; ")),
			logging.String(logging.FieldErrorHint, "review or reject the chapter before export"),
			logging.String(logging.FieldImpact, "the export gate fails if the manuscript scores stay high"),
		)
		return nil
	}
	logger.Debug("chapter scored", logging.Float64("ai_score", ai), logging.Float64("plagiarism_score", plag))
	return nil
}

func (m *Manager) handleExportPreflight(ctx context.Context, unit *workqueue.Unit) error {
	if m.scorer == nil {
		return nil
	}
	logger := logging.WithContext(ctx, m.logger)
	chapters, err := m.store.ListChapters(ctx, unit.BookID, 0)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		if text := strings.TrimSpace(ch.Content); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return services.Wrap(services.ErrValidation, "workflow", "preflight", "book has no chapter content", nil)
	}
	ai, plag, err := m.score(ctx, strings.Join(parts, "\n\n"))
	if err != nil {
		return err
	}
	book, err := m.store.UpdateBookScores(ctx, unit.BookID, &ai, &plag)
	if err != nil {
		return err
	}
	result := quality.Evaluate(quality.InputFromBook(book), m.thresholds)
	if result.Passed {
		metrics.QualityGateTotal.WithLabelValues("passed").Inc()
		logger.Info("export preflight passed",
			logging.String(logging.FieldEventType, "preflight_passed"),
			logging.Float64("ai_score", ai),
			logging.Float64("plagiarism_score", plag),
		)
		return nil
	}
	metrics.QualityGateTotal.WithLabelValues("failed").Inc()
	codes := make([]string, 0, len(result.Failures))
	for _, f := range result.Failures {
		codes = append(codes, f.Code)
	}
	logging.WarnWithContext(logger, "export preflight found unmet conditions", "preflight_failed",
		logging.Float64("ai_score", ai),
		logging.Float64("plagiarism_score", plag),
		logging.String("failures", strings.Join(codes, ",")),
		logging.String(logging.FieldErrorHint, "revise chapters or complete the checklist before approve_for_export"),
		logging.String(logging.FieldImpact, "approve_for_export will be rejected"),
	)
	return nil
}

// handleConsistencyCheck is advisory: it stores a report and never changes
// book or chapter state.
func (m *Manager) handleConsistencyCheck(ctx context.Context, unit *workqueue.Unit) error {
	var p consistencyPayload
	if err := unit.Decode(&p); err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "consistency", "", err)
	}
	book, err := m.store.GetBook(ctx, unit.BookID)
	if err != nil {
		return err
	}
	chapters, err := m.store.ListChapters(ctx, book.ID, 0,
		catalog.ChapterWritten, catalog.ChapterPendingQA, catalog.ChapterApproved, catalog.ChapterPublished)
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return nil
	}
	// Earlier milestones already covered the opening chapters.
	if len(chapters) > consistencyChapters {
		chapters = chapters[len(chapters)-consistencyChapters:]
	}

	gen, err := m.generate(ctx, unit.Operation, consistencyRequest(book, chapters))
	if err != nil {
		return err
	}
	issues, err := parseIssues(gen.Text)
	if err != nil {
		return &services.ProviderError{Provider: "llm", Operation: "consistency", Transient: true, Err: err}
	}
	milestone := p.Milestone
	if milestone <= 0 {
		milestone = len(chapters)
	}
	report, err := m.store.InsertConsistencyReport(ctx, catalog.ConsistencyReport{
		BookID:          book.ID,
		ChaptersChecked: milestone,
		Issues:          issues,
		Model:           gen.Model,
	})
	if err != nil {
		return err
	}

	logger := logging.WithContext(ctx, m.logger)
	if len(issues) == 0 {
		logger.Info("consistency check passed", logging.Int("milestone", milestone))
		return nil
	}
	metrics.ConsistencyIssuesTotal.Add(float64(len(issues)))
	logging.WarnWithContext(logger, "consistency issues found", "consistency_issues",
		logging.Int("issues", len(issues)),
		logging.Int64("report_id", report.ID),
		logging.Int("milestone", milestone),
		logging.String(logging.FieldErrorHint, "review the report with `inkwell book consistency`"),
		logging.String(logging.FieldImpact, "advisory only; no transition is blocked"),
	)
	m.publish(ctx, notifications.EventConsistencyIssues, notifications.Payload{
		"title":   book.Title,
		"issues":  len(issues),
		"chapter": milestone,
	})
	return nil
}

func parseIssues(text string) ([]catalog.ConsistencyIssue, error) {
	var wrapped struct {
		Issues []catalog.ConsistencyIssue `json:"issues"`
	}
	if err := llm.DecodeLLMJSON(text, &wrapped); err == nil {
		return normalizeIssues(wrapped.Issues), nil
	}
	var bare []catalog.ConsistencyIssue
	if err := llm.DecodeLLMJSON(text, &bare); err != nil {
		return nil, fmt.Errorf("parse consistency issues: %w", err)
	}
	return normalizeIssues(bare), nil
}

func normalizeIssues(issues []catalog.ConsistencyIssue) []catalog.ConsistencyIssue {
	out := make([]catalog.ConsistencyIssue, 0, len(issues))
	for _, issue := range issues {
		issue.Type = strings.ToLower(strings.TrimSpace(issue.Type))
		issue.Description = strings.TrimSpace(issue.Description)
		if issue.Description == "" {
			continue
		}
		out = append(out, issue)
	}
	return out
}
