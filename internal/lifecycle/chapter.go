package lifecycle

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"inkwell/internal/catalog"
	"inkwell/internal/logging"
	"inkwell/internal/services"
)

// Chapter event names.
const (
	ChapterEventMarkReady        = "mark_ready_to_write"
	ChapterEventClaim            = "claim"
	ChapterEventMarkWritten      = "mark_written"
	ChapterEventApprove          = "approve"
	ChapterEventReject           = "reject"
	ChapterEventGenerationFailed = "mark_generation_failed"
	ChapterEventRequeue          = "requeue"
	ChapterEventPublish          = "publish"
	ChapterEventSetContent       = "set_content"
)

var reviewableStatuses = []catalog.ChapterStatus{
	catalog.ChapterWritten,
	catalog.ChapterPendingQA,
	catalog.ChapterApproved,
}

// RewriteScheduler queues a regeneration for a rejected chapter.
type RewriteScheduler interface {
	ScheduleRewrite(ctx context.Context, chapter *catalog.Chapter) error
}

// Written is the output of a successful generation.
type Written struct {
	Content    string
	Model      string
	TokensUsed int64
	CostUSD    float64
}

// Chapters runs chapter transitions against the catalog.
type Chapters struct {
	store    *catalog.Store
	rewrites RewriteScheduler
	logger   *slog.Logger
}

// NewChapters constructs the chapter state machine. rewrites may be nil, in
// which case rejected chapters wait for the admission sweep.
func NewChapters(store *catalog.Store, rewrites RewriteScheduler, logger *slog.Logger) *Chapters {
	return &Chapters{
		store:    store,
		rewrites: rewrites,
		logger:   logging.NewComponentLogger(logger, "chapters"),
	}
}

// SetRewriteScheduler attaches the scheduler once the orchestrator exists.
func (c *Chapters) SetRewriteScheduler(s RewriteScheduler) {
	c.rewrites = s
}

func (c *Chapters) apply(ctx context.Context, id int64, t catalog.ChapterTransition) (*catalog.Chapter, error) {
	ch, changed, err := c.store.TransitionChapter(ctx, id, t)
	if err != nil {
		return nil, err
	}
	if changed {
		logging.WithContext(services.WithChapterID(ctx, id), c.logger).Debug("chapter transitioned",
			logging.BookID(ch.BookID),
			logging.Int(logging.FieldChapterNumber, ch.Number),
			logging.Event(t.Event),
			logging.String("to", string(ch.Status)),
		)
	}
	return ch, nil
}

// MarkReadyToWrite moves a pending chapter to admission. Repeating the call
// on a ready chapter is a no-op.
func (c *Chapters) MarkReadyToWrite(ctx context.Context, id int64) (*catalog.Chapter, error) {
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:    ChapterEventMarkReady,
		Sources:  []catalog.ChapterStatus{catalog.ChapterPending},
		Target:   catalog.ChapterReadyToWrite,
		NoopFrom: []catalog.ChapterStatus{catalog.ChapterReadyToWrite},
	})
}

// Claim takes the exclusive generation claim for token. A chapter already
// writing under the same token is resumed; any other token conflicts.
func (c *Chapters) Claim(ctx context.Context, id int64, token string) (*catalog.Chapter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.Wrap(services.ErrValidation, "chapters", "claim", "claim token is required", nil)
	}
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event: ChapterEventClaim,
		Sources: []catalog.ChapterStatus{
			catalog.ChapterReadyToWrite,
			catalog.ChapterRejected,
			catalog.ChapterWriting,
		},
		Target: catalog.ChapterWriting,
		Apply: func(ch *catalog.Chapter) error {
			if ch.Status == catalog.ChapterWriting && ch.ClaimToken != token {
				return &services.ConcurrencyConflictError{Entity: "chapter", ID: ch.ID, Expected: "unclaimed"}
			}
			ch.ClaimToken = token
			ch.LastError = ""
			return nil
		},
	})
}

// MarkWritten records generated content and hands the chapter to review.
func (c *Chapters) MarkWritten(ctx context.Context, id int64, token string, w Written) (*catalog.Chapter, error) {
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventMarkWritten,
		Sources: []catalog.ChapterStatus{catalog.ChapterWriting},
		Target:  catalog.ChapterPendingQA,
		Apply: func(ch *catalog.Chapter) error {
			if token != "" && ch.ClaimToken != token {
				return &services.ConcurrencyConflictError{Entity: "chapter", ID: ch.ID, Expected: "claim " + token}
			}
			ch.Content = norm.NFC.String(w.Content)
			ch.GenerationModel = w.Model
			ch.GenerationTokensUsed = w.TokensUsed
			ch.GenerationCostUSD = w.CostUSD
			ch.GenerationAttempts++
			ch.ClaimToken = ""
			ch.LastError = ""
			return nil
		},
	})
}

// Approve accepts a reviewed chapter.
func (c *Chapters) Approve(ctx context.Context, id int64) (*catalog.Chapter, error) {
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventApprove,
		Sources: []catalog.ChapterStatus{catalog.ChapterPendingQA, catalog.ChapterWritten},
		Target:  catalog.ChapterApproved,
		Apply: func(ch *catalog.Chapter) error {
			now := c.store.Now()
			ch.QAReviewedAt = &now
			return nil
		},
	})
}

// Reject records reviewer notes and schedules a rewrite.
func (c *Chapters) Reject(ctx context.Context, id int64, notes string) (*catalog.Chapter, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, services.Wrap(services.ErrValidation, "chapters", "reject", "rejection notes are required", nil)
	}
	ch, err := c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventReject,
		Sources: reviewableStatuses,
		Target:  catalog.ChapterRejected,
		Apply: func(ch *catalog.Chapter) error {
			now := c.store.Now()
			ch.QANotes = notes
			ch.QAReviewedAt = &now
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if c.rewrites != nil {
		if err := c.rewrites.ScheduleRewrite(ctx, ch); err != nil {
			logging.WarnWithContext(logging.WithContext(services.WithChapterID(ctx, id), c.logger),
				"rewrite not scheduled", "rewrite_schedule_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the admission sweep will pick the chapter up"),
				logging.String(logging.FieldImpact, "rewrite delayed until next admission sweep"),
			)
		}
	}
	return ch, nil
}

// MarkGenerationFailed parks a chapter whose generation retries are exhausted.
// A non-empty token must match the current claim of a writing chapter.
func (c *Chapters) MarkGenerationFailed(ctx context.Context, id int64, token, reason string) (*catalog.Chapter, error) {
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventGenerationFailed,
		Sources: []catalog.ChapterStatus{catalog.ChapterWriting, catalog.ChapterReadyToWrite, catalog.ChapterRejected},
		Target:  catalog.ChapterGenerationFailed,
		Apply: func(ch *catalog.Chapter) error {
			if token != "" && ch.Status == catalog.ChapterWriting && ch.ClaimToken != token {
				return &services.ConcurrencyConflictError{Entity: "chapter", ID: ch.ID, Expected: "claim " + token}
			}
			ch.LastError = strings.TrimSpace(reason)
			if ch.LastError == "" {
				ch.LastError = "generation retries exhausted"
			}
			ch.ClaimToken = ""
			return nil
		},
	})
}

// Requeue returns a failed chapter to admission.
func (c *Chapters) Requeue(ctx context.Context, id int64) (*catalog.Chapter, error) {
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventRequeue,
		Sources: []catalog.ChapterStatus{catalog.ChapterGenerationFailed},
		Target:  catalog.ChapterReadyToWrite,
		Apply: func(ch *catalog.Chapter) error {
			ch.LastError = ""
			return nil
		},
	})
}

// Publish marks an approved chapter as published.
func (c *Chapters) Publish(ctx context.Context, id int64) (*catalog.Chapter, error) {
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventPublish,
		Sources: []catalog.ChapterStatus{catalog.ChapterApproved},
		Target:  catalog.ChapterPublished,
	})
}

// SetContent replaces chapter text by hand without changing its status.
func (c *Chapters) SetContent(ctx context.Context, id int64, content string) (*catalog.Chapter, error) {
	current, err := c.store.GetChapter(ctx, id)
	if err != nil {
		return nil, err
	}
	editable := []catalog.ChapterStatus{catalog.ChapterWritten, catalog.ChapterPendingQA, catalog.ChapterRejected}
	return c.apply(ctx, id, catalog.ChapterTransition{
		Event:   ChapterEventSetContent,
		Sources: editable,
		Target:  current.Status,
		Apply: func(ch *catalog.Chapter) error {
			if ch.Status != current.Status {
				return &services.ConcurrencyConflictError{Entity: "chapter", ID: id, Expected: string(current.Status)}
			}
			ch.Content = norm.NFC.String(content)
			return nil
		},
	})
}
