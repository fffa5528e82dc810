package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"inkwell/internal/catalog"
	"inkwell/internal/logging"
	"inkwell/internal/quality"
	"inkwell/internal/services"
)

// Book event names.
const (
	EventStartKeywordResearch       = "start_keyword_research"
	EventApproveKeywords            = "approve_keywords"
	EventStartDescriptionGeneration = "start_description_generation"
	EventApproveDescription         = "approve_description"
	EventStartBibleGeneration       = "start_bible_generation"
	EventApproveBible               = "approve_bible"
	EventStartWriting               = "start_writing"
	EventSubmitForQA                = "submit_for_qa"
	EventReturnToWriting            = "return_to_writing"
	EventApproveForExport           = "approve_for_export"
	EventPublishPrimary             = "publish_primary"
	EventPublishToAll               = "publish_to_all"
	EventArchive                    = "archive"
)

// GuardFunc rejects a transition before any write happens.
type GuardFunc func(book *catalog.Book, th quality.Thresholds) error

// EffectFunc runs inside the transition transaction after the guard passes.
type EffectFunc func(ctx context.Context, tx *catalog.Tx, book *catalog.Book) error

// Event is one row of the book transition table.
type Event struct {
	Name    string
	Sources []catalog.BookStatus
	Target  catalog.BookStatus
	Guard   GuardFunc
	Effect  EffectFunc
}

var bookEvents = []Event{
	{Name: EventStartKeywordResearch, Sources: sources(catalog.BookConceptPending), Target: catalog.BookKeywordResearch},
	{Name: EventApproveKeywords, Sources: sources(catalog.BookKeywordResearch), Target: catalog.BookKeywordApproved},
	{Name: EventStartDescriptionGeneration, Sources: sources(catalog.BookKeywordApproved), Target: catalog.BookDescriptionGeneration},
	{Name: EventApproveDescription, Sources: sources(catalog.BookDescriptionGeneration), Target: catalog.BookDescriptionApproved},
	{Name: EventStartBibleGeneration, Sources: sources(catalog.BookDescriptionApproved), Target: catalog.BookBibleGeneration},
	{Name: EventApproveBible, Sources: sources(catalog.BookBibleGeneration), Target: catalog.BookBibleApproved, Effect: materializeChapters},
	{
		Name:    EventStartWriting,
		Sources: sources(catalog.BookBibleApproved, catalog.BookKeywordApproved, catalog.BookBibleGeneration),
		Target:  catalog.BookWritingInProgress,
		Effect:  releaseChapters,
	},
	{Name: EventSubmitForQA, Sources: sources(catalog.BookWritingInProgress), Target: catalog.BookQAReview},
	{Name: EventReturnToWriting, Sources: sources(catalog.BookQAReview), Target: catalog.BookWritingInProgress},
	{
		Name:    EventApproveForExport,
		Sources: sources(catalog.BookQAReview, catalog.BookWritingInProgress),
		Target:  catalog.BookExportReady,
		Guard:   exportGate,
		Effect:  markPreflightPassed,
	},
	{Name: EventPublishPrimary, Sources: sources(catalog.BookExportReady), Target: catalog.BookPublishedPrimary, Effect: publishPrimary},
	{Name: EventPublishToAll, Sources: sources(catalog.BookPublishedPrimary), Target: catalog.BookPublishedAll},
	{Name: EventArchive, Sources: sources(catalog.BookPublishedPrimary, catalog.BookPublishedAll), Target: catalog.BookArchived},
}

var bookEventIndex = func() map[string]Event {
	m := make(map[string]Event, len(bookEvents))
	for _, ev := range bookEvents {
		m[ev.Name] = ev
	}
	return m
}()

func sources(statuses ...catalog.BookStatus) []catalog.BookStatus { return statuses }

// Events returns the book transition table in pipeline order.
func Events() []Event {
	out := make([]Event, len(bookEvents))
	for i, ev := range bookEvents {
		ev.Sources = slices.Clone(ev.Sources)
		out[i] = ev
	}
	return out
}

// LookupEvent finds a book event by name.
func LookupEvent(name string) (Event, bool) {
	ev, ok := bookEventIndex[strings.ToLower(strings.TrimSpace(name))]
	return ev, ok
}

// AvailableEvents lists the event names that may fire from status.
func AvailableEvents(status catalog.BookStatus) []string {
	var names []string
	for _, ev := range bookEvents {
		if slices.Contains(ev.Sources, status) {
			names = append(names, ev.Name)
		}
	}
	return names
}

// Observer is notified after a book transition commits.
type Observer func(ctx context.Context, book *catalog.Book, event string, from catalog.BookStatus)

// FireOptions tune a single Fire call.
type FireOptions struct {
	// ExpectedVersion, when non-zero, rejects the event if the book changed
	// since the caller last read it.
	ExpectedVersion int64
}

// Machine fires book events against the catalog.
type Machine struct {
	store      *catalog.Store
	thresholds quality.Thresholds
	logger     *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// NewMachine constructs a book state machine.
func NewMachine(store *catalog.Store, thresholds quality.Thresholds, logger *slog.Logger) *Machine {
	return &Machine{
		store:      store,
		thresholds: thresholds,
		logger:     logging.NewComponentLogger(logger, "lifecycle"),
	}
}

// Observe registers fn to run after every committed book transition.
func (m *Machine) Observe(fn Observer) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Fire validates and commits a named event. On any error the book row is
// unchanged.
func (m *Machine) Fire(ctx context.Context, bookID int64, name string, opts FireOptions) (*catalog.Book, error) {
	ev, ok := LookupEvent(name)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "lifecycle", "fire", fmt.Sprintf("unknown event %q", name), nil)
	}
	ctx = services.WithBookID(ctx, bookID)
	logger := logging.WithContext(ctx, m.logger)

	var from catalog.BookStatus
	book, err := m.store.TransitionBook(ctx, bookID, catalog.BookTransition{
		Event:           ev.Name,
		Sources:         ev.Sources,
		Target:          ev.Target,
		ExpectedVersion: opts.ExpectedVersion,
		Apply: func(ctx context.Context, tx *catalog.Tx, book *catalog.Book) error {
			from = book.Status
			if ev.Guard != nil {
				if err := ev.Guard(book, m.thresholds); err != nil {
					return err
				}
			}
			if ev.Effect != nil {
				return ev.Effect(ctx, tx, book)
			}
			return nil
		},
	})
	if err != nil {
		logger.Info("book event rejected",
			logging.Event(ev.Name),
			logging.Error(err),
		)
		return nil, err
	}

	logger.Info("book transitioned",
		logging.Event(ev.Name),
		logging.String("from", string(from)),
		logging.String("to", string(book.Status)),
	)

	m.mu.RLock()
	observers := slices.Clone(m.observers)
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(ctx, book, ev.Name, from)
	}
	return book, nil
}

func exportGate(book *catalog.Book, th quality.Thresholds) error {
	return quality.Evaluate(quality.InputFromBook(book), th).Err(book.ID)
}

func markPreflightPassed(_ context.Context, _ *catalog.Tx, book *catalog.Book) error {
	book.PreflightPassed = true
	return nil
}

func materializeChapters(ctx context.Context, tx *catalog.Tx, book *catalog.Book) error {
	_, err := tx.EnsureChapters(ctx, book.ID, book.TargetChapterCount)
	return err
}

// releaseChapters creates any missing chapters (writing may start before a
// bible exists) and hands every pending chapter to admission.
func releaseChapters(ctx context.Context, tx *catalog.Tx, book *catalog.Book) error {
	if err := materializeChapters(ctx, tx, book); err != nil {
		return err
	}
	_, err := tx.MoveChapters(ctx, book.ID, catalog.ChapterPending, catalog.ChapterReadyToWrite)
	return err
}

func publishPrimary(ctx context.Context, tx *catalog.Tx, book *catalog.Book) error {
	if book.PublishedAt == nil {
		now := tx.Now()
		book.PublishedAt = &now
	}
	_, err := tx.MoveChapters(ctx, book.ID, catalog.ChapterApproved, catalog.ChapterPublished)
	return err
}
