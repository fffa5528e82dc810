package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/services"
)

// Named queues.
const (
	QueueContent       = "content"
	QueueQuality       = "quality"
	QueueExport        = "export"
	QueueNotifications = "notifications"
)

// Queues lists every named queue in lane order.
func Queues() []string {
	return []string{QueueContent, QueueQuality, QueueExport, QueueNotifications}
}

// Operations dispatched by the orchestrator.
const (
	OpChapterGenerate      = "chapter.generate"
	OpChapterRewrite       = "chapter.rewrite"
	OpBookConsistencyCheck = "book.consistency_check"
	OpChapterQualityScore  = "chapter.quality_score"
	OpBookExportPreflight  = "book.export_preflight"
	OpNotifyEvent          = "notify.event"
)

// Status is the storage state of a unit.
type Status string

const (
	StatusPending Status = "pending"
	StatusLeased  Status = "leased"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Live reports whether the unit still occupies its dedupe key.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusLeased
}

// ErrDuplicate is returned by Enqueue when a live unit already holds the
// dedupe key. The existing unit is returned alongside it.
var ErrDuplicate = errors.New("duplicate work unit")

// ErrNotLeased is returned when completing or extending a unit that is not
// currently leased.
var ErrNotLeased = errors.New("work unit not leased")

// Unit is one dispatched piece of work.
type Unit struct {
	ID          string
	Queue       string
	Operation   string
	BookID      int64
	EntityID    int64
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
	LeaseUntil  *time.Time
	LastError   string
	Status      Status
	DedupeKey   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exhausted reports whether the unit has used all of its deliveries.
func (u *Unit) Exhausted() bool {
	return u.MaxAttempts > 0 && u.Attempts >= u.MaxAttempts
}

// Decode unmarshals the payload into v.
func (u *Unit) Decode(v any) error {
	if len(u.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(u.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", u.Operation, err)
	}
	return nil
}

// NewUnit builds a pending unit with a fresh ID and encoded payload.
func NewUnit(queue, operation string, bookID, entityID int64, payload any) (Unit, error) {
	unit := Unit{
		ID:        uuid.NewString(),
		Queue:     strings.TrimSpace(queue),
		Operation: strings.TrimSpace(operation),
		BookID:    bookID,
		EntityID:  entityID,
		Status:    StatusPending,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Unit{}, fmt.Errorf("encode %s payload: %w", operation, err)
		}
		unit.Payload = raw
	}
	return unit, nil
}

// DedupeKeyFor formats the conventional dedupe key for an entity.
func DedupeKeyFor(scope string, entityID int64) string {
	return fmt.Sprintf("%s:%d", scope, entityID)
}

func (u *Unit) normalize(now time.Time, defaultMax int) error {
	if u.Queue == "" || u.Operation == "" {
		return services.Wrap(services.ErrValidation, "workqueue", "enqueue", "work unit requires queue and operation", nil)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.MaxAttempts <= 0 {
		u.MaxAttempts = defaultMax
	}
	if u.NotBefore.IsZero() {
		u.NotBefore = now
	}
	u.Status = StatusPending
	u.Attempts = 0
	u.LeaseUntil = nil
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// QueueStats counts units per status in one queue.
type QueueStats struct {
	Pending int
	Leased  int
	Done    int
	Failed  int
}

// ReclaimResult reports what ReclaimExpired did with expired leases.
type ReclaimResult struct {
	Requeued int
	// Failed holds units whose lease expired on their final delivery. They are
	// marked failed and the caller owns the exhaustion handling.
	Failed []Unit
}

// Queue is the work-unit store consumed by the orchestrator.
type Queue interface {
	Enqueue(ctx context.Context, unit Unit) (Unit, error)
	// Claim leases the next eligible unit in queue, incrementing its attempt
	// counter. It returns nil when nothing is ready.
	Claim(ctx context.Context, queue string, lease time.Duration) (*Unit, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, notBefore time.Time, lastErr string) error
	Fail(ctx context.Context, id string, lastErr string) error
	Heartbeat(ctx context.Context, id string, lease time.Duration) error
	ReclaimExpired(ctx context.Context) (ReclaimResult, error)
	Get(ctx context.Context, id string) (*Unit, error)
	// CountLive counts pending and leased units for a book in queue.
	CountLive(ctx context.Context, queue string, bookID int64) (int, error)
	Stats(ctx context.Context) (map[string]QueueStats, error)
	Close() error
}
