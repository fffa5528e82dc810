package workflow

import (
	"context"

	"inkwell/internal/workqueue"
)

// unitHandler executes one operation. onExhausted runs once the unit has
// failed terminally, either on its last attempt or on a non-retryable error.
type unitHandler struct {
	run         func(ctx context.Context, unit *workqueue.Unit) error
	onExhausted func(ctx context.Context, unit *workqueue.Unit, cause error)
}

type laneSpec struct {
	queue   string
	workers int
}

type chapterPayload struct {
	ChapterID int64 `json:"chapter_id"`
	Number    int   `json:"number"`
}

type consistencyPayload struct {
	Milestone int `json:"milestone"`
}

type notifyPayload struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}
