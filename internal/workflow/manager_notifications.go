package workflow

import (
	"context"
	"errors"
	"fmt"

	"inkwell/internal/catalog"
	"inkwell/internal/lifecycle"
	"inkwell/internal/logging"
	"inkwell/internal/notifications"
	"inkwell/internal/services"
	"inkwell/internal/workqueue"
)

// Publish queues a notification for asynchronous delivery. It satisfies
// notifications.Service so other components can hand events to the manager.
func (m *Manager) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	var bookID int64
	if id, ok := services.BookIDFromContext(ctx); ok {
		bookID = id
	}
	unit, err := workqueue.NewUnit(workqueue.QueueNotifications, workqueue.OpNotifyEvent, bookID, 0, notifyPayload{
		Event:   string(event),
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if _, err := m.queue.Enqueue(ctx, unit); err != nil {
		return fmt.Errorf("queue %s notification: %w", event, err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.Publish(ctx, event, payload); err != nil {
		logger := logging.WithContext(ctx, m.logger)
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification not queued")
			return
		}
		logging.WarnWithContext(logger, "notification not queued", "notification_enqueue_failed",
			logging.Error(err),
			logging.String("notification", string(event)),
			logging.String(logging.FieldImpact, "operator will not be notified of this event"),
		)
	}
}

func (m *Manager) handleNotify(ctx context.Context, unit *workqueue.Unit) error {
	var p notifyPayload
	if err := unit.Decode(&p); err != nil {
		return services.Wrap(services.ErrValidation, "notifications", "decode", "", err)
	}
	if err := m.notifier.Publish(ctx, notifications.Event(p.Event), notifications.Payload(p.Payload)); err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "publish", p.Event, err)
	}
	return nil
}

func (m *Manager) onNotifyExhausted(ctx context.Context, unit *workqueue.Unit, cause error) {
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "notification dropped", "notification_failed",
		logging.Error(cause),
		logging.Int("attempts", unit.Attempts),
		logging.String(logging.FieldErrorHint, "check ntfy_topic and network reachability"),
		logging.String(logging.FieldImpact, "operator was not notified of this event"),
	)
}

// onBookTransition reacts to committed book events.
func (m *Manager) onBookTransition(ctx context.Context, book *catalog.Book, event string, _ catalog.BookStatus) {
	ctx = services.WithBookID(ctx, book.ID)
	logger := logging.WithContext(ctx, m.logger)
	switch event {
	case lifecycle.EventStartWriting, lifecycle.EventReturnToWriting:
		if _, err := m.AdmitBook(ctx, book); err != nil {
			logging.WarnWithContext(logger, "immediate admission failed", "admission_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "chapters wait for the next admission sweep"),
			)
		}
	case lifecycle.EventSubmitForQA:
		if err := m.SchedulePreflight(ctx, book.ID); err != nil && !errors.Is(err, workqueue.ErrDuplicate) {
			logging.WarnWithContext(logger, "export preflight not queued", "preflight_enqueue_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "queue it manually with `inkwell book preflight`"),
			)
		}
	case lifecycle.EventApproveForExport:
		m.publish(ctx, notifications.EventExportReady, notifications.Payload{"title": book.Title})
	}
}
