package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"inkwell/internal/config"
)

const userAgent = "Inkwell-Go/0.1.0"

// Event identifies a pipeline milestone.
type Event string

const (
	EventExportReady        Event = "export_ready"
	EventGenerationFailed   Event = "generation_failed"
	EventPriceChanged       Event = "price_changed"
	EventPromotionScheduled Event = "promotion_scheduled"
	EventConsistencyIssues  Event = "consistency_issues"
	EventTest               Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventExportReady:        cfg.Notifications.ExportReady,
			EventGenerationFailed:   cfg.Notifications.GenerationFailed,
			EventPriceChanged:       cfg.Notifications.Pricing,
			EventPromotionScheduled: cfg.Notifications.Pricing,
			EventConsistencyIssues:  cfg.Notifications.Consistency,
			EventTest:               true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	title := p.str("title")
	switch event {
	case EventExportReady:
		return message{
			title:    "Inkwell - Export Ready",
			body:     fmt.Sprintf("📦 Ready for export: %s", title),
			tags:     []string{"inkwell", "export", "ready"},
			priority: "high",
		}, true
	case EventGenerationFailed:
		body := fmt.Sprintf("❌ Chapter %s of %s failed after %s attempts", p.str("chapter"), title, p.str("attempts"))
		if reason := p.str("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "Inkwell - Generation Failed",
			body:     body,
			tags:     []string{"inkwell", "chapter", "alert"},
			priority: "high",
		}, true
	case EventPriceChanged:
		body := fmt.Sprintf("💲 %s: %s → %s at $%s", title, p.str("from"), p.str("to"), p.str("price"))
		if reason := p.str("reason"); reason != "" {
			body += fmt.Sprintf(" (%s)", reason)
		}
		return message{
			title: "Inkwell - Price Changed",
			body:  body,
			tags:  []string{"inkwell", "pricing"},
		}, true
	case EventPromotionScheduled:
		return message{
			title: "Inkwell - Promotion Scheduled",
			body:  fmt.Sprintf("📅 %s: countdown promotion starts %s", title, p.str("date")),
			tags:  []string{"inkwell", "pricing", "promotion"},
		}, true
	case EventConsistencyIssues:
		return message{
			title: "Inkwell - Consistency Review",
			body:  fmt.Sprintf("🔎 %s: %s issue(s) found through chapter %s", title, p.str("issues"), p.str("chapter")),
			tags:  []string{"inkwell", "consistency", "review"},
		}, true
	case EventTest:
		return message{
			title:    "Inkwell - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"inkwell", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	default:
		return fmt.Sprint(v)
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Recorder captures published events in memory. Tests use it in place of ntfy.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured publication.
type Recorded struct {
	Event   Event
	Payload Payload
}

func (r *Recorder) Publish(_ context.Context, event Event, payload Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Event: event, Payload: payload})
	return nil
}

// Events returns the captured publications in order.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}
