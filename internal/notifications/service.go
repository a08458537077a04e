package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"carousel/internal/config"
)

const userAgent = "Carousel/0.1.0"

// Event identifies one notifiable milestone.
type Event string

const (
	EventTaskCompleted  Event = "task_completed"
	EventTaskFailed     Event = "task_failed"
	EventBatchCompleted Event = "batch_completed"
	EventQueuePaused    Event = "queue_paused"
	EventPoolDegraded   Event = "pool_degraded"
	EventTest           Event = "test"
)

// Payload carries display-ready values for the message templates. Callers
// format byte counts and durations before publishing.
type Payload map[string]string

// Service is the notification surface the daemon publishes through.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
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
			EventTaskCompleted:  cfg.Notifications.TaskComplete,
			EventTaskFailed:     cfg.Notifications.TaskFailed,
			EventBatchCompleted: cfg.Notifications.BatchComplete,
			EventQueuePaused:    cfg.Notifications.QueuePaused,
			EventPoolDegraded:   cfg.Notifications.PoolDegraded,
		},
		dedupWindow: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		lastSent:    map[string]time.Time{},
		now:         time.Now,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	enabled     map[Event]bool
	dedupWindow time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.allowed(event) {
		return nil
	}
	msg, err := renderMessage(event, payload)
	if err != nil {
		return err
	}
	if event != EventTest {
		if n.suppressed(event, msg.body) {
			return nil
		}
	}
	if err := n.send(ctx, msg); err != nil {
		return err
	}
	if event != EventTest {
		n.remember(event, msg.body)
	}
	return nil
}

func (n *ntfyService) allowed(event Event) bool {
	if event == EventTest {
		return true
	}
	return n.enabled[event]
}

func renderMessage(event Event, payload Payload) (message, error) {
	get := func(key, fallback string) string {
		if value := strings.TrimSpace(payload[key]); value != "" {
			return value
		}
		return fallback
	}

	switch event {
	case EventTaskCompleted:
		body := fmt.Sprintf("🖼️ Converted: %s", get("name", "file"))
		if output := get("output", ""); output != "" {
			body += "\nOutput: " + output
		}
		if saved := get("saved", ""); saved != "" {
			body += "\nSaved: " + saved
		}
		return message{
			title: "Carousel - Conversion Complete",
			body:  body,
			tags:  []string{"carousel", "convert", "completed"},
		}, nil
	case EventTaskFailed:
		return message{
			title:    "Carousel - Conversion Failed",
			body:     fmt.Sprintf("❌ Conversion failed: %s: %s", get("name", "file"), get("error", "unknown error")),
			tags:     []string{"carousel", "error", "alert"},
			priority: "high",
		}, nil
	case EventBatchCompleted:
		succeeded := get("succeeded", "0")
		failed := get("failed", "0")
		duration := get("duration", "0s")
		title := "Carousel - Batch Complete"
		body := fmt.Sprintf("Batch complete: %s files converted in %s", succeeded, duration)
		if failed != "0" {
			title = "Carousel - Batch Complete (with errors)"
			body = fmt.Sprintf("Batch complete: %s succeeded, %s failed in %s", succeeded, failed, duration)
		}
		return message{
			title: title,
			body:  body,
			tags:  []string{"carousel", "batch", "completed"},
		}, nil
	case EventQueuePaused:
		body := "⏸️ Queue paused"
		if reason := get("reason", ""); reason != "" {
			body += ": " + reason
		}
		return message{
			title: "Carousel - Queue Paused",
			body:  body,
			tags:  []string{"carousel", "queue", "paused"},
		}, nil
	case EventPoolDegraded:
		// Body stays constant per worker kind so repeats inside the
		// dedup window collapse into one push.
		return message{
			title:    "Carousel - Workers Degraded",
			body:     fmt.Sprintf("⚠️ %s workers cannot be spawned", get("kind", "conversion")),
			tags:     []string{"carousel", "worker", "alert"},
			priority: "high",
		}, nil
	case EventTest:
		return message{
			title:    "Carousel - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"carousel", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

func (n *ntfyService) suppressed(event Event, body string) bool {
	if n.dedupWindow <= 0 {
		return false
	}
	key := string(event) + "\n" + body
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[key]
	if !ok {
		return false
	}
	return n.now().Sub(last) < n.dedupWindow
}

func (n *ntfyService) remember(event Event, body string) {
	if n.dedupWindow <= 0 {
		return
	}
	key := string(event) + "\n" + body
	now := n.now()
	n.mu.Lock()
	for k, sent := range n.lastSent {
		if now.Sub(sent) >= n.dedupWindow {
			delete(n.lastSent, k)
		}
	}
	n.lastSent[key] = now
	n.mu.Unlock()
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
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
