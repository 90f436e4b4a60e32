package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
)

const userAgent = "Quill-Go/0.1.0"

// Event identifies a notification-worthy milestone.
type Event string

const (
	EventGenerationCompleted Event = "generation_completed"
	EventGenerationFailed    Event = "generation_failed"
	EventDerivedCompleted    Event = "derived_completed"
	EventPublished           Event = "published"
	EventReaperFailures      Event = "reaper_failures"
	EventError               Event = "error"
	EventTest                Event = "test"
)

// Payload carries event-specific values. Keys are documented per event in
// format.
type Payload map[string]any

// Service publishes events to the configured transport.
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
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		generation: cfg.Notifications.Generation,
		errors:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	generation bool
	errors     bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventGenerationCompleted, EventDerivedCompleted, EventPublished:
		return n.generation
	case EventGenerationFailed, EventReaperFailures, EventError:
		return n.errors
	default:
		return true
	}
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventGenerationCompleted:
		title := valueOr(data, "title", valueOr(data, "artifactID", "artifact"))
		msg := fmt.Sprintf("✍️ Generated: %s", title)
		if family := valueOr(data, "family", ""); family != "" {
			msg = fmt.Sprintf("%s (%s)", msg, family)
		}
		return payload{
			title:   "Quill - Generated",
			message: msg,
			tags:    []string{"quill", "generation", "completed"},
		}, true
	case EventGenerationFailed:
		return payload{
			title:    "Quill - Generation Failed",
			message:  fmt.Sprintf("❌ Generation failed for %s: %s", valueOr(data, "artifactID", "artifact"), valueOr(data, "error", "unknown")),
			tags:     []string{"quill", "generation", "failed"},
			priority: "high",
		}, true
	case EventDerivedCompleted:
		return payload{
			title:   "Quill - Media Ready",
			message: fmt.Sprintf("🎞️ Derived media ready for %s: %s", valueOr(data, "artifactID", "artifact"), valueOr(data, "kinds", "none")),
			tags:    []string{"quill", "derived", "completed"},
		}, true
	case EventPublished:
		return payload{
			title:   "Quill - Published",
			message: fmt.Sprintf("📣 Published %s posts for %s", valueOr(data, "count", "0"), valueOr(data, "subject", "unknown")),
			tags:    []string{"quill", "social", "published"},
		}, true
	case EventReaperFailures:
		return payload{
			title:    "Quill - Cleanup Incomplete",
			message:  fmt.Sprintf("🧹 Reaper removed %s resources, %s failed", valueOr(data, "removed", "0"), valueOr(data, "failures", "0")),
			tags:     []string{"quill", "reaper", "alert"},
			priority: "high",
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := valueOr(data, "context", ""); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		builder.WriteString(valueOr(data, "error", "unknown"))
		return payload{
			title:    "Quill - Error",
			message:  builder.String(),
			tags:     []string{"quill", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "Quill - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"quill", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func valueOr(data Payload, key, fallback string) string {
	if data == nil {
		return fallback
	}
	raw, ok := data[key]
	if !ok || raw == nil {
		return fallback
	}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case error:
		text = v.Error()
	default:
		text = fmt.Sprint(v)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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
