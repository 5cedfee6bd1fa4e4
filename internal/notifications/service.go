package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sfcfetch/internal/config"
)

const userAgent = "sfcfetch/0.1"

// Event names a workflow milestone.
type Event string

const (
	EventWorkflowCompleted Event = "workflow_completed"
	EventWorkflowPaused    Event = "workflow_paused"
	EventDocumentFailed    Event = "document_failed"
	EventRunAborted        Event = "run_aborted"
	EventTest              Event = "test"
)

// Payload carries the event's fields. Keys used: workflowID, workflowType,
// reference, step, error, total, completed, failed, duration.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op one when
// notifications.ntfy_topic is empty. Document failures are dropped when
// notifications.document_failures is false.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint:         topic,
		client:           &http.Client{Timeout: cfg.NotificationTimeout()},
		documentFailures: cfg.Notifications.DocumentFailures,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func render(event Event, p Payload) (message, error) {
	workflow := fmt.Sprintf("workflow %s (%s)", fallback(p["workflowID"], "?"), fallback(p["workflowType"], "unknown"))
	switch event {
	case EventWorkflowCompleted:
		msg := message{
			title: "sfcfetch - Workflow Complete",
			body:  fmt.Sprintf("✅ %s finished: %s of %s documents completed", workflow, fallback(p["completed"], "0"), fallback(p["total"], "0")),
			tags:  []string{"sfcfetch", "workflow", "completed"},
		}
		if failed := p["failed"]; failed != "" && failed != "0" {
			msg.title = "sfcfetch - Workflow Complete (with failures)"
			msg.body += fmt.Sprintf(", %s failed", failed)
			msg.tags = append(msg.tags, "warning")
		}
		if d := p["duration"]; d != "" {
			msg.body += " in " + d
		}
		return msg, nil
	case EventWorkflowPaused:
		body := fmt.Sprintf("⏸️ %s paused", workflow)
		if ref := p["reference"]; ref != "" {
			body += fmt.Sprintf(" at %s (step %s)", ref, fallback(p["step"], "-"))
		}
		return message{title: "sfcfetch - Workflow Paused", body: body, tags: []string{"sfcfetch", "workflow", "paused"}}, nil
	case EventDocumentFailed:
		return message{
			title: "sfcfetch - Document Failed",
			body: fmt.Sprintf("❌ %s failed at %s in %s: %s",
				fallback(p["reference"], "document"), fallback(p["step"], "unknown step"), workflow, fallback(p["error"], "unknown error")),
			tags: []string{"sfcfetch", "document", "failed"},
		}, nil
	case EventRunAborted:
		return message{
			title:    "sfcfetch - Run Aborted",
			body:     fmt.Sprintf("🛑 %s stopped: %s", workflow, fallback(p["error"], "unknown error")),
			tags:     []string{"sfcfetch", "error", "alert"},
			priority: "high",
		}, nil
	case EventTest:
		return message{
			title:    "sfcfetch - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"sfcfetch", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

type ntfyService struct {
	endpoint         string
	client           *http.Client
	documentFailures bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if event == EventDocumentFailed && !n.documentFailures {
		return nil
	}
	msg, err := render(event, payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	req.Header.Set("Tags", strings.Join(msg.tags, ","))
	if msg.priority != "" {
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

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Noop returns a service that drops every event.
func Noop() Service { return noopService{} }
