package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"sfcfetch/internal/config"
	"sfcfetch/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCapture(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func configFor(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor(""))
	if err := svc.Publish(context.Background(), notifications.EventWorkflowCompleted, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "workflow completed",
			event: notifications.EventWorkflowCompleted,
			payload: notifications.Payload{
				"workflowID": "4", "workflowType": "circulars",
				"total": "2", "completed": "2", "failed": "0", "duration": "3s",
			},
			expectTitle: "sfcfetch - Workflow Complete",
			expectBody:  "✅ workflow 4 (circulars) finished: 2 of 2 documents completed in 3s",
			expectTags:  "sfcfetch,workflow,completed",
		},
		{
			name:  "workflow completed with failures",
			event: notifications.EventWorkflowCompleted,
			payload: notifications.Payload{
				"workflowID": "4", "workflowType": "circulars",
				"total": "3", "completed": "2", "failed": "1",
			},
			expectTitle: "sfcfetch - Workflow Complete (with failures)",
			expectBody:  "✅ workflow 4 (circulars) finished: 2 of 3 documents completed, 1 failed",
			expectTags:  "sfcfetch,workflow,completed,warning",
		},
		{
			name:  "paused",
			event: notifications.EventWorkflowPaused,
			payload: notifications.Payload{
				"workflowID": "7", "workflowType": "circulars",
				"reference": "26EC7", "step": "fetch_content_api",
			},
			expectTitle: "sfcfetch - Workflow Paused",
			expectBody:  "⏸️ workflow 7 (circulars) paused at 26EC7 (step fetch_content_api)",
			expectTags:  "sfcfetch,workflow,paused",
		},
		{
			name:  "document failed",
			event: notifications.EventDocumentFailed,
			payload: notifications.Payload{
				"workflowID": "7", "workflowType": "circulars",
				"reference": "26EC6", "step": "download_main_pdf", "error": "pdf 404 upstream",
			},
			expectTitle: "sfcfetch - Document Failed",
			expectBody:  "❌ 26EC6 failed at download_main_pdf in workflow 7 (circulars): pdf 404 upstream",
			expectTags:  "sfcfetch,document,failed",
		},
		{
			name:           "run aborted",
			event:          notifications.EventRunAborted,
			payload:        notifications.Payload{"workflowID": "2", "error": "no handler for step teleport"},
			expectTitle:    "sfcfetch - Run Aborted",
			expectBody:     "🛑 workflow 2 (unknown) stopped: no handler for step teleport",
			expectTags:     "sfcfetch,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "sfcfetch - Test",
			expectBody:     "🧪 Notification system test",
			expectTags:     "sfcfetch,test",
			expectPriority: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newCapture(t)
			svc := notifications.NewService(configFor(srv.URL))
			if err := svc.Publish(context.Background(), tt.event, tt.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			reqs := got()
			if len(reqs) != 1 {
				t.Fatalf("expected one request, got %d", len(reqs))
			}
			req := reqs[0]
			if req.title != tt.expectTitle || req.body != tt.expectBody || req.tags != tt.expectTags || req.priority != tt.expectPriority {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestDocumentFailuresCanBeMuted(t *testing.T) {
	srv, got := newCapture(t)
	cfg := configFor(srv.URL)
	cfg.Notifications.DocumentFailures = false
	svc := notifications.NewService(cfg)

	if err := svc.Publish(context.Background(), notifications.EventDocumentFailed, notifications.Payload{"reference": "26EC6"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := svc.Publish(context.Background(), notifications.EventWorkflowCompleted, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if reqs := got(); len(reqs) != 1 || !strings.Contains(reqs[0].title, "Workflow Complete") {
		t.Fatalf("expected only the completion to be sent, got %+v", reqs)
	}
}

func TestPublishReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	err := notifications.NewService(configFor(srv.URL)).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 404: topic gone") {
		t.Fatalf("expected status error, got %v", err)
	}
	if err := notifications.NewService(configFor(srv.URL)).Publish(context.Background(), notifications.Event("bogus"), nil); err == nil {
		t.Fatal("expected unknown event to be rejected")
	}
}
