package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chunkwise/internal/config"
	"chunkwise/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		got.body = string(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic rejected"))
	}))
	t.Cleanup(server.Close)
	return server, got
}

func serviceFor(url string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeout = 5
	return notifications.NewService(&cfg)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if svc.Enabled() {
		t.Fatal("expected disabled service without a topic")
	}
	if err := svc.Publish(context.Background(), notifications.EventRunCompleted, notifications.Payload{}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestPublishFormatsEvents(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     []string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "completed",
			event: notifications.EventRunCompleted,
			payload: notifications.Payload{
				Input:    "/media/feature.mkv",
				Output:   "/media/feature.av1.mkv",
				Chunks:   12,
				Attempts: 13,
				Size:     5 << 20,
				Elapsed:  90 * time.Second,
			},
			expectTitle: "chunkwise - Encode Complete",
			expectBody:  []string{"Encoded feature.mkv in 1m30s", "12 chunks, 13 attempts, 5.0 MiB", "Output: /media/feature.av1.mkv"},
			expectTags:  "chunkwise,encode,completed",
		},
		{
			name:           "failed",
			event:          notifications.EventRunFailed,
			payload:        notifications.Payload{Input: "/media/short.mkv", Err: errors.New("chunk 3 failed")},
			expectTitle:    "chunkwise - Encode Failed",
			expectBody:     []string{"Encoding short.mkv failed: chunk 3 failed"},
			expectTags:     "chunkwise,encode,error",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "chunkwise - Test",
			expectBody:     []string{"Notification test"},
			expectTags:     "chunkwise,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, got := newServer(t, http.StatusOK)
			if err := serviceFor(server.URL).Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			for _, want := range tc.expectBody {
				if !strings.Contains(got.body, want) {
					t.Fatalf("expected body to contain %q, got %q", want, got.body)
				}
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestPublishReportsServerErrors(t *testing.T) {
	server, _ := newServer(t, http.StatusForbidden)
	err := serviceFor(server.URL).Publish(context.Background(), notifications.EventTest, notifications.Payload{})
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic rejected") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestPublishRejectsUnknownEvent(t *testing.T) {
	server, _ := newServer(t, http.StatusOK)
	if err := serviceFor(server.URL).Publish(context.Background(), "bogus", notifications.Payload{}); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
