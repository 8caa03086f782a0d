package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chunkwise/internal/config"
)

const userAgent = "chunkwise/0.1"

// Event identifies what happened to a run.
type Event string

const (
	EventRunCompleted Event = "run_completed"
	EventRunFailed    Event = "run_failed"
	EventTest         Event = "test"
)

// Payload carries the run details rendered into the alert.
type Payload struct {
	Input    string
	Output   string
	Chunks   int
	Attempts int
	Size     int64
	Elapsed  time.Duration
	Err      error
}

// Service publishes run events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Enabled() bool
}

// NewService builds an ntfy-backed service, or a no-op one when
// notifications.ntfy_topic is empty.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, p Payload) (message, error) {
	name := filepath.Base(strings.TrimSpace(p.Input))
	switch event {
	case EventRunCompleted:
		body := fmt.Sprintf("Encoded %s in %s", name, p.Elapsed.Round(time.Second))
		details := fmt.Sprintf("%d chunks, %d attempts", p.Chunks, p.Attempts)
		if p.Size > 0 {
			details += ", " + humanize.IBytes(uint64(p.Size))
		}
		body += "\n" + details
		if p.Output != "" {
			body += "\nOutput: " + p.Output
		}
		return message{
			title: "chunkwise - Encode Complete",
			body:  body,
			tags:  []string{"chunkwise", "encode", "completed"},
		}, nil
	case EventRunFailed:
		reason := "unknown error"
		if p.Err != nil {
			reason = p.Err.Error()
		}
		return message{
			title:    "chunkwise - Encode Failed",
			body:     fmt.Sprintf("Encoding %s failed: %s", name, reason),
			tags:     []string{"chunkwise", "encode", "error"},
			priority: "high",
		}, nil
	case EventTest:
		return message{
			title:    "chunkwise - Test",
			body:     "Notification test",
			tags:     []string{"chunkwise", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Enabled() bool { return true }

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, err := format(event, payload)
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) Enabled() bool                                 { return false }
