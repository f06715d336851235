package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Webhook event names.
const (
	EventClone  = "clone"
	EventUpdate = "update"
	EventSwitch = "switch"
	EventRemove = "remove"
	EventCommit = "commit"
)

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event      string `json:"event"`
	Repository string `json:"repository"`
	Type       string `json:"type,omitempty"`
	Branch     string `json:"branch,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Message    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	urls    []string
	client  *http.Client
	logger  *zap.Logger
	backoff time.Duration
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(urls []string, logger *zap.Logger) *WebhookNotifier {
	if len(urls) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		urls:    urls,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		backoff: time.Second,
	}
}

// Notify sends event to all configured URLs without blocking the caller.
func (wn *WebhookNotifier) Notify(event WebhookEvent) {
	if wn == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	go wn.send(event)
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	for _, url := range wn.urls {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", zap.String("url", url), zap.Error(err))
		} else {
			wn.logger.Debug("webhook: delivered", zap.String("url", url), zap.String("event", event.Event))
		}
	}
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * wn.backoff)
		}

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "repodeploy/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
	}

	return lastErr
}
