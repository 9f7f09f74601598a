// Package notifier delivers course change notifications to a chat webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/models"
)

const defaultTimeout = 10 * time.Second

// Notifier delivers one course notification.
type Notifier interface {
	Notify(ctx context.Context, payload models.CourseNotification) error
}

// Webhook posts notifications as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook constructs a webhook notifier. A non-positive timeout falls back to 10s.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

// Notify sends the payload. Any non-2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, payload models.CourseNotification) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	w.logger.Debug("webhook delivered",
		zap.String("course", payload.CourseName),
		zap.Int("status", resp.StatusCode))
	return nil
}

// Noop discards notifications. Used when no webhook URL is configured.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, models.CourseNotification) error { return nil }

// New returns a Webhook for a non-empty url, otherwise Noop.
func New(url string, timeout time.Duration, logger *zap.Logger) Notifier {
	if url == "" {
		return Noop{}
	}
	return NewWebhook(url, timeout, logger)
}

// IsNoop reports whether n delivers nothing.
func IsNoop(n Notifier) bool {
	if n == nil {
		return true
	}
	_, ok := n.(Noop)
	return ok
}
