// Package notify tells the outside world about finished import jobs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
)

const defaultTimeout = 5 * time.Second

// Payload is the body posted to a webhook.
type Payload struct {
	Event string        `json:"event"`
	Job   job.ImportJob `json:"job"`
}

// WebhookNotifier POSTs finished jobs as JSON to a URL.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(n *WebhookNotifier) { n.client = c }
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(n *WebhookNotifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, opts ...Option) *WebhookNotifier {
	n := &WebhookNotifier{
		url:     url,
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// JobFinished implements core.Notifier.
func (n *WebhookNotifier) JobFinished(ctx context.Context, j job.ImportJob) error {
	body, err := json.Marshal(Payload{Event: string(job.EventFor(j).Type), Job: j})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Import-Job-Id", j.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	slog.Debug("webhook delivered", "job_id", j.ID, "status", resp.StatusCode)
	return nil
}

// LogNotifier writes finished jobs to the log.
type LogNotifier struct{}

// JobFinished implements core.Notifier.
func (LogNotifier) JobFinished(_ context.Context, j job.ImportJob) error {
	slog.Info("import job finished",
		"job_id", j.ID,
		"dataset", j.DatasetType,
		"state", j.State,
		"processed", j.Counts.Processed,
		"succeeded", j.Counts.Succeeded,
		"failed", j.Counts.Failed,
		"message", j.Message,
	)
	return nil
}

// New returns the notifier for cfg: a webhook when a URL is configured,
// the log otherwise.
func New(cfg config.NotifyConfig) core.Notifier {
	if cfg.WebhookURL == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(cfg.WebhookURL, WithTimeout(cfg.Timeout))
}
