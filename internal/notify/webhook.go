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

	"github.com/jacklau/codereviewer/internal/retry"
	"github.com/jacklau/codereviewer/internal/workflow"
)

const webhookTimeout = 10 * time.Second

// statusError is a non-2xx webhook response.
type statusError struct {
	service string
	code    int
	body    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s webhook returned %d: %s", e.service, e.code, e.body)
}

// retryable reports whether a failed delivery is worth repeating. Rejected
// payloads and bad URLs are not.
func retryable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return true
	}
	return se.code == http.StatusTooManyRequests || se.code >= 500
}

// Webhook posts failure alerts as JSON to a chat incoming-webhook URL.
type Webhook struct {
	service string
	url     string
	render  func(workflow.Alert) any
	client  *http.Client
	policy  retry.Policy
	logger  *slog.Logger
}

func newWebhook(service, url string, render func(workflow.Alert) any, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		service: service,
		url:     url,
		render:  render,
		client:  &http.Client{Timeout: webhookTimeout},
		policy: retry.Policy{
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
			Retryable:   retryable,
		},
		logger: logger,
	}
}

// NewSlack returns a Webhook that renders alerts as Slack Block Kit messages.
func NewSlack(url string, logger *slog.Logger) *Webhook {
	return newWebhook("slack", url, func(a workflow.Alert) any { return slackMessage(a) }, logger)
}

// NewDiscord returns a Webhook that renders alerts as Discord embeds.
func NewDiscord(url string, logger *slog.Logger) *Webhook {
	return newWebhook("discord", url, func(a workflow.Alert) any { return discordMessage(a, time.Now()) }, logger)
}

// Alert delivers a, trying once more when the first delivery fails for a
// transient reason.
func (w *Webhook) Alert(ctx context.Context, a workflow.Alert) error {
	body, err := json.Marshal(w.render(a))
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", w.service, err)
	}

	attempts, err := w.policy.Do(ctx, func(attempt int) error {
		err := w.post(ctx, body)
		if err != nil && attempt == 1 && retryable(err) {
			w.logger.Warn("alert delivery failed, retrying", "service", w.service, "run_id", a.RunID, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s alert failed after %d attempt(s): %w", w.service, attempts, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{service: w.service, code: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
