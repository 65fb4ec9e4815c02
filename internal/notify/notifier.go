// Package notify delivers workflow failure alerts to chat webhooks.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jacklau/codereviewer/internal/workflow"
)

// Notifier sends failure alerts. It satisfies workflow.Alerter.
type Notifier interface {
	Alert(ctx context.Context, a workflow.Alert) error
}

// MultiNotifier sends alerts to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMultiNotifier creates a MultiNotifier from the given notifiers.
func NewMultiNotifier(logger *slog.Logger, notifiers ...Notifier) *MultiNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiNotifier{notifiers: notifiers, logger: logger}
}

// Alert sends a to every notifier. A failing notifier is logged and the rest
// still run; the joined errors are returned.
func (m *MultiNotifier) Alert(ctx context.Context, a workflow.Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Alert(ctx, a); err != nil {
			m.logger.Warn("notifier error", "run_id", a.RunID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds a notifier for whichever webhook URLs are set. It returns nil
// when neither is configured.
func New(slackURL, discordURL string, logger *slog.Logger) Notifier {
	var ns []Notifier
	if slackURL != "" {
		ns = append(ns, NewSlack(slackURL, logger))
	}
	if discordURL != "" {
		ns = append(ns, NewDiscord(discordURL, logger))
	}
	switch len(ns) {
	case 0:
		return nil
	case 1:
		return ns[0]
	}
	return NewMultiNotifier(logger, ns...)
}
