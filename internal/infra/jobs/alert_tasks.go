package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/internal/infra/notification"
	"github.com/openctemio/scanmerge/internal/metrics"
)

// =============================================================================
// Task Types
// =============================================================================

const (
	// TypeRuleAlert is the task type for delivering an ALERT action.
	TypeRuleAlert = "rule:alert"

	// DefaultAlertQueue is the queue alert tasks go to unless configured.
	DefaultAlertQueue = "alerts"
)

// =============================================================================
// Task Creators
// =============================================================================

// NewRuleAlertTask creates a task delivering one rule alert.
func NewRuleAlertTask(alert searcher.Alert, queue string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("marshal rule alert payload: %w", err)
	}
	if queue == "" {
		queue = DefaultAlertQueue
	}

	return asynq.NewTask(
		TypeRuleAlert,
		payload,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(1*time.Minute),
		asynq.Queue(queue),
	), nil
}

// =============================================================================
// Task Handlers
// =============================================================================

// AlertTaskHandler delivers rule alerts to the configured notification clients.
type AlertTaskHandler struct {
	notifiers []notification.Client
	log       *slog.Logger
}

// NewAlertTaskHandler creates a new alert task handler.
func NewAlertTaskHandler(notifiers []notification.Client, log *slog.Logger) *AlertTaskHandler {
	return &AlertTaskHandler{
		notifiers: notifiers,
		log:       log,
	}
}

// HandleAlert sends the alert to every notifier. The task fails, and asynq
// retries it, only when no notifier accepted it.
func (h *AlertTaskHandler) HandleAlert(ctx context.Context, t *asynq.Task) error {
	var alert searcher.Alert
	if err := json.Unmarshal(t.Payload(), &alert); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if len(h.notifiers) == 0 {
		h.log.Warn("no notification channel configured, dropping alert",
			"workspace", alert.Workspace,
			"rule_id", alert.RuleID,
		)
		return nil
	}

	msg := AlertMessage(alert)
	var errs []error
	delivered := 0
	for _, n := range h.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Provider(), err))
			metrics.AlertsDelivered.WithLabelValues(n.Provider(), "failed").Inc()
			continue
		}
		delivered++
		metrics.AlertsDelivered.WithLabelValues(n.Provider(), "success").Inc()
	}

	if delivered == 0 {
		err := errors.Join(errs...)
		h.log.Error("failed to deliver rule alert",
			"workspace", alert.Workspace,
			"rule_id", alert.RuleID,
			"error", err,
		)
		return err
	}

	if len(errs) > 0 {
		h.log.Warn("rule alert partially delivered",
			"workspace", alert.Workspace,
			"rule_id", alert.RuleID,
			"delivered", delivered,
			"error", errors.Join(errs...),
		)
		return nil
	}

	h.log.Info("rule alert delivered",
		"workspace", alert.Workspace,
		"rule_id", alert.RuleID,
		"vulnerability_id", alert.VulnerabilityID.String(),
		"channels", delivered,
	)
	return nil
}

// RegisterHandlers registers alert task handlers with the asynq server mux.
func (h *AlertTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRuleAlert, h.HandleAlert)
}

// AlertMessage renders a rule alert as a notification message.
func AlertMessage(alert searcher.Alert) notification.Message {
	title := alert.Message
	if title == "" {
		title = fmt.Sprintf("Rule %s matched %s", alert.Rule, alert.Name)
	}
	return notification.Message{
		Event:    TypeRuleAlert,
		Title:    title,
		Body:     fmt.Sprintf("Vulnerability *%s* matched rule `%s`.", alert.Name, alert.Rule),
		Severity: alert.Severity,
		Fields: []notification.Field{
			{Name: "workspace", Value: alert.Workspace},
			{Name: "rule", Value: alert.Rule},
			{Name: "severity", Value: alert.Severity},
			{Name: "vulnerability_id", Value: alert.VulnerabilityID.String()},
		},
		Footer: alert.RaisedAt.UTC().Format(time.RFC3339),
	}
}
