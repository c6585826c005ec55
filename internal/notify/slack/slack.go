// Package slack sends dispatched alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/vitalwatch/internal/triage"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts dispatches to a Slack webhook. It implements triage.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts one dispatched alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, d *triage.Dispatch) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(d)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent",
		"alert_id", d.Alert.ID,
		"priority", d.Alert.Priority.String(),
	)
	return nil
}

func buildMessage(d *triage.Dispatch) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(d),
			{"type": "divider"},
			fieldsBlock(d),
			{"type": "divider"},
			messageBlock(d),
			{"type": "divider"},
			contextBlock(d),
		},
	}
}

func headerBlock(d *triage.Dispatch) map[string]any {
	title := "Alert"
	if d.Alert.Trend {
		title = "Trend Alert"
	}
	text := fmt.Sprintf("%s %s %s: %s", priorityEmoji(d.Alert.Priority), d.Alert.Priority, title, d.Alert.SubjectID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(d *triage.Dispatch) map[string]any {
	sla := "met"
	if !d.WithinSLA {
		sla = "BREACHED"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Subject:* %s", d.Alert.SubjectID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", d.Alert.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Vital:* %s", d.Alert.Vital.DisplayName()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Value:* %g", d.Alert.Value),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Response:* %dms", d.Elapsed.Milliseconds()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*SLA (%s):* %s", d.Alert.Priority.SLA(), sla),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func messageBlock(d *triage.Dispatch) map[string]any {
	text := truncate(d.Alert.Message, maxMessageLen)
	if text == "" {
		text = "_No message._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", d.Alert.Priority.Guidance(), text),
		},
	}
}

func contextBlock(d *triage.Dispatch) map[string]any {
	ts := d.DispatchedAt
	if ts.IsZero() {
		ts = d.Alert.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("vitalwatch • alert %s • %s", d.Alert.ID, ts.UTC().Format("2006-01-02 15:04:05 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(p vitals.Priority) string {
	switch p {
	case vitals.Critical:
		return "\U0001f534" // red circle
	case vitals.High:
		return "\U0001f7e0" // orange circle
	case vitals.Medium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
