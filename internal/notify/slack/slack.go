// Package slack sends investigation notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

const (
	maxSummaryLen  = 3000
	maxRiskFactors = 10
	httpTimeout    = 10 * time.Second
)

// Notifier sends investigation results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Send posts an investigation result to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, result *investigation.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(result))
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

	n.logger.Info(ctx, "slack notification sent", "alert_id", result.AlertID, "outcome", result.Outcome)
	return nil
}

func buildMessage(r *investigation.Result) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			summaryBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *investigation.Result) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: alert %s", outcomeEmoji(r.Outcome), outcomeTitle(r.Outcome), r.AlertID),
		},
	}
}

func fieldsBlock(r *investigation.Result) map[string]any {
	suspicious := "unknown"
	if r.IsSuspicious != nil {
		suspicious = fmt.Sprintf("%t", *r.IsSuspicious)
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Outcome:* %s", r.Outcome)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %.2f", r.Confidence)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Suspicious:* %s", suspicious)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Loops:* %d", r.LoopsExecuted)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Queries:* %d", r.TotalQueries)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:* %.1fs", r.Duration)},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r *investigation.Result) map[string]any {
	var b strings.Builder
	b.WriteString("*Summary*\n\n")
	if s := truncate(r.InvestigationSummary, maxSummaryLen); s != "" {
		b.WriteString(s)
	} else {
		b.WriteString("_No summary available._")
	}

	if len(r.RiskFactors) > 0 {
		b.WriteString("\n\n*Risk factors*\n")
		for i, f := range r.RiskFactors {
			if i == maxRiskFactors {
				fmt.Fprintf(&b, "• _and %d more_\n", len(r.RiskFactors)-maxRiskFactors)
				break
			}
			fmt.Fprintf(&b, "• %s\n", f)
		}
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": strings.TrimRight(b.String(), "\n"),
		},
	}
}

func contextBlock(r *investigation.Result) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.StartedAt
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("warden • alert %s • %s", r.AlertID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func outcomeTitle(a investigation.Action) string {
	switch a {
	case investigation.ActionEscalate:
		return "Escalated"
	case investigation.ActionHumanReview:
		return "Human review needed"
	case investigation.ActionAutoClose:
		return "Auto-closed"
	case investigation.ActionError:
		return "Investigation failed"
	default:
		return "Investigation complete"
	}
}

func outcomeEmoji(a investigation.Action) string {
	switch a {
	case investigation.ActionEscalate, investigation.ActionError:
		return "\U0001f534" // red circle
	case investigation.ActionHumanReview, investigation.ActionInvestigateFurther:
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
