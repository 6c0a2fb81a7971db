package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/warden/internal/investigation"
)

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func contextualQueryPrompt(a *investigation.AlertContext, goal string, prev map[string]any) string {
	var b strings.Builder
	b.WriteString("You are an SQL analyst supporting a bank fraud investigation. ")
	b.WriteString("Using the schema and the alert below, write 3 to 5 SELECT statements that help investigate this alert.\n\n")
	b.WriteString(schemaDescription())
	fmt.Fprintf(&b, `
ALERT:
Alert ID: %s
Alert Type: %s
User ID: %s
Transaction ID: %s
Amount: %.2f
Location: %s
Timestamp: %s

GOAL: %s
`, a.AlertID, a.AlertType, a.UserID, a.TransactionID, a.Amount, orNA(a.Location), a.Timestamp.Format("2006-01-02 15:04:05"), goal)

	if len(prev) > 0 {
		fmt.Fprintf(&b, "\nFINDINGS FROM THE PREVIOUS PASS:\n%s\nNarrow the queries using these findings.\n", indentJSON(prev))
	}

	b.WriteString(`
Look for:
1. recurring patterns in the user's history
2. deviations from past behavior
3. anomalies across related tables
4. additional risk factors

Reply with the SQL only, one statement per line, no commentary and no markdown.
`)
	return b.String()
}

func patternPrompt(a *investigation.AlertContext, evidence map[string]any, rules map[string]string) string {
	alertType := "Unknown"
	if a.AlertType != "" {
		alertType = string(a.AlertType)
	}
	return fmt.Sprintf(`You are a fraud detection assistant. Identify fraud patterns by applying the rules below to the alert and its evidence.

RULES:
%s

ALERT_TYPE: %s

CONTEXT:
%s

EVIDENCE:
%s

HOW TO SCORE:
1. HighValue, GeoMismatch: count similar historical transactions in the evidence.
   A count of 1 or less is anomalous: confidence above 0.7.
   A count of 5 or more is normal behavior: confidence at or below 0.5.
   Anything between: confidence between 0.5 and 0.7.
2. NewPayee: a new payee event is a transaction above 50,000 to a payee added within 7 days before it.
   Count the distinct historical events and score them with the thresholds of rule 1.
3. FailedLoginTransfer: take the amount from CONTEXT and the current balance from the account evidence.
   Compute amount / (amount + current_balance) as a percentage.
   70%% or more: confidence above 0.7. 50%% or less: confidence at or below 0.5.
   Between: confidence between 0.5 and 0.7, matching the percentage (68%% scores 0.68).
4. Structuring, CrossChannel: count historical occurrences and score them with the thresholds of rule 1.
5. HighRiskLocation: a location in the high-risk list is a true positive, confidence above 0.7.

Reply with exactly one JSON object with these keys:
- patterns: list of triggered rule names
- risk_indicators: list of high-level risk factors
- confidence: number between 0.0 and 1.0
- evidence: object with supporting counts or percentages

Example:
{"patterns": ["HighValue"], "risk_indicators": ["Amount far above this user's history"], "confidence": 0.85, "evidence": {"historical_high_value_transactions_count": 0}}
`, indentJSON(rules), alertType, indentJSON(a), indentJSON(evidence))
}

func explanationPrompt(a *investigation.AlertContext, p *PatternOutput, resultContext string) string {
	return fmt.Sprintf(`You write investigation summaries for bank fraud analysts.

PATTERN ANALYSIS:
%s

ALERT CONTEXT:
%s

The pattern analysis verdict for this alert is: %s.

Write a short explanation for a business investigator that states the verdict (%s) and the evidence behind it.
- False Positive: explain why the behavior is normal for this user given the history.
- True Positive: explain why this is likely fraud, citing the evidence or pattern.
- Human Review: explain what is ambiguous and why a human should decide.
`, indentJSON(p), indentJSON(a), resultContext, resultContext)
}

func rationalePrompt(a *investigation.AlertContext, p *PatternOutput, explanation, resultContext string) string {
	return fmt.Sprintf(`Turn this investigation into a structured rationale.

ALERT CONTEXT:
%s

PATTERNS DETECTED:
%s

VERDICT: %s

EXPLANATION:
%s

Reply with one JSON object with these keys:
- key_points: list of the main evidence points
- risk_level: LOW, MEDIUM or HIGH
- recommendation: CLOSE, ESCALATE or INVESTIGATE_FURTHER
- confidence_factors: list of what raises or lowers confidence
- investigation_summary: brief summary of the findings
- confidence: number between 0.0 and 1.0
`, indentJSON(a), indentJSON(p), resultContext, explanation)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
