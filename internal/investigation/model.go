package investigation

import (
	"encoding/json"
	"time"
)

// AlertType is the category of a flagged transaction alert.
type AlertType string

const (
	AlertHighValue           AlertType = "HighValue"
	AlertVelocity            AlertType = "Velocity"
	AlertNewPayee            AlertType = "NewPayee"
	AlertFailedLoginTransfer AlertType = "FailedLoginTransfer"
	AlertGeoMismatch         AlertType = "GeoMismatch"
	AlertStructuring         AlertType = "Structuring"
	AlertCrossChannel        AlertType = "CrossChannel"
	AlertHighRiskLocation    AlertType = "HighRiskLocation"
)

// Action is the decision recorded for an investigation.
type Action string

const (
	ActionEscalate           Action = "ESCALATE"
	ActionAutoClose          Action = "AUTO_CLOSE"
	ActionHumanReview        Action = "HUMAN_REVIEW"
	ActionInvestigateFurther Action = "INVESTIGATE_FURTHER"

	// ActionError marks a run that failed before a decision was reached.
	ActionError Action = "ERROR"
)

// OutcomeType classifies a final decision.
type OutcomeType string

const (
	OutcomeTruePositive       OutcomeType = "true_positive"
	OutcomeFalsePositive      OutcomeType = "false_positive"
	OutcomeUnderInvestigation OutcomeType = "under_investigation"
	OutcomeAutoClosed         OutcomeType = "auto_closed"
)

// ReviewStatus is the review marker stored on an alert row.
type ReviewStatus int

const (
	ReviewPending      ReviewStatus = 0
	ReviewInvestigated ReviewStatus = 1
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Alert is a row of the alerts table.
type Alert struct {
	AlertID       string    `json:"alert_id"`
	UserID        string    `json:"user_id"`
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	AlertType     AlertType `json:"alert_type"`
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description,omitempty"`
	ReviewStatus  int       `json:"review_status"`
}

// AlertContext is an alert joined with the facts of its transaction, user and
// account. Ingestion places it into the context under "alert_basic".
type AlertContext struct {
	Alert
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Merchant        string  `json:"merchant,omitempty"`
	TransactionType string  `json:"transaction_type,omitempty"`
	Location        string  `json:"location,omitempty"`
	DeviceID        string  `json:"device_id,omitempty"`
	IPAddress       string  `json:"ip_address,omitempty"`
	PayeeID         string  `json:"payee_id,omitempty"`
	UserName        string  `json:"user_name,omitempty"`
	UserLocation    string  `json:"user_location,omitempty"`
	AccountType     string  `json:"account_type,omitempty"`
	CurrentBalance  float64 `json:"current_balance"`
}

// Judgement is one append-only audit record written by a stage invocation.
type Judgement struct {
	ID              string          `json:"judgement_id"`
	AlertID         string          `json:"alert_id"`
	Stage           string          `json:"agent_name"`
	Action          string          `json:"action"`
	Confidence      float64         `json:"confidence"`
	Rationale       json.RawMessage `json:"rationale"`
	LoopIteration   int             `json:"loop_iteration"`
	QueriesExecuted []string        `json:"queries_executed,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Outcome is the persisted final decision for an alert. There is at most one
// per alert; re-finalizing overwrites it but never clears HumanVerified.
type Outcome struct {
	ID                   string          `json:"outcome_id"`
	AlertID              string          `json:"alert_id"`
	FinalOutcome         Action          `json:"final_outcome"`
	IsSuspicious         bool            `json:"is_suspicious"`
	ConfidenceScore      float64         `json:"confidence_score"`
	InvestigationSummary string          `json:"investigation_summary"`
	HumanVerified        bool            `json:"human_verified"`
	AgentOutputs         json.RawMessage `json:"agent_outputs,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
}

// Result is the terminal record returned for one investigation run.
// IsSuspicious is nil only for ERROR results.
type Result struct {
	AlertID              string         `json:"alert_id"`
	Outcome              Action         `json:"outcome"`
	OutcomeType          OutcomeType    `json:"outcome_type,omitempty"`
	IsSuspicious         *bool          `json:"is_suspicious"`
	Confidence           float64        `json:"confidence"`
	InvestigationSummary string         `json:"investigation_summary,omitempty"`
	RiskFactors          []string       `json:"risk_factors,omitempty"`
	LoopsExecuted        int            `json:"loops_executed"`
	TotalQueries         int            `json:"total_queries"`
	AgentOutputs         map[string]any `json:"agent_outputs,omitempty"`
	Error                string         `json:"error,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
	CompletedAt          time.Time      `json:"completed_at"`
	Duration             float64        `json:"duration_seconds"`
}

// OutcomeBucket is one (final_outcome, is_suspicious) group of stored outcomes.
type OutcomeBucket struct {
	FinalOutcome  Action  `json:"final_outcome"`
	IsSuspicious  bool    `json:"is_suspicious"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Stats summarizes stored outcomes.
type Stats struct {
	TotalInvestigations int             `json:"total_investigations"`
	Outcomes            []OutcomeBucket `json:"outcomes"`
	TruePositives       int             `json:"true_positives"`
	FalsePositives      int             `json:"false_positives"`
	UnderInvestigation  int             `json:"under_investigation"`
}

// History is the audit trail and current outcome of one alert.
type History struct {
	AlertID    string      `json:"alert_id"`
	Judgements []Judgement `json:"judgements"`
	Outcome    *Outcome    `json:"outcome,omitempty"`
}

func boolPtr(b bool) *bool { return &b }
