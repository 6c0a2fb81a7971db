package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

const maxKeyIndicators = 5

// RiskOutput is recorded under RiskAssessmentAgent.
type RiskOutput struct {
	FinalConfidence    float64                   `json:"final_confidence"`
	RiskLevel          string                    `json:"risk_level"`
	RiskFactors        []string                  `json:"risk_factors"`
	InvestigationLoops int                       `json:"investigation_loops"`
	KeyIndicators      []string                  `json:"key_indicators"`
	Decision           investigation.Action      `json:"decision"`
	OutcomeType        investigation.OutcomeType `json:"outcome_type"`
	Summary            string                    `json:"summary"`
}

// RiskAssessment renders the terminal decision and persists the outcome.
type RiskAssessment struct {
	base
	cfg investigation.Config
}

// NewRiskAssessment creates the risk stage.
func NewRiskAssessment(store Store, cfg investigation.Config, logger log.Logger) *RiskAssessment {
	return &RiskAssessment{
		base: newBase(investigation.StageRisk, store, logger),
		cfg:  cfg,
	}
}

func riskLevel(c float64) string {
	switch {
	case c >= 0.8:
		return "HIGH"
	case c >= 0.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// decide applies the decision policy in order: escalate, auto-close, then
// the medium band which goes to a human once the loop budget is spent.
func decide(c float64, cfg investigation.Config, loopCount, maxLoops int) investigation.Verdict {
	switch {
	case c >= cfg.RiskThreshold:
		return investigation.Verdict{
			Decision:     investigation.ActionEscalate,
			OutcomeType:  investigation.OutcomeTruePositive,
			Summary:      fmt.Sprintf("HIGH RISK: Confidence %.2f. Multiple risk factors detected.", c),
			IsSuspicious: ptr(true),
		}
	case c <= cfg.AutoCloseThreshold:
		return investigation.Verdict{
			Decision:     investigation.ActionAutoClose,
			OutcomeType:  investigation.OutcomeFalsePositive,
			Summary:      fmt.Sprintf("LOW RISK: Confidence %.2f. Likely false positive.", c),
			IsSuspicious: ptr(false),
		}
	case loopCount >= maxLoops:
		return investigation.Verdict{
			Decision:     investigation.ActionHumanReview,
			OutcomeType:  investigation.OutcomeUnderInvestigation,
			Summary:      fmt.Sprintf("MEDIUM RISK: Confidence %.2f. Requires human judgment after max loops.", c),
			IsSuspicious: ptr(true),
		}
	default:
		return investigation.Verdict{
			Decision:    investigation.ActionInvestigateFurther,
			OutcomeType: investigation.OutcomeUnderInvestigation,
			Summary:     fmt.Sprintf("MEDIUM RISK: Confidence %.2f. Need more investigation.", c),
		}
	}
}

// keyIndicators merges model risk indicators and explanation key points,
// dropping repeats and keeping the first few.
func keyIndicators(p *PatternOutput, e *ExplanationOutput) []string {
	var all []string
	if p.LLMAnalysis != nil {
		all = append(all, p.LLMAnalysis.RiskIndicators...)
	}
	if e.Rationale != nil {
		all = append(all, e.Rationale.KeyPoints...)
	}

	seen := make(map[string]struct{}, len(all))
	out := []string{}
	for _, s := range all {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == maxKeyIndicators {
			break
		}
	}
	return out
}

// Execute implements investigation.Stage.
func (r *RiskAssessment) Execute(ctx context.Context, s *investigation.State) (*investigation.Update, error) {
	L := r.scoped(s)

	pattern := patternOutput(s)
	expl := explanationOutput(s)
	c := pattern.OverallConfidence

	factors := append([]string{}, pattern.RiskFactors...)
	if expl.Rationale != nil {
		factors = append(factors, expl.Rationale.KeyPoints...)
	}

	v := decide(c, r.cfg, s.LoopCount, s.MaxLoops)
	out := &RiskOutput{
		FinalConfidence:    c,
		RiskLevel:          riskLevel(c),
		RiskFactors:        factors,
		InvestigationLoops: s.LoopCount,
		KeyIndicators:      keyIndicators(pattern, expl),
		Decision:           v.Decision,
		OutcomeType:        v.OutcomeType,
		Summary:            v.Summary,
	}

	if err := r.judge(ctx, s, string(v.Decision), c, out, nil); err != nil {
		return nil, err
	}

	u := &investigation.Update{
		Output:     out,
		Confidence: ptr(c),
		Verdict:    &v,
	}

	if v.Decision == investigation.ActionInvestigateFurther && s.LoopCount < s.MaxLoops {
		u.LoopHint = map[string]any{investigation.ContextNeedDeeperAnalysis: true}
		L.Info(ctx, "medium risk, investigating further", "confidence", c, "risk_level", out.RiskLevel)
		return u, nil
	}

	if v.IsSuspicious == nil {
		v.IsSuspicious = ptr(false)
	}
	if err := r.persist(ctx, s, out, &v); err != nil {
		return nil, err
	}
	if err := r.store.SetReviewStatus(ctx, s.AlertID, investigation.ReviewInvestigated); err != nil {
		L.Warn(ctx, "failed to mark alert investigated", "error", err.Error())
	}

	L.Info(ctx, "final decision",
		"decision", v.Decision,
		"confidence", c,
		"risk_level", out.RiskLevel,
	)
	u.Success = true
	return u, nil
}

func (r *RiskAssessment) persist(ctx context.Context, s *investigation.State, out *RiskOutput, v *investigation.Verdict) error {
	outputs := make(map[string]any, len(s.AgentOutputs)+1)
	for k, o := range s.AgentOutputs {
		outputs[k] = o
	}
	outputs[r.name] = out

	raw, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal agent outputs: %w", err)
	}

	o := &investigation.Outcome{
		ID:                   ulid.Make().String(),
		AlertID:              s.AlertID,
		FinalOutcome:         v.Decision,
		IsSuspicious:         *v.IsSuspicious,
		ConfidenceScore:      out.FinalConfidence,
		InvestigationSummary: v.Summary,
		AgentOutputs:         raw,
		Timestamp:            time.Now().UTC(),
	}
	if err := r.store.UpsertOutcome(ctx, o); err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}
