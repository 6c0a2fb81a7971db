package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/investigation/memstore"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	cfg := investigation.DefaultConfig()
	tests := []struct {
		name       string
		c          float64
		loops      int
		want       investigation.Action
		outcome    investigation.OutcomeType
		suspicious *bool
	}{
		{"escalate", 0.85, 0, investigation.ActionEscalate, investigation.OutcomeTruePositive, ptr(true)},
		{"escalate at threshold", 0.7, 0, investigation.ActionEscalate, investigation.OutcomeTruePositive, ptr(true)},
		{"auto close", 0.1, 0, investigation.ActionAutoClose, investigation.OutcomeFalsePositive, ptr(false)},
		{"auto close at threshold", 0.3, 0, investigation.ActionAutoClose, investigation.OutcomeFalsePositive, ptr(false)},
		{"medium with budget", 0.5, 1, investigation.ActionInvestigateFurther, investigation.OutcomeUnderInvestigation, nil},
		{"medium at bound", 0.5, 3, investigation.ActionHumanReview, investigation.OutcomeUnderInvestigation, ptr(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := decide(tt.c, cfg, tt.loops, 3)
			if v.Decision != tt.want {
				t.Errorf("Decision = %q, want %q", v.Decision, tt.want)
			}
			if v.OutcomeType != tt.outcome {
				t.Errorf("OutcomeType = %q, want %q", v.OutcomeType, tt.outcome)
			}
			if diff := cmp.Diff(tt.suspicious, v.IsSuspicious); diff != "" {
				t.Errorf("IsSuspicious mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecide_SummaryFormat(t *testing.T) {
	t.Parallel()

	v := decide(0.85, investigation.DefaultConfig(), 0, 3)
	if want := "HIGH RISK: Confidence 0.85. Multiple risk factors detected."; v.Summary != want {
		t.Errorf("Summary = %q, want %q", v.Summary, want)
	}
	v = decide(0.6, investigation.DefaultConfig(), 3, 3)
	if want := "MEDIUM RISK: Confidence 0.60. Requires human judgment after max loops."; v.Summary != want {
		t.Errorf("Summary = %q, want %q", v.Summary, want)
	}
}

func TestRiskLevel(t *testing.T) {
	t.Parallel()

	for c, want := range map[float64]string{0.95: "HIGH", 0.8: "HIGH", 0.79: "MEDIUM", 0.5: "MEDIUM", 0.49: "LOW"} {
		if got := riskLevel(c); got != want {
			t.Errorf("riskLevel(%v) = %q, want %q", c, got, want)
		}
	}
}

func TestKeyIndicators(t *testing.T) {
	t.Parallel()

	p := &PatternOutput{LLMAnalysis: &Analysis{RiskIndicators: []string{"a", "b", "a"}}}
	e := &ExplanationOutput{Rationale: &Rationale{KeyPoints: []string{"b", "c", "d", "e", "f"}}}

	want := []string{"a", "b", "c", "d", "e"}
	if diff := cmp.Diff(want, keyIndicators(p, e)); diff != "" {
		t.Errorf("keyIndicators mismatch (-want +got):\n%s", diff)
	}
	if got := keyIndicators(&PatternOutput{}, &ExplanationOutput{}); got == nil || len(got) != 0 {
		t.Errorf("keyIndicators(empty) = %v, want empty list", got)
	}
}

// riskState returns a State whose pattern stage scored c.
func riskState(c float64, loops int) *investigation.State {
	s := stateWith(testAlert("a-1", investigation.AlertHighValue), nil)
	s.LoopCount = loops
	s.AgentOutputs[investigation.StagePattern] = &PatternOutput{OverallConfidence: c, RiskFactors: []string{"Unusual amount"}}
	s.AgentOutputs[investigation.StageExplanation] = &ExplanationOutput{Rationale: &Rationale{KeyPoints: []string{"Point"}, Confidence: 0.99}}
	return s
}

func TestRisk_EscalatePersistsOutcome(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	st.PutAlert(testAlert("a-1", investigation.AlertHighValue))

	u, err := NewRiskAssessment(st, investigation.DefaultConfig(), nil).Execute(context.Background(), riskState(0.85, 0))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !u.Success {
		t.Fatal("expected Success=true on a terminal decision")
	}
	if u.Verdict.Decision != investigation.ActionEscalate || *u.Verdict.IsSuspicious != true {
		t.Errorf("Verdict = %+v", u.Verdict)
	}
	if *u.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want the pattern confidence 0.85", *u.Confidence)
	}

	o, ok, _ := st.GetOutcome(context.Background(), "a-1")
	if !ok {
		t.Fatal("expected an outcome")
	}
	if o.FinalOutcome != investigation.ActionEscalate || !o.IsSuspicious || o.ConfidenceScore != 0.85 {
		t.Errorf("outcome = %+v", o)
	}
	if len(o.AgentOutputs) == 0 {
		t.Error("outcome should carry the agent outputs")
	}
	a, _, _ := st.AlertContext(context.Background(), "a-1")
	if a.ReviewStatus != int(investigation.ReviewInvestigated) {
		t.Errorf("ReviewStatus = %d, want investigated", a.ReviewStatus)
	}
	if got := judgementActions(t, st, "a-1"); len(got) != 1 || got[0] != "ESCALATE" {
		t.Errorf("judgements = %v", got)
	}
}

func TestRisk_InvestigateFurtherLoopsBackWithoutPersisting(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	u, err := NewRiskAssessment(st, investigation.DefaultConfig(), nil).Execute(context.Background(), riskState(0.6, 1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if u.Success {
		t.Error("expected Success=false for a loop-back")
	}
	if diff := cmp.Diff(map[string]any{investigation.ContextNeedDeeperAnalysis: true}, u.LoopHint); diff != "" {
		t.Errorf("LoopHint mismatch (-want +got):\n%s", diff)
	}
	if u.Verdict.IsSuspicious != nil {
		t.Error("IsSuspicious should stay undetermined while investigating further")
	}
	if _, ok, _ := st.GetOutcome(context.Background(), "a-1"); ok {
		t.Error("no outcome should be written before the final decision")
	}
}

func TestRisk_HumanReviewAtBound(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	u, err := NewRiskAssessment(st, investigation.DefaultConfig(), nil).Execute(context.Background(), riskState(0.6, 3))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !u.Success || u.Verdict.Decision != investigation.ActionHumanReview {
		t.Errorf("Success=%v Decision=%q, want HUMAN_REVIEW", u.Success, u.Verdict.Decision)
	}
	o, ok, _ := st.GetOutcome(context.Background(), "a-1")
	if !ok || !o.IsSuspicious {
		t.Errorf("outcome = %+v, want suspicious HUMAN_REVIEW", o)
	}
}

func TestRisk_PreservesHumanVerified(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	ctx := context.Background()
	_ = st.UpsertOutcome(ctx, &investigation.Outcome{ID: "o-1", AlertID: "a-1", HumanVerified: true, Timestamp: time.Now()})

	if _, err := NewRiskAssessment(st, investigation.DefaultConfig(), nil).Execute(ctx, riskState(0.1, 0)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	o, _, _ := st.GetOutcome(ctx, "a-1")
	if !o.HumanVerified {
		t.Error("HumanVerified was cleared by re-finalizing")
	}
	if o.FinalOutcome != investigation.ActionAutoClose {
		t.Errorf("FinalOutcome = %q, want AUTO_CLOSE", o.FinalOutcome)
	}
}

func TestRisk_ReviewStatusFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	st := &faultyStore{Store: memstore.New(), reviewErr: errWrite}
	u, err := NewRiskAssessment(st, investigation.DefaultConfig(), nil).Execute(context.Background(), riskState(0.9, 0))
	if err != nil {
		t.Fatalf("Execute: %v, want review status failure swallowed", err)
	}
	if !u.Success {
		t.Error("expected Success=true")
	}
}

func TestRisk_UpsertFailurePropagates(t *testing.T) {
	t.Parallel()

	st := &faultyStore{Store: memstore.New(), upsertErr: errWrite}
	_, err := NewRiskAssessment(st, investigation.DefaultConfig(), nil).Execute(context.Background(), riskState(0.9, 0))
	if !errors.Is(err, errWrite) {
		t.Errorf("err = %v, want %v", err, errWrite)
	}
}

func TestRisk_UsesPatternNotRationaleConfidence(t *testing.T) {
	t.Parallel()

	// Rationale confidence is 0.99 but the pattern scored 0.2.
	u, err := NewRiskAssessment(memstore.New(), investigation.DefaultConfig(), nil).Execute(context.Background(), riskState(0.2, 0))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if u.Verdict.Decision != investigation.ActionAutoClose {
		t.Errorf("Decision = %q, want AUTO_CLOSE", u.Verdict.Decision)
	}
	out := u.Output.(*RiskOutput)
	if diff := cmp.Diff([]string{"Unusual amount", "Point"}, out.RiskFactors); diff != "" {
		t.Errorf("RiskFactors mismatch (-want +got):\n%s", diff)
	}
	if out.RiskLevel != "LOW" {
		t.Errorf("RiskLevel = %q, want LOW", out.RiskLevel)
	}
}
