package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/investigation/memstore"
)

func TestResultContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		c    float64
		want string
	}{
		{0.9, ContextTruePositive},
		{0.7, ContextTruePositive},
		{0.6, ContextHumanReview},
		{0.5, ContextFalsePositive},
		{0.1, ContextFalsePositive},
	}
	for _, tt := range tests {
		if got := resultContext(tt.c); got != tt.want {
			t.Errorf("resultContext(%v) = %q, want %q", tt.c, got, tt.want)
		}
	}
}

func TestSummarizeEvidence(t *testing.T) {
	t.Parallel()

	ev := map[string]any{
		"query_1_sql":     "SELECT a",
		"query_1_results": []investigation.Row{{"x": 1}, {"x": 2}},
		"query_1_count":   2,
		"query_2_sql":     "SELECT b",
		"query_2_results": []investigation.Row{},
		"query_2_count":   0,
		"query_3_sql":     "SELECT c",
		"query_3_error":   "boom",
	}

	got := summarizeEvidence(ev)
	want := EvidenceSummary{
		TotalQueriesExecuted: 3,
		// 2 rows + 0 rows + three scalar entries
		TotalDataPoints: 5,
		KeyFindings:     []string{"query_1_results: 2 records found"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summarizeEvidence mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTrail(t *testing.T) {
	t.Parallel()

	s := investigation.NewState("a-1", 3)
	s.LoopCount = 2
	s.AgentOutputs[investigation.StageIngestion] = &IngestionOutput{InvestigationGoal: strings.Repeat("g", 300)}
	s.AgentOutputs[investigation.StagePattern] = &PatternOutput{OverallConfidence: 0.65}

	trail := buildTrail(s, ContextHumanReview)
	if len(trail) != 2 {
		t.Fatalf("len(trail) = %d, want 2", len(trail))
	}
	if trail[0].Agent != investigation.StageIngestion || trail[1].Agent != investigation.StagePattern {
		t.Errorf("trail order = %s, %s", trail[0].Agent, trail[1].Agent)
	}
	if n := len(trail[0].KeyFindings); n != trailFindingsLimit+3 || !strings.HasSuffix(trail[0].KeyFindings, "...") {
		t.Errorf("KeyFindings length = %d, want truncated to %d + ...", n, trailFindingsLimit)
	}
	if trail[1].ConfidenceContributed != 0.65 {
		t.Errorf("ConfidenceContributed = %v, want 0.65", trail[1].ConfidenceContributed)
	}
	for _, e := range trail {
		if e.LoopIteration != 2 || e.ResultContext != ContextHumanReview {
			t.Errorf("entry = %+v", e)
		}
	}
}

func TestExplanation_Execute(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	llm := (&scriptedLLM{}).
		on(promptRationale, `{"key_points":["Amount 40x above average","First transfer to payee"],"risk_level":"HIGH","recommendation":"ESCALATE","confidence_factors":[],"investigation_summary":"Likely fraud","confidence":0.91}`).
		on(promptExplanation, "The transfer is far outside this user's history.")

	s := stateWith(testAlert("a-1", investigation.AlertHighValue), map[string]any{
		"query_1_sql":     "SELECT 1",
		"query_1_results": []investigation.Row{{"a": 1}},
	})
	s.AgentOutputs[investigation.StagePattern] = &PatternOutput{OverallConfidence: 0.85}
	s.ConfidenceScore = 0.85

	u, err := NewExplanation(st, llm, nil).Execute(context.Background(), s)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !u.Success {
		t.Error("explanation always succeeds")
	}
	out := u.Output.(*ExplanationOutput)
	if out.ResultContext != ContextTruePositive {
		t.Errorf("ResultContext = %q, want %q", out.ResultContext, ContextTruePositive)
	}
	if out.Explanation != "The transfer is far outside this user's history." {
		t.Errorf("Explanation = %q", out.Explanation)
	}
	if diff := cmp.Diff([]string{"Amount 40x above average", "First transfer to payee"}, u.RiskFactors); diff != "" {
		t.Errorf("RiskFactors mismatch (-want +got):\n%s", diff)
	}
	if u.Confidence != nil || u.Verdict != nil {
		t.Error("explanation must not set the decision confidence or verdict")
	}

	js, _ := st.Judgements(context.Background(), "a-1")
	if len(js) != 1 || js[0].Action != "explanation_generated" || js[0].Confidence != 0.91 {
		t.Errorf("judgements = %+v", js)
	}
	if llm.calls("True Positive") < 2 {
		t.Error("both prompts should carry the verdict")
	}
}

func TestExplanation_FallbackRationale(t *testing.T) {
	t.Parallel()

	llm := (&scriptedLLM{}).
		on(promptRationale, "Sorry, here is prose instead of JSON.").
		on(promptExplanation, "Short explanation.")

	s := stateWith(testAlert("a-1", investigation.AlertHighValue), nil)
	s.AgentOutputs[investigation.StagePattern] = &PatternOutput{OverallConfidence: 0.6}

	u, err := NewExplanation(memstore.New(), llm, nil).Execute(context.Background(), s)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := u.Output.(*ExplanationOutput)
	if out.ResultContext != ContextHumanReview {
		t.Errorf("ResultContext = %q, want %q", out.ResultContext, ContextHumanReview)
	}
	if out.Rationale.InvestigationSummary != "Short explanation." || out.Rationale.Confidence != 0.5 {
		t.Errorf("Rationale = %+v, want the fallback", out.Rationale)
	}
	if diff := cmp.Diff([]string{"Analysis generated"}, u.RiskFactors); diff != "" {
		t.Errorf("RiskFactors mismatch (-want +got):\n%s", diff)
	}
}
