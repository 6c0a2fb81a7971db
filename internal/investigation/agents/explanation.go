package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

// Result contexts used by the explanation.
const (
	ContextTruePositive  = "True Positive"
	ContextFalsePositive = "False Positive"
	ContextHumanReview   = "Human Review"
)

const trailFindingsLimit = 100

// Rationale is the structured summary requested from the model.
type Rationale struct {
	KeyPoints            []string `json:"key_points"`
	RiskLevel            string   `json:"risk_level"`
	Recommendation       string   `json:"recommendation"`
	ConfidenceFactors    []string `json:"confidence_factors"`
	InvestigationSummary string   `json:"investigation_summary"`
	Confidence           float64  `json:"confidence"`
}

// EvidenceSummary counts what ingestion collected.
type EvidenceSummary struct {
	TotalQueriesExecuted int      `json:"total_queries_executed"`
	TotalDataPoints      int      `json:"total_data_points"`
	KeyFindings          []string `json:"key_findings"`
}

// TrailEntry describes one earlier stage output.
type TrailEntry struct {
	Agent                 string  `json:"agent"`
	LoopIteration         int     `json:"loop_iteration"`
	KeyFindings           string  `json:"key_findings"`
	ConfidenceContributed float64 `json:"confidence_contributed"`
	ResultContext         string  `json:"result_context"`
}

// ExplanationOutput is recorded under ExplanationAgent.
type ExplanationOutput struct {
	Explanation        string          `json:"explanation"`
	Rationale          *Rationale      `json:"rationale"`
	EvidenceSummary    EvidenceSummary `json:"evidence_summary"`
	InvestigationTrail []TrailEntry    `json:"investigation_trail"`
	ResultContext      string          `json:"result_context"`
}

// Explanation writes the human-readable account of the pattern verdict.
type Explanation struct {
	base
	llm investigation.Completer
}

// NewExplanation creates the explanation stage.
func NewExplanation(store Store, llm investigation.Completer, logger log.Logger) *Explanation {
	return &Explanation{
		base: newBase(investigation.StageExplanation, store, logger),
		llm:  llm,
	}
}

// resultContext buckets the pattern confidence for the explanation. The cut
// points are its own and differ from the pattern tiers at exactly 0.5.
func resultContext(c float64) string {
	switch {
	case c >= 0.7:
		return ContextTruePositive
	case c <= 0.5:
		return ContextFalsePositive
	default:
		return ContextHumanReview
	}
}

// Execute implements investigation.Stage.
func (e *Explanation) Execute(ctx context.Context, s *investigation.State) (*investigation.Update, error) {
	L := e.scoped(s)

	alert := s.AlertContext()
	if alert == nil {
		alert = &investigation.AlertContext{}
	}
	pattern := patternOutput(s)
	rc := resultContext(pattern.OverallConfidence)

	text := complete(ctx, e.llm, L, "explanation", explanationPrompt(alert, pattern, rc))
	rationale := parseRationale(complete(ctx, e.llm, L, "rationale", rationalePrompt(alert, pattern, text, rc)), text)

	out := &ExplanationOutput{
		Explanation:        text,
		Rationale:          rationale,
		EvidenceSummary:    summarizeEvidence(s.EvidenceCollected),
		InvestigationTrail: buildTrail(s, rc),
		ResultContext:      rc,
	}

	judged := map[string]any{
		"explanation_length":    len(text),
		"key_evidence_points":   len(rationale.KeyPoints),
		"investigation_summary": rationale.InvestigationSummary,
		"result_context":        rc,
	}
	if err := e.judge(ctx, s, "explanation_generated", rationale.Confidence, judged, nil); err != nil {
		return nil, err
	}

	L.Info(ctx, "explanation generated", "result_context", rc, "key_points", len(rationale.KeyPoints))

	return &investigation.Update{
		Success:     true,
		Output:      out,
		RiskFactors: rationale.KeyPoints,
	}, nil
}

func fallbackRationale(explanation string) *Rationale {
	summary := explanation
	if r := []rune(summary); len(r) > 200 {
		summary = string(r[:200])
	}
	return &Rationale{
		KeyPoints:            []string{"Analysis generated"},
		RiskLevel:            "MEDIUM",
		Recommendation:       "INVESTIGATE_FURTHER",
		ConfidenceFactors:    []string{"Pattern analysis completed"},
		InvestigationSummary: summary,
		Confidence:           0.5,
	}
}

// parseRationale decodes the structured rationale. A reply that is not a
// JSON object falls back to a neutral rationale built from the explanation.
func parseRationale(reply, explanation string) *Rationale {
	m, ok := decodeObject(reply)
	if !ok {
		return fallbackRationale(explanation)
	}
	r := &Rationale{
		KeyPoints:            stringList(m["key_points"]),
		RiskLevel:            str(m["risk_level"]),
		Recommendation:       str(m["recommendation"]),
		ConfidenceFactors:    stringList(m["confidence_factors"]),
		InvestigationSummary: str(m["investigation_summary"]),
	}
	if c, ok := number(m["confidence"]); ok {
		r.Confidence = clamp01(c)
	}
	return r
}

// summarizeEvidence counts queries and data points. Keys are visited in
// sorted order so key findings are stable.
func summarizeEvidence(evidence map[string]any) EvidenceSummary {
	sum := EvidenceSummary{KeyFindings: []string{}}
	for _, k := range sortedKeys(evidence) {
		if strings.HasSuffix(k, "_sql") {
			sum.TotalQueriesExecuted++
			continue
		}
		n, isList := listLen(evidence[k])
		if !isList {
			sum.TotalDataPoints++
			continue
		}
		sum.TotalDataPoints += n
		if n > 0 {
			sum.KeyFindings = append(sum.KeyFindings, fmt.Sprintf("%s: %d records found", k, n))
		}
	}
	return sum
}

func listLen(v any) (int, bool) {
	switch t := v.(type) {
	case []investigation.Row:
		return len(t), true
	case []map[string]any:
		return len(t), true
	case []any:
		return len(t), true
	case []string:
		return len(t), true
	default:
		return 0, false
	}
}

// buildTrail lists the outputs recorded so far in stage order.
func buildTrail(s *investigation.State, rc string) []TrailEntry {
	trail := []TrailEntry{}
	for _, name := range []string{investigation.StageIngestion, investigation.StagePattern, investigation.StageExplanation, investigation.StageRisk} {
		out, ok := s.AgentOutputs[name]
		if !ok {
			continue
		}
		entry := TrailEntry{
			Agent:         name,
			LoopIteration: s.LoopCount,
			KeyFindings:   truncateFindings(out),
			ResultContext: rc,
		}
		switch o := out.(type) {
		case *PatternOutput:
			entry.ConfidenceContributed = o.OverallConfidence
		case *ExplanationOutput:
			entry.ResultContext = o.ResultContext
		}
		trail = append(trail, entry)
	}
	return trail
}

func truncateFindings(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if r := []rune(string(b)); len(r) > trailFindingsLimit {
		return string(r[:trailFindingsLimit]) + "..."
	}
	return string(b)
}
