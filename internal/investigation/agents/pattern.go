package agents

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

// Analysis is the structured verdict parsed from the model reply.
type Analysis struct {
	Patterns       []string       `json:"patterns"`
	RiskIndicators []string       `json:"risk_indicators"`
	Confidence     float64        `json:"confidence"`
	Evidence       map[string]any `json:"evidence"`
}

func emptyAnalysis() *Analysis {
	return &Analysis{
		Patterns:       []string{},
		RiskIndicators: []string{},
		Evidence:       map[string]any{},
	}
}

// parseAnalysis decodes a model reply into an Analysis. Anything unusable
// yields the zero-confidence default.
func parseAnalysis(reply string) *Analysis {
	m, ok := decodeObject(reply)
	if !ok {
		return emptyAnalysis()
	}
	a := emptyAnalysis()
	a.Patterns = stringList(m["patterns"])
	a.RiskIndicators = stringList(m["risk_indicators"])
	if c, ok := number(m["confidence"]); ok {
		a.Confidence = clamp01(c)
	}
	if ev, ok := m["evidence"].(map[string]any); ok {
		a.Evidence = ev
	}
	return a
}

// PatternOutput is recorded under PatternRecognitionAgent. LLMAnalysis is nil
// when a detector decided.
type PatternOutput struct {
	LLMAnalysis       *Analysis      `json:"llm_analysis"`
	OverallConfidence float64        `json:"overall_confidence"`
	RiskFactors       []string       `json:"risk_factors"`
	Evidence          map[string]any `json:"evidence,omitempty"`
	RulesUsed         []RuleMatch    `json:"rules_used"`
	MatchedTier       int            `json:"matched_tier"`
	Detector          string         `json:"detector,omitempty"`
}

// PatternRecognition scores the evidence against the alert type's rules.
type PatternRecognition struct {
	base
	llm       investigation.Completer
	cfg       investigation.Config
	detectors map[investigation.AlertType]Detector
}

// NewPatternRecognition creates the pattern stage. A detector registered for
// an alert type is consulted before the model.
func NewPatternRecognition(store Store, llm investigation.Completer, cfg investigation.Config, logger log.Logger, detectors ...Detector) *PatternRecognition {
	byType := make(map[investigation.AlertType]Detector, len(detectors))
	for _, d := range detectors {
		byType[d.AlertType()] = d
	}
	return &PatternRecognition{
		base:      newBase(investigation.StagePattern, store, logger),
		llm:       llm,
		cfg:       cfg,
		detectors: byType,
	}
}

// Execute implements investigation.Stage.
func (p *PatternRecognition) Execute(ctx context.Context, s *investigation.State) (*investigation.Update, error) {
	L := p.scoped(s)

	alert := s.AlertContext()
	if alert == nil {
		alert = &investigation.AlertContext{}
	}
	defs := ruleDefinitions(p.cfg.HighRiskLocations)

	out := &PatternOutput{}
	if d, ok := p.detectors[alert.AlertType]; ok {
		if det, ok := d.Detect(alert, s.EvidenceCollected); ok {
			out.OverallConfidence = det.Confidence
			out.RiskFactors = det.RiskFactors
			out.Evidence = det.Evidence
			out.Detector = string(d.AlertType())
		}
	}
	if out.Detector == "" {
		a := parseAnalysis(complete(ctx, p.llm, L, "pattern_analysis", patternPrompt(alert, s.EvidenceCollected, defs)))
		out.LLMAnalysis = a
		out.OverallConfidence = a.Confidence
		out.RiskFactors = a.RiskIndicators
		out.Evidence = a.Evidence
	}
	if out.RiskFactors == nil {
		out.RiskFactors = []string{}
	}
	out.MatchedTier = tierFor(out.OverallConfidence)
	out.RulesUsed = rulesUsed(alert.AlertType, defs, out.MatchedTier)

	if err := p.judge(ctx, s, "pattern_analysis_complete", out.OverallConfidence, out, nil); err != nil {
		return nil, err
	}

	u := &investigation.Update{
		Success:     true,
		Output:      out,
		RiskFactors: out.RiskFactors,
		Confidence:  ptr(out.OverallConfidence),
	}

	if out.OverallConfidence < p.cfg.PatternConfidenceThreshold && s.LoopCount < s.MaxLoops {
		hint := map[string]any{
			investigation.ContextNeedDeeperAnalysis: true,
			investigation.ContextAmbiguousPatterns:  map[string]any{},
		}
		if out.LLMAnalysis != nil {
			hint[investigation.ContextAmbiguousPatterns] = out.LLMAnalysis
		}
		u.Success = false
		u.LoopHint = hint
		L.Info(ctx, "pattern confidence below threshold, requesting deeper analysis",
			"confidence", out.OverallConfidence,
			"threshold", p.cfg.PatternConfidenceThreshold,
		)
		return u, nil
	}

	L.Info(ctx, "pattern analysis complete",
		"confidence", out.OverallConfidence,
		"tier", out.MatchedTier,
		"detector", out.Detector,
	)
	return u, nil
}
