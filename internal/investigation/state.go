package investigation

// State is the record threaded through one investigation run. Stages read it
// and return an Update; only the workflow's merge step writes to it.
type State struct {
	AlertID              string
	ContextData          map[string]any
	AgentOutputs         map[string]any
	RiskFactors          []string
	QueriesExecuted      []string
	EvidenceCollected    map[string]any
	ConfidenceScore      float64
	LoopCount            int
	MaxLoops             int
	FinalDecision        Action
	OutcomeType          OutcomeType
	InvestigationSummary string
	IsSuspicious         *bool
}

// NewState returns a fresh State for alertID.
func NewState(alertID string, maxLoops int) *State {
	return &State{
		AlertID:           alertID,
		ContextData:       map[string]any{},
		AgentOutputs:      map[string]any{},
		EvidenceCollected: map[string]any{},
		MaxLoops:          maxLoops,
	}
}

// AlertContext returns the alert facts placed in the context by ingestion,
// or nil if ingestion has not succeeded in this pass.
func (s *State) AlertContext() *AlertContext {
	ac, _ := s.ContextData[ContextAlertBasic].(*AlertContext)
	return ac
}

// Context keys shared between stages.
const (
	ContextAlertBasic         = "alert_basic"
	ContextInvestigationGoal  = "investigation_goal"
	ContextLoopIteration      = "loop_iteration"
	ContextNeedDeeperAnalysis = "need_deeper_analysis"
	ContextAmbiguousPatterns  = "ambiguous_patterns"
)

// Update is what a stage returns. Each field names something the stage is
// authoritative for; nil and empty fields leave State untouched.
type Update struct {
	// Success false asks the router for a loop-back (pattern and risk
	// stages) or reports a soft failure (ingestion).
	Success bool

	// Output is stored in AgentOutputs under the emitting stage's name.
	Output any

	// ContextData replaces State.ContextData when the run continues.
	ContextData map[string]any

	// LoopHint replaces State.ContextData when the router loops back.
	LoopHint map[string]any

	RiskFactors []string
	Queries     []string

	// Evidence replaces State.EvidenceCollected.
	Evidence map[string]any

	Confidence *float64
	Verdict    *Verdict
}

// Verdict carries the fields only risk assessment may set.
type Verdict struct {
	Decision     Action
	OutcomeType  OutcomeType
	Summary      string
	IsSuspicious *bool
}

// apply merges u into s following the decision the router took for it.
func (s *State) apply(stage string, u *Update, d Decision) {
	if u.Output != nil {
		s.AgentOutputs[stage] = u.Output
	}
	s.RiskFactors = append(s.RiskFactors, u.RiskFactors...)
	s.QueriesExecuted = append(s.QueriesExecuted, u.Queries...)
	if u.Evidence != nil {
		s.EvidenceCollected = u.Evidence
	}
	if u.Confidence != nil {
		s.ConfidenceScore = *u.Confidence
	}
	if v := u.Verdict; v != nil {
		s.FinalDecision = v.Decision
		s.OutcomeType = v.OutcomeType
		s.InvestigationSummary = v.Summary
		s.IsSuspicious = v.IsSuspicious
	}

	switch d {
	case LoopBack:
		hint := make(map[string]any, len(u.LoopHint))
		for k, v := range u.LoopHint {
			hint[k] = v
		}
		s.ContextData = hint
		s.LoopCount++
	case Finalize:
		if s.IsSuspicious == nil {
			s.IsSuspicious = boolPtr(false)
		}
	default:
		if u.ContextData != nil {
			s.ContextData = u.ContextData
		}
	}
}

// result converts a finished State into its terminal record.
func (s *State) result() *Result {
	outputs := make(map[string]any, len(s.AgentOutputs))
	for k, v := range s.AgentOutputs {
		outputs[k] = v
	}
	return &Result{
		AlertID:              s.AlertID,
		Outcome:              s.FinalDecision,
		OutcomeType:          s.OutcomeType,
		IsSuspicious:         s.IsSuspicious,
		Confidence:           s.ConfidenceScore,
		InvestigationSummary: s.InvestigationSummary,
		RiskFactors:          append([]string(nil), s.RiskFactors...),
		LoopsExecuted:        s.LoopCount,
		TotalQueries:         len(s.QueriesExecuted),
		AgentOutputs:         outputs,
	}
}
