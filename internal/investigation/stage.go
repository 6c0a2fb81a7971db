package investigation

import (
	"context"
	"fmt"
)

// Stage names, also the keys under which stages record their outputs.
const (
	StageIngestion   = "IngestionAgent"
	StagePattern     = "PatternRecognitionAgent"
	StageExplanation = "ExplanationAgent"
	StageRisk        = "RiskAssessmentAgent"
)

// Stage is one unit of the investigation workflow. Execute must not mutate
// the State it is given and must append exactly one Judgement per call.
// Soft failures are reported through Update.Success; a returned error aborts
// the run.
type Stage interface {
	Name() string
	Execute(ctx context.Context, s *State) (*Update, error)
}

// Registry maps stage names to implementations.
type Registry map[string]Stage

// NewRegistry indexes stages by their Name.
func NewRegistry(stages ...Stage) Registry {
	r := make(Registry, len(stages))
	for _, st := range stages {
		r[st.Name()] = st
	}
	return r
}

func (r Registry) validate() error {
	for _, name := range []string{StageIngestion, StagePattern, StageExplanation, StageRisk} {
		if _, ok := r[name]; !ok {
			return fmt.Errorf("stage %q not registered", name)
		}
	}
	return nil
}
