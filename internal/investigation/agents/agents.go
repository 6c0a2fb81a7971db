// Package agents implements the four investigation stages: ingestion,
// pattern recognition, explanation and risk assessment.
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

// Store is the slice of persistence the stages need.
type Store interface {
	AlertContext(ctx context.Context, alertID string) (*investigation.AlertContext, bool, error)
	RunQuery(ctx context.Context, sql string, args ...any) ([]investigation.Row, error)
	AppendJudgement(ctx context.Context, j *investigation.Judgement) error
	UpsertOutcome(ctx context.Context, o *investigation.Outcome) error
	SetReviewStatus(ctx context.Context, alertID string, status investigation.ReviewStatus) error
}

// NewRegistry builds the four stages with the stock detectors.
func NewRegistry(store Store, llm investigation.Completer, cfg investigation.Config, logger log.Logger) investigation.Registry {
	return investigation.NewRegistry(
		NewIngestion(store, llm, logger),
		NewPatternRecognition(store, llm, cfg, logger, DefaultDetectors(cfg)...),
		NewExplanation(store, llm, logger),
		NewRiskAssessment(store, cfg, logger),
	)
}

// base carries what every stage shares: its name, the store used for the
// audit trail, and a logger.
type base struct {
	name   string
	store  Store
	logger log.Logger
}

func newBase(name string, store Store, logger log.Logger) base {
	if logger == nil {
		logger = log.Nop()
	}
	return base{name: name, store: store, logger: logger}
}

// Name implements investigation.Stage.
func (b *base) Name() string { return b.name }

func (b *base) scoped(s *investigation.State) log.Logger {
	return b.logger.With("alert_id", s.AlertID, "stage", b.name, "loop_count", s.LoopCount)
}

// judge appends the one audit record every invocation owes.
func (b *base) judge(ctx context.Context, s *investigation.State, action string, confidence float64, rationale any, queries []string) error {
	raw, err := json.Marshal(rationale)
	if err != nil {
		return fmt.Errorf("marshal rationale: %w", err)
	}
	j := &investigation.Judgement{
		ID:              ulid.Make().String(),
		AlertID:         s.AlertID,
		Stage:           b.name,
		Action:          action,
		Confidence:      confidence,
		Rationale:       raw,
		LoopIteration:   s.LoopCount,
		QueriesExecuted: queries,
		Timestamp:       time.Now().UTC(),
	}
	if err := b.store.AppendJudgement(ctx, j); err != nil {
		return fmt.Errorf("append judgement: %w", err)
	}
	return nil
}

// complete asks the model and degrades any failure to an empty reply.
func complete(ctx context.Context, llm investigation.Completer, L log.Logger, purpose, prompt string) string {
	if llm == nil {
		return ""
	}
	reply, err := llm.Complete(ctx, prompt)
	if err != nil {
		L.Warn(ctx, "text generation failed, using defaults", "purpose", purpose, "error", err.Error())
		return ""
	}
	return reply
}

func patternOutput(s *investigation.State) *PatternOutput {
	if p, ok := s.AgentOutputs[investigation.StagePattern].(*PatternOutput); ok {
		return p
	}
	return &PatternOutput{}
}

func explanationOutput(s *investigation.State) *ExplanationOutput {
	if e, ok := s.AgentOutputs[investigation.StageExplanation].(*ExplanationOutput); ok {
		return e
	}
	return &ExplanationOutput{}
}

func ptr[T any](v T) *T { return &v }
