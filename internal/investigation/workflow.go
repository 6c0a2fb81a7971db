package investigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/investigation")

// WorkflowHooks are optional callbacks fired while a run progresses.
type WorkflowHooks struct {
	OnStage    func(stage string, duration float64, success bool)
	OnLoopBack func(from string)
}

// Workflow drives the stages in order:
//
//	ingestion -> pattern -> (ingestion | explanation) -> risk -> (ingestion | done)
//
// Stages run strictly one after another; the shared LoopCount bounds the
// number of re-entries into ingestion across both branch points.
type Workflow struct {
	stages Registry
	logger log.Logger
	hooks  WorkflowHooks
}

// NewWorkflow validates that every stage is registered.
func NewWorkflow(stages Registry, logger log.Logger, hooks WorkflowHooks) (*Workflow, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Workflow{stages: stages, logger: logger, hooks: hooks}, nil
}

// Run executes the workflow to completion, merging every stage update into s.
// A stage error or context cancellation aborts the run.
func (w *Workflow) Run(ctx context.Context, s *State) error {
	L := w.logger.With("alert_id", s.AlertID)

	step := StageIngestion
	for step != "" {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before %s: %w", step, err)
		}

		u, err := w.execute(ctx, step, s)
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}

		next, d := w.route(step, s, u)
		s.apply(step, u, d)

		if d == LoopBack {
			L.Info(ctx, "looping back to ingestion",
				"from", step,
				"loop_count", s.LoopCount,
				"max_loops", s.MaxLoops,
			)
			if w.hooks.OnLoopBack != nil {
				w.hooks.OnLoopBack(step)
			}
		}
		step = next
	}

	L.Info(ctx, "workflow finished",
		"decision", s.FinalDecision,
		"confidence", s.ConfidenceScore,
		"loop_count", s.LoopCount,
		"queries", len(s.QueriesExecuted),
	)
	return nil
}

// route returns the next stage ("" when done) and the decision taken.
func (w *Workflow) route(step string, s *State, u *Update) (string, Decision) {
	switch step {
	case StageIngestion:
		return StagePattern, Continue
	case StagePattern:
		if d := RouteAfterPattern(s, u); d == LoopBack {
			return StageIngestion, d
		}
		return StageExplanation, Continue
	case StageExplanation:
		return StageRisk, Continue
	default:
		if d := RouteAfterRisk(s, u); d == LoopBack {
			return StageIngestion, d
		}
		return "", Finalize
	}
}

func (w *Workflow) execute(ctx context.Context, name string, s *State) (*Update, error) {
	ctx, span := tracer.Start(ctx, "investigation.stage", trace.WithAttributes(
		attribute.String("warden.alert.id", s.AlertID),
		attribute.String("warden.stage", name),
		attribute.Int("warden.loop_count", s.LoopCount),
	))
	defer span.End()

	// Queries issued by the stage log with the run's identity attached.
	ctx = log.WithContext(ctx, w.logger.With("alert_id", s.AlertID, "stage", name, "loop_count", s.LoopCount))

	start := time.Now()
	u, err := w.stages[name].Execute(ctx, s)
	dur := time.Since(start).Seconds()

	if err == nil && u == nil {
		err = errors.New("stage returned no update")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error(ctx, err, "stage failed", "alert_id", s.AlertID, "stage", name, "loop_count", s.LoopCount)
		if w.hooks.OnStage != nil {
			w.hooks.OnStage(name, dur, false)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Bool("warden.stage.success", u.Success))
	if w.hooks.OnStage != nil {
		w.hooks.OnStage(name, dur, u.Success)
	}
	return u, nil
}
