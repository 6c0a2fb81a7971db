package investigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/inflight"
)

// Service is the business boundary for investigation operations.
type Service struct {
	store    Store
	workflow *Workflow
	cfg      Config
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	guard    Guard
}

// NewService creates a new investigation service. metrics and notifier may
// be nil; a nil guard falls back to a process-local one.
func NewService(store Store, workflow *Workflow, cfg Config, logger log.Logger, metrics *Metrics, notifier Notifier, guard Guard) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if guard == nil {
		guard = inflight.NewLocal()
	}
	return &Service{
		store:    store,
		workflow: workflow,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		guard:    guard,
	}
}

// Investigate runs the full workflow for one alert. It returns ErrNotFound
// when the alert does not exist and ErrInFlight when another run for the same
// alert holds the guard. Any failure inside the run itself is reported as a
// Result with Outcome ERROR rather than an error.
func (s *Service) Investigate(ctx context.Context, alertID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "investigation.run", trace.WithAttributes(
		attribute.String("warden.alert.id", alertID),
	))
	defer span.End()

	L := s.logger.With("alert_id", alertID)

	exists, err := s.store.AlertExists(ctx, alertID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.request("error")
		return nil, fmt.Errorf("lookup alert %s: %w", alertID, err)
	}
	if !exists {
		s.metrics.request("not_found")
		return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}

	release, ok, err := s.guard.TryAcquire(ctx, alertID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.request("error")
		return nil, fmt.Errorf("acquire alert %s: %w", alertID, err)
	}
	if !ok {
		s.metrics.request("in_flight")
		return nil, fmt.Errorf("alert %s: %w", alertID, ErrInFlight)
	}
	defer release()
	s.metrics.request("accepted")

	L.Info(ctx, "investigation started", "max_loops", s.cfg.MaxLoops)

	start := time.Now()
	res := s.run(ctx, NewState(alertID, s.cfg.MaxLoops))
	res.StartedAt = start
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(start).Seconds()

	span.SetAttributes(
		attribute.String("warden.outcome", string(res.Outcome)),
		attribute.Float64("warden.confidence", res.Confidence),
		attribute.Int("warden.loops", res.LoopsExecuted),
	)
	if res.Outcome == ActionError {
		span.SetStatus(codes.Error, res.Error)
	}

	if err := s.store.PutResult(ctx, res); err != nil {
		L.Error(ctx, err, "failed to persist investigation result")
	}
	s.notify(ctx, res)
	s.metrics.observeResult(res)

	L.Info(ctx, "investigation complete",
		"outcome", res.Outcome,
		"confidence", res.Confidence,
		"loops", res.LoopsExecuted,
		"queries", res.TotalQueries,
		"duration", res.Duration,
	)
	return res, nil
}

// run executes the workflow and converts any failure, including a panic in
// a stage, into an ERROR result.
func (s *Service) run(ctx context.Context, st *State) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.logger.Error(ctx, err, "investigation panicked", "alert_id", st.AlertID)
			res = failedResult(st, err)
		}
	}()

	if err := s.workflow.Run(ctx, st); err != nil {
		s.logger.Error(ctx, err, "investigation failed", "alert_id", st.AlertID)
		return failedResult(st, err)
	}
	return st.result()
}

func failedResult(st *State, err error) *Result {
	return &Result{
		AlertID:       st.AlertID,
		Outcome:       ActionError,
		Error:         err.Error(),
		LoopsExecuted: st.LoopCount,
		TotalQueries:  len(st.QueriesExecuted),
	}
}

func (s *Service) notify(ctx context.Context, r *Result) {
	if s.notifier == nil {
		return
	}
	if r.Outcome != ActionEscalate && r.Outcome != ActionHumanReview {
		return
	}
	if err := s.notifier.Send(ctx, r); err != nil {
		s.logger.Error(ctx, err, "failed to send notification", "alert_id", r.AlertID)
		s.metrics.notification("error")
		return
	}
	s.metrics.notification("sent")
}

// ProcessPending investigates up to limit pending alerts, newest first.
// Alerts are launched BatchStagger apart and at most BatchConcurrency run at
// once. Results come back in pending order; alerts that vanished or were
// already in flight are skipped.
func (s *Service) ProcessPending(ctx context.Context, limit int) ([]*Result, error) {
	pending, err := s.store.PendingAlerts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("pending alerts: %w", err)
	}
	if len(pending) == 0 {
		s.logger.Info(ctx, "no pending alerts")
		return []*Result{}, nil
	}

	s.logger.Info(ctx, "processing pending alerts", "count", len(pending), "concurrency", s.cfg.BatchConcurrency)

	results := make([]*Result, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.BatchConcurrency, 1))

launch:
	for i, al := range pending {
		if i > 0 && s.cfg.BatchStagger > 0 {
			select {
			case <-gctx.Done():
				break launch
			case <-time.After(s.cfg.BatchStagger):
			}
		}
		g.Go(func() error {
			r, err := s.Investigate(gctx, al.AlertID)
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrInFlight):
				s.logger.Warn(gctx, "skipping pending alert", "alert_id", al.AlertID, "reason", err.Error())
			case err != nil:
				s.logger.Error(gctx, err, "pending alert failed", "alert_id", al.AlertID)
			default:
				results[i] = r
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}

	s.logger.Info(ctx, "batch complete", "processed", len(out), "pending", len(pending))
	return out, ctx.Err()
}

// Stats summarizes stored outcomes.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	buckets, err := s.store.OutcomeBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("outcome buckets: %w", err)
	}
	return Summarize(buckets), nil
}

// Summarize folds outcome buckets into Stats. Both INVESTIGATE_FURTHER and
// HUMAN_REVIEW count as under investigation.
func Summarize(buckets []OutcomeBucket) *Stats {
	st := &Stats{Outcomes: buckets}
	if st.Outcomes == nil {
		st.Outcomes = []OutcomeBucket{}
	}
	for _, b := range buckets {
		st.TotalInvestigations += b.Count
		if b.IsSuspicious {
			st.TruePositives += b.Count
		} else {
			st.FalsePositives += b.Count
		}
		if b.FinalOutcome == ActionInvestigateFurther || b.FinalOutcome == ActionHumanReview {
			st.UnderInvestigation += b.Count
		}
	}
	return st
}

// History returns the judgements and current outcome for an alert.
func (s *Service) History(ctx context.Context, alertID string) (*History, error) {
	exists, err := s.store.AlertExists(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("lookup alert %s: %w", alertID, err)
	}
	if !exists {
		return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}

	judgements, err := s.store.Judgements(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("judgements: %w", err)
	}
	if judgements == nil {
		judgements = []Judgement{}
	}

	h := &History{AlertID: alertID, Judgements: judgements}
	if o, ok, err := s.store.GetOutcome(ctx, alertID); err != nil {
		return nil, fmt.Errorf("outcome: %w", err)
	} else if ok {
		h.Outcome = o
	}
	return h, nil
}

// StoredResult returns the last persisted Result for an alert.
func (s *Service) StoredResult(ctx context.Context, alertID string) (*Result, bool, error) {
	return s.store.GetResult(ctx, alertID)
}

// Outcomes lists every stored outcome.
func (s *Service) Outcomes(ctx context.Context) ([]Outcome, error) {
	return s.store.ListOutcomes(ctx)
}

// Verify records a human reviewer's verdict on an alert's outcome.
func (s *Service) Verify(ctx context.Context, alertID string, verified bool) error {
	ok, err := s.store.SetHumanVerified(ctx, alertID, verified)
	if err != nil {
		return fmt.Errorf("set human_verified: %w", err)
	}
	if !ok {
		return fmt.Errorf("outcome for alert %s: %w", alertID, ErrNotFound)
	}
	s.logger.Info(ctx, "outcome verification updated", "alert_id", alertID, "human_verified", verified)
	return nil
}
