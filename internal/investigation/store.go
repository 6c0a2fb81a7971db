package investigation

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an alert (or its outcome) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInFlight is returned when another investigation of the same alert is running.
	ErrInFlight = errors.New("investigation already in flight")
)

// Store is the persistence collaborator for investigations.
type Store interface {
	AlertExists(ctx context.Context, alertID string) (bool, error)
	AlertContext(ctx context.Context, alertID string) (*AlertContext, bool, error)
	RunQuery(ctx context.Context, sql string, args ...any) ([]Row, error)
	PendingAlerts(ctx context.Context, limit int) ([]Alert, error)

	AppendJudgement(ctx context.Context, j *Judgement) error
	Judgements(ctx context.Context, alertID string) ([]Judgement, error)

	// UpsertOutcome inserts or replaces the outcome for an alert. An existing
	// HumanVerified=true must survive the replace.
	UpsertOutcome(ctx context.Context, o *Outcome) error
	GetOutcome(ctx context.Context, alertID string) (*Outcome, bool, error)
	ListOutcomes(ctx context.Context) ([]Outcome, error)
	OutcomeBuckets(ctx context.Context) ([]OutcomeBucket, error)
	SetHumanVerified(ctx context.Context, alertID string, verified bool) (bool, error)

	SetReviewStatus(ctx context.Context, alertID string, status ReviewStatus) error

	PutResult(ctx context.Context, r *Result) error
	GetResult(ctx context.Context, alertID string) (*Result, bool, error)
}

// Completer is the text-generation collaborator. Replies are free text and
// callers must tolerate prose, code fences and malformed JSON.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Guard admits at most one investigation per alert at a time. When ok is
// true the caller must invoke release once the run is over.
type Guard interface {
	TryAcquire(ctx context.Context, alertID string) (release func(), ok bool, err error)
}

// Notifier delivers finished results to humans.
type Notifier interface {
	Send(ctx context.Context, result *Result) error
}
