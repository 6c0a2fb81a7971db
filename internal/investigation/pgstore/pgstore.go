// Package pgstore provides a PostgreSQL implementation of investigation.Store.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/investigation/pgstore")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// evidenceStatementTimeout bounds a single evidence query.
const evidenceStatementTimeout = "10s"

// Store persists alerts, judgements and outcomes in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies pending migrations and returns a Store on pool. The caller
// keeps ownership of the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := migrateUp(pool); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func migrateUp(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, pool.Config().ConnConfig.Database, driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close() //nolint:errcheck // closes the wrapper DB, not the pool

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// AlertExists implements investigation.Store.
func (s *Store) AlertExists(ctx context.Context, alertID string) (bool, error) {
	ctx, span := startSpan(ctx, "AlertExists", "SELECT")
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE alert_id = $1)`, alertID).Scan(&exists)
	if err != nil {
		return false, fail(span, fmt.Errorf("alert exists: %w", err))
	}
	return exists, nil
}

// AlertContext implements investigation.Store.
func (s *Store) AlertContext(ctx context.Context, alertID string) (*investigation.AlertContext, bool, error) {
	ctx, span := startSpan(ctx, "AlertContext", "SELECT")
	defer span.End()

	const query = `SELECT
		a.alert_id, a.user_id, a.account_id, a.transaction_id, a.alert_type, a.timestamp,
		a.description, a.review_status,
		t.amount, t.currency, t.merchant, t.transaction_type, t.location, t.device_id,
		t.ip_address, t.payee_id,
		u.name, u.registered_location,
		acc.account_type, acc.current_balance
	FROM alerts a
	JOIN transactions t ON a.transaction_id = t.transaction_id
	JOIN users u ON a.user_id = u.user_id
	JOIN accounts acc ON a.account_id = acc.account_id
	WHERE a.alert_id = $1`

	var (
		ac        investigation.AlertContext
		alertType string
	)
	err := s.pool.QueryRow(ctx, query, alertID).Scan(
		&ac.AlertID, &ac.UserID, &ac.AccountID, &ac.TransactionID, &alertType, &ac.Timestamp,
		&ac.Description, &ac.ReviewStatus,
		&ac.Amount, &ac.Currency, &ac.Merchant, &ac.TransactionType, &ac.Location, &ac.DeviceID,
		&ac.IPAddress, &ac.PayeeID,
		&ac.UserName, &ac.UserLocation,
		&ac.AccountType, &ac.CurrentBalance,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("alert context: %w", err))
	}
	ac.AlertType = investigation.AlertType(alertType)
	return &ac, true, nil
}

// RunQuery implements investigation.Store. Every query runs in a read-only
// transaction with a statement timeout; queries without arguments come from
// the model and must additionally be a single SELECT.
func (s *Store) RunQuery(ctx context.Context, sql string, args ...any) ([]investigation.Row, error) {
	ctx, span := startSpan(ctx, "RunQuery", "SELECT")
	defer span.End()
	ctx = postgres.WithQueryKind(ctx, postgres.QueryKindEvidence)

	if len(args) == 0 {
		if err := checkSelect(sql); err != nil {
			return nil, fail(span, err)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only, nothing to commit

	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '"+evidenceStatementTimeout+"'"); err != nil {
		return nil, fail(span, fmt.Errorf("set timeout: %w", err))
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []investigation.Row{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fail(span, fmt.Errorf("values: %w", err))
		}
		row := make(investigation.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate rows: %w", err))
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

// checkSelect rejects anything but a single SELECT or WITH statement.
func checkSelect(sql string) error {
	q := strings.TrimSpace(sql)
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return errors.New("multiple statements are not allowed")
	}
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return errors.New("only SELECT queries are allowed")
	}
	return nil
}

// PendingAlerts implements investigation.Store. Alerts without an outcome,
// newest first. A negative limit returns all of them.
func (s *Store) PendingAlerts(ctx context.Context, limit int) ([]investigation.Alert, error) {
	ctx, span := startSpan(ctx, "PendingAlerts", "SELECT")
	defer span.End()

	var lim *int
	if limit >= 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `SELECT a.alert_id, a.user_id, a.account_id, a.transaction_id,
			a.alert_type, a.timestamp, a.description, a.review_status
		FROM alerts a
		LEFT JOIN investigation_outcomes io ON a.alert_id = io.alert_id
		WHERE io.alert_id IS NULL
		ORDER BY a.timestamp DESC, a.alert_id
		LIMIT $1`, lim)
	if err != nil {
		return nil, fail(span, fmt.Errorf("pending alerts: %w", err))
	}
	defer rows.Close()

	out := []investigation.Alert{}
	for rows.Next() {
		var (
			a         investigation.Alert
			alertType string
		)
		if err := rows.Scan(&a.AlertID, &a.UserID, &a.AccountID, &a.TransactionID,
			&alertType, &a.Timestamp, &a.Description, &a.ReviewStatus); err != nil {
			return nil, fail(span, fmt.Errorf("scan alert: %w", err))
		}
		a.AlertType = investigation.AlertType(alertType)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}

// AppendJudgement implements investigation.Store.
func (s *Store) AppendJudgement(ctx context.Context, j *investigation.Judgement) error {
	ctx, span := startSpan(ctx, "AppendJudgement", "INSERT")
	defer span.End()

	rationale := []byte(j.Rationale)
	if len(rationale) == 0 {
		rationale = []byte("{}")
	}
	queries, err := json.Marshal(nonNil(j.QueriesExecuted))
	if err != nil {
		return fail(span, fmt.Errorf("marshal queries: %w", err))
	}
	ts := j.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO agent_judgements
		(judgement_id, alert_id, agent_name, action, confidence, rationale, loop_iteration, queries_executed, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		j.ID, j.AlertID, j.Stage, j.Action, j.Confidence, rationale, j.LoopIteration, queries, ts,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert judgement: %w", err))
	}
	return nil
}

// Judgements implements investigation.Store. Records come back in append order.
func (s *Store) Judgements(ctx context.Context, alertID string) ([]investigation.Judgement, error) {
	ctx, span := startSpan(ctx, "Judgements", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT judgement_id, alert_id, agent_name, action, confidence,
			rationale, loop_iteration, queries_executed, timestamp
		FROM agent_judgements WHERE alert_id = $1 ORDER BY seq`, alertID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query judgements: %w", err))
	}
	defer rows.Close()

	out := []investigation.Judgement{}
	for rows.Next() {
		var (
			j         investigation.Judgement
			rationale []byte
			queries   []byte
		)
		if err := rows.Scan(&j.ID, &j.AlertID, &j.Stage, &j.Action, &j.Confidence,
			&rationale, &j.LoopIteration, &queries, &j.Timestamp); err != nil {
			return nil, fail(span, fmt.Errorf("scan judgement: %w", err))
		}
		j.Rationale = json.RawMessage(rationale)
		if err := json.Unmarshal(queries, &j.QueriesExecuted); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal queries %s: %w", j.ID, err))
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate judgements: %w", err))
	}
	return out, nil
}

// UpsertOutcome implements investigation.Store. The original outcome_id is
// kept and human_verified is never cleared by a re-finalization.
func (s *Store) UpsertOutcome(ctx context.Context, o *investigation.Outcome) error {
	ctx, span := startSpan(ctx, "UpsertOutcome", "UPSERT")
	defer span.End()

	var outputs []byte
	if len(o.AgentOutputs) > 0 {
		outputs = []byte(o.AgentOutputs)
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO investigation_outcomes (
			outcome_id, alert_id, final_outcome, is_suspicious, confidence_score,
			investigation_summary, human_verified, agent_outputs, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (alert_id) DO UPDATE SET
			final_outcome         = EXCLUDED.final_outcome,
			is_suspicious         = EXCLUDED.is_suspicious,
			confidence_score      = EXCLUDED.confidence_score,
			investigation_summary = EXCLUDED.investigation_summary,
			human_verified        = investigation_outcomes.human_verified OR EXCLUDED.human_verified,
			agent_outputs         = EXCLUDED.agent_outputs,
			timestamp             = EXCLUDED.timestamp`,
		o.ID, o.AlertID, string(o.FinalOutcome), o.IsSuspicious, o.ConfidenceScore,
		o.InvestigationSummary, o.HumanVerified, outputs, ts,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert outcome: %w", err))
	}
	return nil
}

const outcomeColumns = `outcome_id, alert_id, final_outcome, is_suspicious, confidence_score,
	investigation_summary, human_verified, agent_outputs, timestamp`

func scanOutcome(row pgx.Row) (*investigation.Outcome, error) {
	var (
		o       investigation.Outcome
		final   string
		outputs []byte
	)
	if err := row.Scan(&o.ID, &o.AlertID, &final, &o.IsSuspicious, &o.ConfidenceScore,
		&o.InvestigationSummary, &o.HumanVerified, &outputs, &o.Timestamp); err != nil {
		return nil, err
	}
	o.FinalOutcome = investigation.Action(final)
	if len(outputs) > 0 {
		o.AgentOutputs = json.RawMessage(outputs)
	}
	return &o, nil
}

// GetOutcome implements investigation.Store.
func (s *Store) GetOutcome(ctx context.Context, alertID string) (*investigation.Outcome, bool, error) {
	ctx, span := startSpan(ctx, "GetOutcome", "SELECT")
	defer span.End()

	o, err := scanOutcome(s.pool.QueryRow(ctx,
		`SELECT `+outcomeColumns+` FROM investigation_outcomes WHERE alert_id = $1`, alertID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get outcome: %w", err))
	}
	return o, true, nil
}

// ListOutcomes implements investigation.Store. Newest first.
func (s *Store) ListOutcomes(ctx context.Context) ([]investigation.Outcome, error) {
	ctx, span := startSpan(ctx, "ListOutcomes", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeColumns+` FROM investigation_outcomes ORDER BY timestamp DESC, alert_id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list outcomes: %w", err))
	}
	defer rows.Close()

	out := []investigation.Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fail(span, fmt.Errorf("scan outcome: %w", err))
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate outcomes: %w", err))
	}
	return out, nil
}

// OutcomeBuckets implements investigation.Store.
func (s *Store) OutcomeBuckets(ctx context.Context) ([]investigation.OutcomeBucket, error) {
	ctx, span := startSpan(ctx, "OutcomeBuckets", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT final_outcome, is_suspicious, COUNT(*), AVG(confidence_score)
		FROM investigation_outcomes
		GROUP BY final_outcome, is_suspicious
		ORDER BY final_outcome, is_suspicious`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("outcome buckets: %w", err))
	}
	defer rows.Close()

	out := []investigation.OutcomeBucket{}
	for rows.Next() {
		var (
			b     investigation.OutcomeBucket
			final string
		)
		if err := rows.Scan(&final, &b.IsSuspicious, &b.Count, &b.AvgConfidence); err != nil {
			return nil, fail(span, fmt.Errorf("scan bucket: %w", err))
		}
		b.FinalOutcome = investigation.Action(final)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate buckets: %w", err))
	}
	return out, nil
}

// SetHumanVerified implements investigation.Store.
func (s *Store) SetHumanVerified(ctx context.Context, alertID string, verified bool) (bool, error) {
	ctx, span := startSpan(ctx, "SetHumanVerified", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE investigation_outcomes SET human_verified = $2 WHERE alert_id = $1`, alertID, verified)
	if err != nil {
		return false, fail(span, fmt.Errorf("set human_verified: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// SetReviewStatus implements investigation.Store.
func (s *Store) SetReviewStatus(ctx context.Context, alertID string, status investigation.ReviewStatus) error {
	ctx, span := startSpan(ctx, "SetReviewStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET review_status = $2 WHERE alert_id = $1`, alertID, int(status))
	if err != nil {
		return fail(span, fmt.Errorf("set review_status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return investigation.ErrNotFound
	}
	return nil
}

// PutResult implements investigation.Store.
func (s *Store) PutResult(ctx context.Context, r *investigation.Result) error {
	ctx, span := startSpan(ctx, "PutResult", "UPSERT")
	defer span.End()

	body, err := json.Marshal(r)
	if err != nil {
		return fail(span, fmt.Errorf("marshal result: %w", err))
	}
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO investigation_results (alert_id, outcome, result, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (alert_id) DO UPDATE SET
			outcome      = EXCLUDED.outcome,
			result       = EXCLUDED.result,
			completed_at = EXCLUDED.completed_at`,
		r.AlertID, string(r.Outcome), body, completed,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert result: %w", err))
	}
	return nil
}

// GetResult implements investigation.Store.
func (s *Store) GetResult(ctx context.Context, alertID string) (*investigation.Result, bool, error) {
	ctx, span := startSpan(ctx, "GetResult", "SELECT")
	defer span.End()

	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM investigation_results WHERE alert_id = $1`, alertID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get result: %w", err))
	}

	var r investigation.Result
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal result: %w", err))
	}
	return &r, true, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
