package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

const (
	ctxKeyQuery      ctxKey = "pgx.query"
	ctxKeyHTTPMethod ctxKey = "http.method"
	ctxKeyQueryKind  ctxKey = "db.query_kind"
)

// Query kinds used as a metrics label. Evidence queries are the ones a stage
// runs against the bank schema; everything else is store bookkeeping.
const (
	QueryKindStore    = "store"
	QueryKindEvidence = "evidence"
)

// maxLoggedStatement caps the logged SQL; model-written evidence queries can
// be long.
const maxLoggedStatement = 2048

// context keys for query metadata.
type ctxKey string

type dbStatsKey struct{}

type queryObserverHolder struct{ QueryObserver }

// ReqDBStats accumulates per-request database query statistics.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// loggingTracer wraps another pgx.QueryTracer (e.g. otelpgx)
// and adds a structured log line for every query.
type loggingTracer struct {
	inner pgx.QueryTracer
}

// startedQuery is stashed in the context between TraceQueryStart and
// TraceQueryEnd.
type startedQuery struct {
	sql  string
	args []any
	kind string
	at   time.Time
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, kind, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, kind, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, kind, outcome string, dur time.Duration) {
	f(ctx, method, route, kind, outcome, dur)
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the totals recorded so far.
func (s *ReqDBStats) Snapshot() (queries int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyHTTPMethod, method)
}

// WithQueryKind labels queries issued under ctx with kind.
func WithQueryKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, ctxKeyQueryKind, kind)
}

func queryKindFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyQueryKind).(string); ok && v != "" {
		return v
	}
	return QueryKindStore
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*ReqDBStats)
	return s, ok
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyHTTPMethod).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// wrapQueryTracer wraps an inner tracer with structured logging.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	if inner == nil {
		return loggingTracer{}
	}
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	q := startedQuery{sql: data.SQL, args: data.Args, kind: queryKindFromContext(ctx), at: time.Now()}

	// Let inner tracer (otelpgx) create its span first.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("db.query_kind", q.kind))
	}
	return context.WithValue(ctx, ctxKeyQuery, q)
}

func (t loggingTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	// Always call inner tracer first so spans are finished correctly.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	q, _ := ctx.Value(ctxKeyQuery).(startedQuery)
	var dur time.Duration
	if !q.at.IsZero() {
		dur = time.Since(q.at)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}
	if obs := getQueryObserver(); obs != nil && dur > 0 {
		method, route, outcome := queryLabels(ctx, data.Err)
		obs.ObserveQuery(ctx, method, route, q.kind, outcome, dur)
	}

	L := log.FromContext(ctx)
	fields := queryLogFields(q, dur, data.CommandTag, data.Err)
	if data.Err != nil {
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// queryLabels returns the metric labels for a finished query. Queries from
// the background poller carry no request and are labelled as such.
func queryLabels(ctx context.Context, err error) (method, route, outcome string) {
	method = httpMethodFromContext(ctx)
	if method == "" {
		method = "UNKNOWN"
	}
	route = routePatternFromContext(ctx)
	if route == "" {
		route = "background"
	}
	outcome = "ok"
	if err != nil {
		outcome = "error"
	}
	return method, route, outcome
}

func queryLogFields(q startedQuery, dur time.Duration, tag pgconn.CommandTag, err error) []any {
	kind := q.kind
	if kind == "" {
		kind = QueryKindStore
	}
	fields := []any{
		"db.query_kind", kind,
		"db.statement", truncateStatement(q.sql),
		"db.args", q.args,
		"db.duration", dur.Seconds(),
	}

	if t := strings.TrimSpace(tag.String()); t != "" {
		if op, _, _ := strings.Cut(t, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "pg.command_tag", t, "db.rows", tag.RowsAffected())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	return fields
}

func truncateStatement(sql string) string {
	if len(sql) <= maxLoggedStatement {
		return sql
	}
	return sql[:maxLoggedStatement] + "..."
}
