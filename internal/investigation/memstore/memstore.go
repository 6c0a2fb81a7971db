// Package memstore provides an in-memory implementation of investigation.Store.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/linnemanlabs/warden/internal/investigation"
)

// QueryFunc answers an evidence query.
type QueryFunc func(sql string, args []any) ([]investigation.Row, error)

type responder struct {
	match string
	fn    QueryFunc
}

// Store holds alerts, judgements and outcomes in memory. Suitable for
// dev/testing. Evidence queries are answered by registered responders matched
// on a substring of the SQL; unmatched queries return no rows.
type Store struct {
	mu         sync.RWMutex
	alerts     map[string]*investigation.AlertContext
	judgements map[string][]investigation.Judgement
	outcomes   map[string]*investigation.Outcome
	results    map[string]*investigation.Result
	responders []responder
	queries    []string
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:     make(map[string]*investigation.AlertContext),
		judgements: make(map[string][]investigation.Judgement),
		outcomes:   make(map[string]*investigation.Outcome),
		results:    make(map[string]*investigation.Result),
	}
}

// PutAlert stores a copy of an alert and its joined facts.
func (s *Store) PutAlert(a *investigation.AlertContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.AlertID] = &cp
}

// HandleQuery answers any query containing match with rows.
func (s *Store) HandleQuery(match string, rows []investigation.Row) {
	s.HandleQueryFunc(match, func(string, []any) ([]investigation.Row, error) { return rows, nil })
}

// HandleQueryFunc answers any query containing match with fn. Responders are
// tried in registration order.
func (s *Store) HandleQueryFunc(match string, fn QueryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders = append(s.responders, responder{match: match, fn: fn})
}

// Queries returns every SQL statement run so far.
func (s *Store) Queries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.queries...)
}

// AlertExists implements investigation.Store.
func (s *Store) AlertExists(_ context.Context, alertID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.alerts[alertID]
	return ok, nil
}

// AlertContext implements investigation.Store. Returns a copy.
func (s *Store) AlertContext(_ context.Context, alertID string) (*investigation.AlertContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// RunQuery implements investigation.Store.
func (s *Store) RunQuery(_ context.Context, sql string, args ...any) ([]investigation.Row, error) {
	s.mu.Lock()
	s.queries = append(s.queries, sql)
	var fn QueryFunc
	for _, r := range s.responders {
		if strings.Contains(sql, r.match) {
			fn = r.fn
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return []investigation.Row{}, nil
	}
	return fn(sql, args)
}

// PendingAlerts implements investigation.Store. Alerts without an outcome,
// newest first.
func (s *Store) PendingAlerts(_ context.Context, limit int) ([]investigation.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []investigation.Alert{}
	for id, a := range s.alerts {
		if _, done := s.outcomes[id]; done {
			continue
		}
		out = append(out, a.Alert)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].AlertID < out[j].AlertID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendJudgement implements investigation.Store.
func (s *Store) AppendJudgement(_ context.Context, j *investigation.Judgement) error {
	if j == nil {
		return errors.New("nil judgement")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgements[j.AlertID] = append(s.judgements[j.AlertID], *j)
	return nil
}

// Judgements implements investigation.Store. Returns a copy in append order.
func (s *Store) Judgements(_ context.Context, alertID string) ([]investigation.Judgement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]investigation.Judgement{}, s.judgements[alertID]...), nil
}

// UpsertOutcome implements investigation.Store. The first outcome ID for an
// alert is kept and a prior HumanVerified=true survives.
func (s *Store) UpsertOutcome(_ context.Context, o *investigation.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	if prev, ok := s.outcomes[o.AlertID]; ok {
		cp.ID = prev.ID
		cp.HumanVerified = prev.HumanVerified || o.HumanVerified
	}
	s.outcomes[o.AlertID] = &cp
	return nil
}

// GetOutcome implements investigation.Store. Returns a copy.
func (s *Store) GetOutcome(_ context.Context, alertID string) (*investigation.Outcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

// ListOutcomes implements investigation.Store. Newest first.
func (s *Store) ListOutcomes(_ context.Context) ([]investigation.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]investigation.Outcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].AlertID < out[j].AlertID
	})
	return out, nil
}

// OutcomeBuckets implements investigation.Store.
func (s *Store) OutcomeBuckets(_ context.Context) ([]investigation.OutcomeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		outcome    investigation.Action
		suspicious bool
	}
	sums := make(map[key]float64)
	counts := make(map[key]int)
	for _, o := range s.outcomes {
		k := key{o.FinalOutcome, o.IsSuspicious}
		sums[k] += o.ConfidenceScore
		counts[k]++
	}

	out := make([]investigation.OutcomeBucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, investigation.OutcomeBucket{
			FinalOutcome:  k.outcome,
			IsSuspicious:  k.suspicious,
			Count:         n,
			AvgConfidence: sums[k] / float64(n),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinalOutcome != out[j].FinalOutcome {
			return out[i].FinalOutcome < out[j].FinalOutcome
		}
		return !out[i].IsSuspicious && out[j].IsSuspicious
	})
	return out, nil
}

// SetHumanVerified implements investigation.Store.
func (s *Store) SetHumanVerified(_ context.Context, alertID string, verified bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[alertID]
	if !ok {
		return false, nil
	}
	o.HumanVerified = verified
	return true, nil
}

// SetReviewStatus implements investigation.Store.
func (s *Store) SetReviewStatus(_ context.Context, alertID string, status investigation.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return investigation.ErrNotFound
	}
	a.ReviewStatus = int(status)
	return nil
}

// PutResult implements investigation.Store.
func (s *Store) PutResult(_ context.Context, r *investigation.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.AlertID] = &cp
	return nil
}

// GetResult implements investigation.Store. Returns a copy.
func (s *Store) GetResult(_ context.Context, alertID string) (*investigation.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}
