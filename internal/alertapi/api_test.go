package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

// fakeService answers from canned values and records the last call.
type fakeService struct {
	mu sync.Mutex

	result     *investigation.Result
	err        error
	pending    []*investigation.Result
	stats      *investigation.Stats
	history    *investigation.History
	stored     map[string]*investigation.Result
	outcomes   []investigation.Outcome
	lastLimit  int
	verified   map[string]bool
	verifyErrs map[string]error
}

func newFakeService() *fakeService {
	suspicious := true
	return &fakeService{
		result: &investigation.Result{
			AlertID:      "ALT-1",
			Outcome:      investigation.ActionEscalate,
			IsSuspicious: &suspicious,
			Confidence:   0.9,
		},
		stats:      &investigation.Stats{TotalInvestigations: 3, TruePositives: 2},
		stored:     map[string]*investigation.Result{},
		verified:   map[string]bool{},
		verifyErrs: map[string]error{},
	}
}

func (f *fakeService) Investigate(_ context.Context, alertID string) (*investigation.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.AlertID = alertID
	return &r, nil
}

func (f *fakeService) ProcessPending(_ context.Context, limit int) ([]*investigation.Result, error) {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	return f.pending, f.err
}

func (f *fakeService) Stats(context.Context) (*investigation.Stats, error) {
	return f.stats, f.err
}

func (f *fakeService) History(_ context.Context, alertID string) (*investigation.History, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.history == nil {
		return nil, investigation.ErrNotFound
	}
	h := *f.history
	h.AlertID = alertID
	return &h, nil
}

func (f *fakeService) StoredResult(_ context.Context, alertID string) (*investigation.Result, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	r, ok := f.stored[alertID]
	return r, ok, nil
}

func (f *fakeService) Outcomes(context.Context) ([]investigation.Outcome, error) {
	return f.outcomes, f.err
}

func (f *fakeService) Verify(_ context.Context, alertID string, verified bool) error {
	if err := f.verifyErrs[alertID]; err != nil {
		return err
	}
	f.mu.Lock()
	f.verified[alertID] = verified
	f.mu.Unlock()
	return nil
}

func newTestRouter(t *testing.T, svc *fakeService) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newFakeService())
	if api == nil {
		t.Fatal("New(nil, svc) returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_WithLogger(t *testing.T) {
	t.Parallel()

	api := New(log.Nop(), newFakeService())
	if api.logger == nil {
		t.Fatal("New(logger, svc) left logger nil")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newFakeService())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"investigate GET not allowed", http.MethodGet, "/api/v1/alerts/ALT-1/investigate", http.StatusMethodNotAllowed},
		{"process-pending GET not allowed", http.MethodGet, "/api/v1/alerts/process-pending", http.StatusMethodNotAllowed},
		{"stats POST not allowed", http.MethodPost, "/api/v1/stats", http.StatusMethodNotAllowed},
		{"outcomes DELETE not allowed", http.MethodDelete, "/api/v1/outcomes", http.StatusMethodNotAllowed},
		{"verification POST not allowed", http.MethodPost, "/api/v1/alerts/ALT-1/verification", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(r, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

// Investigate

func TestInvestigate_OK(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newFakeService())
	rec := serve(r, http.MethodPost, "/api/v1/alerts/ALT-77/investigate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got investigation.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AlertID != "ALT-77" {
		t.Errorf("alert_id = %q, want ALT-77", got.AlertID)
	}
	if got.Outcome != investigation.ActionEscalate {
		t.Errorf("outcome = %q, want ESCALATE", got.Outcome)
	}
}

func TestInvestigate_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", investigation.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", errors.Join(errors.New("lookup"), investigation.ErrNotFound), http.StatusNotFound},
		{"in flight", investigation.ErrInFlight, http.StatusConflict},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newFakeService()
			svc.err = tt.err
			rec := serve(newTestRouter(t, svc), http.MethodPost, "/api/v1/alerts/ALT-1/investigate", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if strings.Contains(rec.Body.String(), "db down") {
				t.Error("internal error text leaked into response")
			}
		})
	}
}

// Process pending

func TestProcessPending_Limit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"default", "", http.StatusOK, defaultPendingLimit},
		{"explicit", "?limit=25", http.StatusOK, 25},
		{"max", "?limit=100", http.StatusOK, 100},
		{"zero", "?limit=0", http.StatusBadRequest, 0},
		{"too large", "?limit=101", http.StatusBadRequest, 0},
		{"not a number", "?limit=ten", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newFakeService()
			rec := serve(newTestRouter(t, svc), http.MethodPost, "/api/v1/alerts/process-pending"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if svc.lastLimit != tt.wantLimit {
				t.Errorf("limit passed = %d, want %d", svc.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestProcessPending_Body(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.pending = []*investigation.Result{
		{AlertID: "ALT-2", Outcome: investigation.ActionAutoClose},
		{AlertID: "ALT-1", Outcome: investigation.ActionError, Error: "boom"},
	}
	rec := serve(newTestRouter(t, svc), http.MethodPost, "/api/v1/alerts/process-pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got PendingResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Processed != 2 || len(got.Results) != 2 {
		t.Fatalf("processed = %d results = %d, want 2/2", got.Processed, len(got.Results))
	}
	if got.Results[0].AlertID != "ALT-2" {
		t.Errorf("first result = %q, want ALT-2 (service order preserved)", got.Results[0].AlertID)
	}
}

func TestProcessPending_EmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := serve(newTestRouter(t, newFakeService()), http.MethodPost, "/api/v1/alerts/process-pending", "")
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Errorf("body = %s, want empty results array", rec.Body.String())
	}
}

// Read endpoints

func TestStats(t *testing.T) {
	t.Parallel()

	rec := serve(newTestRouter(t, newFakeService()), http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got investigation.Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalInvestigations != 3 || got.TruePositives != 2 {
		t.Errorf("stats = %+v", got)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	r := newTestRouter(t, svc)

	if rec := serve(r, http.MethodGet, "/api/v1/alerts/ALT-1/history", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing history status = %d, want 404", rec.Code)
	}

	svc.history = &investigation.History{Judgements: []investigation.Judgement{{Stage: "ingestion"}}}
	rec := serve(r, http.MethodGet, "/api/v1/alerts/ALT-9/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got investigation.History
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AlertID != "ALT-9" || len(got.Judgements) != 1 {
		t.Errorf("history = %+v", got)
	}
}

func TestResult(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.stored["ALT-5"] = &investigation.Result{AlertID: "ALT-5", Outcome: investigation.ActionHumanReview}
	r := newTestRouter(t, svc)

	if rec := serve(r, http.MethodGet, "/api/v1/alerts/ALT-5/result", ""); rec.Code != http.StatusOK {
		t.Errorf("stored result status = %d, want 200", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/api/v1/alerts/ALT-6/result", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing result status = %d, want 404", rec.Code)
	}
}

func TestOutcomes_EmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := serve(newTestRouter(t, newFakeService()), http.MethodGet, "/api/v1/outcomes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestReadEndpoints_ServiceError(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.err = errors.New("db down")
	r := newTestRouter(t, svc)

	for _, path := range []string{"/api/v1/stats", "/api/v1/outcomes", "/api/v1/alerts/ALT-1/history", "/api/v1/alerts/ALT-1/result"} {
		if rec := serve(r, http.MethodGet, path, ""); rec.Code != http.StatusInternalServerError {
			t.Errorf("GET %s = %d, want 500", path, rec.Code)
		}
	}
}

// Verification

func TestVerify(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.verifyErrs["ALT-404"] = investigation.ErrNotFound
	svc.verifyErrs["ALT-500"] = errors.New("db down")
	r := newTestRouter(t, svc)

	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{"verified", "ALT-1", `{"human_verified":true}`, http.StatusOK},
		{"unverified", "ALT-2", `{"human_verified":false}`, http.StatusOK},
		{"missing field", "ALT-3", `{}`, http.StatusBadRequest},
		{"invalid JSON", "ALT-3", `{bad`, http.StatusBadRequest},
		{"wrong type", "ALT-3", `{"human_verified":"yes"}`, http.StatusBadRequest},
		{"no outcome", "ALT-404", `{"human_verified":true}`, http.StatusNotFound},
		{"store error", "ALT-500", `{"human_verified":true}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := serve(r, http.MethodPut, "/api/v1/alerts/"+tt.id+"/verification", tt.body)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
	}

	if v, ok := svc.verified["ALT-1"]; !ok || !v {
		t.Errorf("ALT-1 verified = %v/%v, want true/true", v, ok)
	}
	if v, ok := svc.verified["ALT-2"]; !ok || v {
		t.Errorf("ALT-2 verified = %v/%v, want false/true", v, ok)
	}
	if _, ok := svc.verified["ALT-3"]; ok {
		t.Error("bad request must not reach the service")
	}
}
