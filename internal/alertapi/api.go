// Package alertapi exposes investigation operations over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/investigation"
)

const (
	defaultPendingLimit = 10
	maxPendingLimit     = 100
)

// InvestigationService defines the business operations alertapi needs.
type InvestigationService interface {
	Investigate(ctx context.Context, alertID string) (*investigation.Result, error)
	ProcessPending(ctx context.Context, limit int) ([]*investigation.Result, error)
	Stats(ctx context.Context) (*investigation.Stats, error)
	History(ctx context.Context, alertID string) (*investigation.History, error)
	StoredResult(ctx context.Context, alertID string) (*investigation.Result, bool, error)
	Outcomes(ctx context.Context) ([]investigation.Outcome, error)
	Verify(ctx context.Context, alertID string, verified bool) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    InvestigationService
}

// New creates a new API handler.
func New(logger log.Logger, svc InvestigationService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("investigation service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts/process-pending", a.handleProcessPending)
		r.Post("/alerts/{id}/investigate", a.handleInvestigate)
		r.Get("/alerts/{id}/history", a.handleHistory)
		r.Get("/alerts/{id}/result", a.handleResult)
		r.Put("/alerts/{id}/verification", a.handleVerify)
		r.Get("/outcomes", a.handleOutcomes)
		r.Get("/stats", a.handleStats)
	})
}

// PendingResponse is the body returned by the batch endpoint.
type PendingResponse struct {
	Processed int                     `json:"processed"`
	Results   []*investigation.Result `json:"results"`
}

// VerificationRequest is the body accepted by the verification endpoint.
type VerificationRequest struct {
	HumanVerified *bool `json:"human_verified"`
}

func alertID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("warden.alert.id", id))
	return id
}

func (a *API) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	id := alertID(r)

	result, err := a.svc.Investigate(r.Context(), id)
	switch {
	case errors.Is(err, investigation.ErrNotFound):
		http.Error(w, `{"error":"alert not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, investigation.ErrInFlight):
		http.Error(w, `{"error":"investigation already in progress"}`, http.StatusConflict)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to investigate alert", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("warden.outcome", string(result.Outcome)))
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleProcessPending(w http.ResponseWriter, r *http.Request) {
	limit := defaultPendingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPendingLimit {
			http.Error(w, `{"error":"limit must be an integer between 1 and 100"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	results, err := a.svc.ProcessPending(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to process pending alerts", "limit", limit)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*investigation.Result{}
	}
	writeJSON(w, http.StatusOK, PendingResponse{Processed: len(results), Results: results})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := alertID(r)

	h, err := a.svc.History(r.Context(), id)
	switch {
	case errors.Is(err, investigation.ErrNotFound):
		http.Error(w, `{"error":"alert not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to load alert history", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	id := alertID(r)

	result, ok, err := a.svc.StoredResult(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get investigation result", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := alertID(r)

	var req VerificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.HumanVerified == nil {
		http.Error(w, `{"error":"body must be {\"human_verified\": bool}"}`, http.StatusBadRequest)
		return
	}

	err := a.svc.Verify(r.Context(), id, *req.HumanVerified)
	switch {
	case errors.Is(err, investigation.ErrNotFound):
		http.Error(w, `{"error":"no outcome for alert"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to record verification", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert_id": id, "human_verified": *req.HumanVerified})
}

func (a *API) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := a.svc.Outcomes(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list outcomes")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if outcomes == nil {
		outcomes = []investigation.Outcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
