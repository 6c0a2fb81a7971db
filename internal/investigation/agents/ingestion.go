package agents

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

// IngestionOutput is recorded under IngestionAgent in the agent outputs.
type IngestionOutput struct {
	InvestigationGoal string `json:"investigation_goal,omitempty"`
	DynamicQueries    int    `json:"dynamic_queries"`
	TotalQueries      int    `json:"total_queries"`
	TotalEvidence     int    `json:"total_evidence"`
	Error             string `json:"error,omitempty"`
}

// Ingestion loads the alert, decides what to look for and collects evidence.
type Ingestion struct {
	base
	llm investigation.Completer
}

// NewIngestion creates the ingestion stage. llm may be nil, in which case no
// generated queries are run.
func NewIngestion(store Store, llm investigation.Completer, logger log.Logger) *Ingestion {
	return &Ingestion{
		base: newBase(investigation.StageIngestion, store, logger),
		llm:  llm,
	}
}

// Execute implements investigation.Stage.
func (g *Ingestion) Execute(ctx context.Context, s *investigation.State) (*investigation.Update, error) {
	L := g.scoped(s)

	alert, ok, err := g.store.AlertContext(ctx, s.AlertID)
	if err != nil {
		L.Error(ctx, err, "alert lookup failed")
	}
	if err != nil || !ok {
		msg := "alert not found"
		if err := g.judge(ctx, s, "data_ingestion_failed", 0, map[string]any{"error": msg}, nil); err != nil {
			return nil, err
		}
		L.Warn(ctx, "alert not found, ingestion skipped")
		return &investigation.Update{Success: false, Output: &IngestionOutput{Error: msg}}, nil
	}

	goal := investigationGoal(alert.AlertType, s.ContextData)
	L.Info(ctx, "ingestion started", "alert_type", alert.AlertType, "goal", goal)

	generated := extractSelects(complete(ctx, g.llm, L, "contextual_queries", contextualQueryPrompt(alert, goal, s.ContextData)))
	specific := specificQueries(alert)

	queries := make([]Query, 0, len(generated)+len(specific)+5)
	queries = append(queries, generated...)
	queries = append(queries, specific...)
	queries = append(queries, batteryQueries(alert)...)

	evidence := g.collect(ctx, L, queries)
	forwarded := evidence
	if alert.AlertType == investigation.AlertNewPayee {
		forwarded = newPayeeEvidence(evidence)
	}

	sqls := make([]string, len(queries))
	for i, q := range queries {
		sqls[i] = q.SQL
	}

	out := &IngestionOutput{
		InvestigationGoal: goal,
		DynamicQueries:    len(generated) + len(specific),
		TotalQueries:      len(queries),
		TotalEvidence:     len(evidence),
	}
	rationale := map[string]any{
		"dynamic_queries": out.DynamicQueries,
		"total_queries":   out.TotalQueries,
		"total_evidence":  out.TotalEvidence,
	}
	if err := g.judge(ctx, s, "data_ingestion_complete", 1.0, rationale, sqls); err != nil {
		return nil, err
	}

	L.Info(ctx, "ingestion complete",
		"queries", len(queries),
		"generated", len(generated),
		"evidence_keys", len(forwarded),
	)

	return &investigation.Update{
		Success: true,
		Output:  out,
		ContextData: map[string]any{
			investigation.ContextAlertBasic:        alert,
			investigation.ContextInvestigationGoal: goal,
			investigation.ContextLoopIteration:     s.LoopCount,
		},
		Queries:  sqls,
		Evidence: forwarded,
	}, nil
}

// collect runs every query in order. A failing query is recorded under
// query_N_error and never stops the rest.
func (g *Ingestion) collect(ctx context.Context, L log.Logger, queries []Query) map[string]any {
	evidence := make(map[string]any, 3*len(queries))
	for i, q := range queries {
		key := fmt.Sprintf("query_%d", i+1)
		evidence[key+"_sql"] = q.SQL

		rows, err := g.store.RunQuery(ctx, q.SQL, q.Args...)
		if err != nil {
			L.Warn(ctx, "evidence query failed", "query", key, "error", err.Error())
			evidence[key+"_error"] = err.Error()
			continue
		}
		if rows == nil {
			rows = []investigation.Row{}
		}
		evidence[key+"_results"] = rows
		evidence[key+"_count"] = len(rows)
	}
	return evidence
}
