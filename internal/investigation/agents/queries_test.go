package agents

import (
	"strings"
	"testing"

	"github.com/linnemanlabs/warden/internal/investigation"
)

func TestInvestigationGoal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  investigation.AlertType
		prev map[string]any
		want string
	}{
		{"first pass", investigation.AlertVelocity, nil, "Examine transaction frequency and timing patterns for unusual activity"},
		{"unknown type", investigation.AlertType("Mystery"), map[string]any{}, "General suspicious activity investigation."},
		{
			"deeper analysis",
			investigation.AlertGeoMismatch,
			map[string]any{investigation.ContextNeedDeeperAnalysis: true},
			"Analyze location patterns and geographical anomalies with deeper historical analysis.",
		},
		{
			"deeper and ambiguous",
			investigation.AlertHighRiskLocation,
			map[string]any{investigation.ContextNeedDeeperAnalysis: true, investigation.ContextAmbiguousPatterns: emptyAnalysis()},
			"Assess location-based risk factors with deeper historical analysis. focusing on pattern clarification.",
		},
		{
			"falsy hints",
			investigation.AlertStructuring,
			map[string]any{investigation.ContextNeedDeeperAnalysis: false, investigation.ContextAmbiguousPatterns: map[string]any{}},
			"Detect potential money laundering through amount patterns",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := investigationGoal(tt.typ, tt.prev); got != tt.want {
				t.Errorf("investigationGoal = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSelects(t *testing.T) {
	t.Parallel()

	reply := strings.Join([]string{
		"Here are the queries:",
		"SELECT 1",
		"  select 2  ",
		"-- comment",
		"SELECT 3",
		"UPDATE users SET name = 'x'",
		"SELECT 4",
		"SELECT 5",
		"SELECT 6",
	}, "\n")

	got := extractSelects(reply)
	if len(got) != maxContextualQueries {
		t.Fatalf("len = %d, want %d", len(got), maxContextualQueries)
	}
	if got[1].SQL != "select 2" {
		t.Errorf("got[1] = %q, want %q", got[1].SQL, "select 2")
	}
	for _, q := range got {
		if len(q.Args) != 0 {
			t.Errorf("generated query %q carries args", q.SQL)
		}
	}

	if got := extractSelects(""); len(got) != 0 {
		t.Errorf("extractSelects(\"\") = %v, want none", got)
	}
}

func TestBatteryQueries(t *testing.T) {
	t.Parallel()

	np := batteryQueries(testAlert("a-1", investigation.AlertNewPayee))
	if len(np) != 1 {
		t.Fatalf("NewPayee battery = %d queries, want 1", len(np))
	}
	if !strings.Contains(np[0].SQL, newPayeeMarker) {
		t.Errorf("NewPayee query missing marker %q", newPayeeMarker)
	}

	std := batteryQueries(testAlert("a-1", investigation.AlertHighValue))
	if len(std) != 5 {
		t.Fatalf("standard battery = %d queries, want 5", len(std))
	}
	for _, q := range std {
		if strings.Contains(q.SQL, newPayeeMarker) {
			t.Errorf("standard query %q carries the new-payee marker", q.SQL)
		}
		if len(q.Args) != 1 {
			t.Errorf("query %q has %d args, want 1", q.SQL, len(q.Args))
		}
	}
	if std[3].Args[0] != "acc-1" {
		t.Errorf("accounts query arg = %v, want acc-1", std[3].Args[0])
	}
}

func TestSpecificQueries(t *testing.T) {
	t.Parallel()

	counts := map[investigation.AlertType]int{
		investigation.AlertHighValue:           2,
		investigation.AlertVelocity:            2,
		investigation.AlertNewPayee:            1,
		investigation.AlertFailedLoginTransfer: 1,
		investigation.AlertStructuring:         1,
		investigation.AlertGeoMismatch:         1,
		investigation.AlertCrossChannel:        1,
		investigation.AlertHighRiskLocation:    0,
	}
	for typ, want := range counts {
		if got := len(specificQueries(testAlert("a", typ))); got != want {
			t.Errorf("specificQueries(%s) = %d, want %d", typ, got, want)
		}
	}
}

func TestNewPayeeEvidence(t *testing.T) {
	t.Parallel()

	wanted := []investigation.Row{{"transaction_id": "t-9"}, {"transaction_id": "t-8"}}
	evidence := map[string]any{
		"query_1_sql":     "SELECT * FROM transactions WHERE user_id = $1",
		"query_1_results": []investigation.Row{{"transaction_id": "t-1"}},
		"query_1_count":   1,
		"query_2_sql":     newPayeeSQL,
		"query_2_results": wanted,
		"query_2_count":   2,
		"query_3_sql":     "SELECT * FROM broken",
		"query_3_error":   "relation does not exist",
	}

	got := newPayeeEvidence(evidence)
	if len(got) != 1 {
		t.Fatalf("forwarded keys = %d, want 1: %v", len(got), got)
	}
	rows, ok := got[newPayeeEvidenceKey].([]investigation.Row)
	if !ok {
		t.Fatalf("%s has type %T", newPayeeEvidenceKey, got[newPayeeEvidenceKey])
	}
	if len(rows) != 2 || rows[0]["transaction_id"] != "t-9" {
		t.Errorf("rows = %v, want %v", rows, wanted)
	}
}

func TestNewPayeeEvidence_MissingOrFailed(t *testing.T) {
	t.Parallel()

	failed := map[string]any{
		"query_1_sql":   newPayeeSQL,
		"query_1_error": "timeout",
	}
	for name, ev := range map[string]map[string]any{"failed": failed, "absent": {}} {
		got := newPayeeEvidence(ev)
		rows, ok := got[newPayeeEvidenceKey].([]investigation.Row)
		if !ok || len(rows) != 0 {
			t.Errorf("%s: forwarded = %v, want empty rows", name, got)
		}
	}
}

func TestNewPayeeEvidence_IgnoresGeneratedLookalike(t *testing.T) {
	t.Parallel()

	evidence := map[string]any{
		"query_1_sql":     "SELECT t.* FROM transactions AS t " + newPayeeMarker + " ON t.payee_id = up.payee_id",
		"query_1_results": []investigation.Row{{"transaction_id": "generated"}},
		"query_1_count":   1,
		"query_2_sql":     "SELECT * FROM transactions WHERE user_id = 'u-1'",
		"query_2_results": []investigation.Row{{"transaction_id": "specific"}},
		"query_2_count":   1,
		"query_3_sql":     newPayeeSQL,
		"query_3_results": []investigation.Row{{"transaction_id": "battery"}},
		"query_3_count":   1,
	}

	rows, _ := newPayeeEvidence(evidence)[newPayeeEvidenceKey].([]investigation.Row)
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if got := rows[0]["transaction_id"]; got != "battery" {
		t.Errorf("forwarded transaction_id = %v, want %v", got, "battery")
	}
}

func TestSchemaDescription(t *testing.T) {
	t.Parallel()

	d := schemaDescription()
	for _, table := range []string{"users:", "transactions:", "user_payees:", "login_attempts:"} {
		if !strings.Contains(d, table) {
			t.Errorf("schema description missing %q", table)
		}
	}
}
