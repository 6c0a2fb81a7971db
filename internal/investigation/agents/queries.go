package agents

import (
	"fmt"
	"sort"
	"strings"

	"github.com/linnemanlabs/warden/internal/investigation"
)

const (
	newPayeeWindowDays     = 7
	newPayeeAmountMinimum  = 50000
	maxContextualQueries   = 5
	newPayeeMarker         = "JOIN user_payees AS up"
	newPayeeEvidenceKey    = "historical_new_payee_events"
	generalInvestigateGoal = "General suspicious activity investigation."
)

// newPayeeSQL is the targeted NewPayee battery query. Its rows are the only
// evidence forwarded for NewPayee alerts.
var newPayeeSQL = fmt.Sprintf(`SELECT t.transaction_id, t.timestamp, t.amount, t.payee_id, up.date_added_by_user
FROM transactions AS t
JOIN user_payees AS up ON t.user_id = up.user_id AND t.payee_id = up.payee_id
WHERE t.user_id = $1
  AND t.amount >= %d
  AND t.timestamp - up.date_added_by_user BETWEEN interval '0 days' AND interval '%d days'
ORDER BY t.timestamp DESC`, newPayeeAmountMinimum, newPayeeWindowDays)

// Query is a parameterized evidence query. Generated queries carry no args.
type Query struct {
	SQL  string
	Args []any
}

var investigationGoals = map[investigation.AlertType]string{
	investigation.AlertHighValue:           "Analyze transaction amount against user patterns and risk thresholds",
	investigation.AlertVelocity:            "Examine transaction frequency and timing patterns for unusual activity",
	investigation.AlertNewPayee:            "Investigate new payee additions and subsequent transaction patterns",
	investigation.AlertFailedLoginTransfer: "Correlate failed login attempts with transaction timing",
	investigation.AlertGeoMismatch:         "Analyze location patterns and geographical anomalies",
	investigation.AlertStructuring:         "Detect potential money laundering through amount patterns",
	investigation.AlertCrossChannel:        "Examine cross-channel transaction patterns",
	investigation.AlertHighRiskLocation:    "Assess location-based risk factors",
}

// investigationGoal picks the goal for an alert type and qualifies it with
// any hints left by a previous pass.
func investigationGoal(t investigation.AlertType, prev map[string]any) string {
	goal, ok := investigationGoals[t]
	if !ok {
		goal = generalInvestigateGoal
	}
	if truthy(prev[investigation.ContextNeedDeeperAnalysis]) {
		goal += " with deeper historical analysis."
	}
	if truthy(prev[investigation.ContextAmbiguousPatterns]) {
		goal += " focusing on pattern clarification."
	}
	return goal
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// specificQueries returns the fixed queries for an alert type.
func specificQueries(a *investigation.AlertContext) []Query {
	uid := []any{a.UserID}
	q := func(sql string) Query { return Query{SQL: sql, Args: uid} }

	switch a.AlertType {
	case investigation.AlertHighValue:
		return []Query{
			q("SELECT AVG(amount) AS avg_amount, MAX(amount) AS max_amount, COUNT(*) AS txn_count FROM transactions WHERE user_id = $1 AND timestamp > now() - interval '90 days'"),
			q("SELECT * FROM transactions WHERE user_id = $1 AND amount > 100000"),
		}
	case investigation.AlertVelocity:
		return []Query{
			q("SELECT COUNT(*) AS txn_count, SUM(amount) AS total_amount FROM transactions WHERE user_id = $1 AND timestamp > now() - interval '1 hour'"),
			q("SELECT COUNT(DISTINCT payee_id) AS unique_payees FROM transactions WHERE user_id = $1 AND timestamp > now() - interval '1 hour'"),
		}
	case investigation.AlertNewPayee:
		return []Query{
			q("SELECT t.*, up.date_added_by_user FROM transactions t JOIN user_payees up ON t.payee_id = up.payee_id WHERE t.user_id = $1 AND up.date_added_by_user >= now() - interval '48 hours'"),
		}
	case investigation.AlertFailedLoginTransfer:
		return []Query{
			q("SELECT COUNT(*) AS failed_count FROM login_attempts WHERE user_id = $1 AND status = 'failed' AND timestamp > now() - interval '24 hours'"),
		}
	case investigation.AlertStructuring:
		return []Query{
			q("SELECT * FROM transactions WHERE user_id = $1 AND amount % 10000 = 0 AND timestamp > now() - interval '7 days'"),
		}
	case investigation.AlertGeoMismatch:
		return []Query{
			q("SELECT DISTINCT location FROM transactions WHERE user_id = $1 AND timestamp > now() - interval '30 days'"),
		}
	case investigation.AlertCrossChannel:
		return []Query{
			q("SELECT DISTINCT transaction_type FROM transactions WHERE user_id = $1 AND timestamp > now() - interval '1 hour'"),
		}
	default:
		return nil
	}
}

// batteryQueries returns the standard evidence battery. NewPayee alerts get a
// single targeted query instead.
func batteryQueries(a *investigation.AlertContext) []Query {
	if a.AlertType == investigation.AlertNewPayee {
		return []Query{{SQL: newPayeeSQL, Args: []any{a.UserID}}}
	}
	return []Query{
		{SQL: "SELECT * FROM user_payees WHERE user_id = $1", Args: []any{a.UserID}},
		{SQL: "SELECT * FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC", Args: []any{a.UserID}},
		{SQL: "SELECT * FROM login_attempts WHERE user_id = $1 ORDER BY timestamp DESC", Args: []any{a.UserID}},
		{SQL: "SELECT * FROM accounts WHERE account_id = $1", Args: []any{a.AccountID}},
		{SQL: "SELECT d.* FROM devices d JOIN user_devices ud ON d.device_id = ud.device_id WHERE ud.user_id = $1", Args: []any{a.UserID}},
	}
}

// extractSelects keeps the reply lines that look like SELECT statements.
func extractSelects(reply string) []Query {
	var out []Query
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(strings.ToUpper(line), "SELECT") {
			continue
		}
		out = append(out, Query{SQL: line})
		if len(out) == maxContextualQueries {
			break
		}
	}
	return out
}

type column struct{ name, typ string }

// schema is the bank schema described to the model when it writes queries.
var schema = []struct {
	table   string
	columns []column
}{
	{"users", []column{{"user_id", "TEXT PRIMARY KEY"}, {"name", "TEXT"}, {"email", "TEXT"}, {"phone_number", "TEXT"}, {"registered_location", "TEXT"}, {"account_creation_date", "TIMESTAMPTZ"}}},
	{"accounts", []column{{"account_id", "TEXT PRIMARY KEY"}, {"user_id", "TEXT"}, {"account_type", "TEXT"}, {"current_balance", "DOUBLE PRECISION"}, {"is_active", "BOOLEAN"}}},
	{"transactions", []column{{"transaction_id", "TEXT PRIMARY KEY"}, {"user_id", "TEXT"}, {"account_id", "TEXT"}, {"timestamp", "TIMESTAMPTZ"}, {"amount", "DOUBLE PRECISION"}, {"currency", "TEXT"}, {"merchant", "TEXT"}, {"transaction_type", "TEXT"}, {"location", "TEXT"}, {"device_id", "TEXT"}, {"ip_address", "TEXT"}, {"payee_id", "TEXT"}}},
	{"alerts", []column{{"alert_id", "TEXT PRIMARY KEY"}, {"user_id", "TEXT"}, {"account_id", "TEXT"}, {"transaction_id", "TEXT"}, {"alert_type", "TEXT"}, {"timestamp", "TIMESTAMPTZ"}, {"description", "TEXT"}}},
	{"devices", []column{{"device_id", "TEXT PRIMARY KEY"}, {"device_type", "TEXT"}, {"os", "TEXT"}, {"last_seen_ip", "TEXT"}}},
	{"login_attempts", []column{{"login_id", "TEXT PRIMARY KEY"}, {"user_id", "TEXT"}, {"timestamp", "TIMESTAMPTZ"}, {"status", "TEXT"}, {"ip_address", "TEXT"}, {"device_id", "TEXT"}}},
	{"payees", []column{{"payee_id", "TEXT PRIMARY KEY"}, {"payee_name", "TEXT"}, {"email", "TEXT"}, {"phone_number", "TEXT"}, {"registered_location", "TEXT"}, {"account_creation_date", "TIMESTAMPTZ"}}},
	{"user_devices", []column{{"user_id", "TEXT"}, {"device_id", "TEXT"}}},
	{"user_payees", []column{{"user_id", "TEXT"}, {"payee_id", "TEXT"}, {"date_added_by_user", "TIMESTAMPTZ"}}},
}

func schemaDescription() string {
	var b strings.Builder
	b.WriteString("DATABASE SCHEMA (PostgreSQL):\n")
	for _, t := range schema {
		fmt.Fprintf(&b, "\n%s:\n", t.table)
		for _, c := range t.columns {
			fmt.Fprintf(&b, " - %s: %s\n", c.name, c.typ)
		}
	}
	return b.String()
}

// newPayeeEvidence keeps only the rows of the targeted new-payee battery
// query. Generated queries never qualify, even when they join user_payees
// the same way.
func newPayeeEvidence(evidence map[string]any) map[string]any {
	rows := []investigation.Row{}
	for _, k := range sortedKeys(evidence) {
		sql, ok := evidence[k].(string)
		if !ok || !strings.HasSuffix(k, "_sql") || sql != newPayeeSQL {
			continue
		}
		if r, ok := evidence[strings.TrimSuffix(k, "_sql")+"_results"].([]investigation.Row); ok {
			rows = r
		}
		break
	}
	return map[string]any{newPayeeEvidenceKey: rows}
}

// rowsOf returns v as a list of rows if it is one.
func rowsOf(v any) ([]investigation.Row, bool) {
	switch t := v.(type) {
	case []investigation.Row:
		return t, true
	case []map[string]any:
		out := make([]investigation.Row, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	case []any:
		out := make([]investigation.Row, 0, len(t))
		for _, it := range t {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
