package agents

import (
	"fmt"
	"sort"
	"strings"

	"github.com/linnemanlabs/warden/internal/investigation"
)

// Confidence cut points for picking a decision-rule tier.
const (
	tierTrueBound  = 0.7
	tierFalseBound = 0.5
)

// RuleMatch is one rule listed in the pattern output.
type RuleMatch struct {
	Rule    string `json:"rule"`
	Matched bool   `json:"matched"`
}

// ruleDefinitions describes what raised each alert type.
func ruleDefinitions(highRisk []string) map[string]string {
	locs := append([]string(nil), highRisk...)
	sort.Strings(locs)
	return map[string]string{
		string(investigation.AlertHighValue):           "Transaction amount > 100000",
		string(investigation.AlertGeoMismatch):         "Transaction location != user's registered location",
		string(investigation.AlertVelocity):            "> 5 txns in 5 minutes",
		string(investigation.AlertFailedLoginTransfer): "Failed logins immediately followed by a transfer > 50000",
		string(investigation.AlertNewPayee):            "New payee added < 7d, amount > 50000",
		string(investigation.AlertStructuring):         "Multiple smaller txns > 150000 over 7d",
		string(investigation.AlertCrossChannel):        "ATM withdrawal + transfer in different locations within 60m",
		string(investigation.AlertHighRiskLocation):    fmt.Sprintf("Transaction to one of [%s]", strings.Join(locs, ", ")),
	}
}

// decisionRules lists, per alert type, the tiered rules in order
// true positive, human review, false positive.
var decisionRules = map[investigation.AlertType][]string{
	investigation.AlertHighValue: {
		"If historical similar transactions <= 1 -> True Positive (>0.7)",
		"If historical similar transactions 2-4 -> Human Review (0.5-0.7)",
		"If historical similar transactions >= 5 -> False Positive (<=0.5)",
	},
	investigation.AlertGeoMismatch: {
		"If count of similar location mismatches <= 1 -> True Positive (>0.7)",
		"If count of similar location mismatches 2-4 -> Human Review (0.5-0.7)",
		"If count of similar location mismatches >= 5 -> False Positive (<=0.5)",
	},
	investigation.AlertVelocity: {
		"If historical velocity events <= 1 -> True Positive (>0.7)",
		"If historical velocity events 2-4 -> Human Review (0.5-0.7)",
		"If historical velocity events >= 5 -> False Positive (<=0.5)",
	},
	investigation.AlertNewPayee: {
		"If historical new payee events < 2 -> True Positive (>0.7)",
		"If historical new payee events 2-4 -> Human Review (0.5-0.7)",
		"If historical new payee events >= 5 -> False Positive (<=0.5)",
	},
	investigation.AlertFailedLoginTransfer: {
		"If transfer amount >= 70% of (amount + balance) -> True Positive (>0.7)",
		"If transfer amount between 50%-70% -> Human Review (0.5-0.7)",
		"If transfer amount <= 50% -> False Positive (<=0.5)",
	},
	investigation.AlertStructuring: {
		"If smaller transactions summing past the threshold occurred once historically -> True Positive (>0.7)",
		"If occurrences 2-4 -> Human Review (0.5-0.7)",
		"If occurrences >= 5 -> False Positive (<=0.5)",
	},
	investigation.AlertCrossChannel: {
		"If ATM withdrawal + transfer in different locations within 60m happened <= 1 time -> True Positive (>0.7)",
		"If it happened 2-4 times -> Human Review (0.5-0.7)",
		"If it happened >= 5 times -> False Positive (<=0.5)",
	},
	investigation.AlertHighRiskLocation: {
		"If location is in high-risk list -> True Positive (>0.7)",
	},
}

// tierFor maps a confidence to the decision-rule tier it satisfies.
func tierFor(c float64) int {
	switch {
	case c >= tierTrueBound:
		return 0
	case c <= tierFalseBound:
		return 2
	default:
		return 1
	}
}

// rulesUsed lists the base rule followed by the decision rules, marking the
// one at tier as matched. Types with fewer tiers may end up with no matched
// decision rule.
func rulesUsed(t investigation.AlertType, defs map[string]string, tier int) []RuleMatch {
	out := []RuleMatch{{Rule: fmt.Sprintf("%s: %s", t, defs[string(t)]), Matched: true}}
	for i, r := range decisionRules[t] {
		out = append(out, RuleMatch{Rule: r, Matched: i == tier})
	}
	return out
}
