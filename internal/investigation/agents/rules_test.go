package agents

import (
	"strings"
	"testing"

	"github.com/linnemanlabs/warden/internal/investigation"
)

func TestTierFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		c    float64
		want int
	}{
		{1.0, 0},
		{0.7, 0},
		{0.69, 1},
		{0.51, 1},
		{0.5, 2},
		{0.0, 2},
	}
	for _, tt := range tests {
		if got := tierFor(tt.c); got != tt.want {
			t.Errorf("tierFor(%v) = %d, want %d", tt.c, got, tt.want)
		}
	}
}

func TestRulesUsed_ExactlyOneDecisionRuleMatches(t *testing.T) {
	t.Parallel()

	defs := ruleDefinitions(investigation.DefaultConfig().HighRiskLocations)
	for typ, rules := range decisionRules {
		if len(rules) < 3 {
			continue
		}
		for tier := range 3 {
			got := rulesUsed(typ, defs, tier)
			if len(got) != 4 {
				t.Fatalf("%s: len = %d, want 4", typ, len(got))
			}
			if !got[0].Matched || !strings.HasPrefix(got[0].Rule, string(typ)+": ") {
				t.Errorf("%s: base rule = %+v", typ, got[0])
			}
			matched := 0
			for i, r := range got[1:] {
				if r.Matched {
					matched++
					if i != tier {
						t.Errorf("%s: matched index %d, want %d", typ, i, tier)
					}
				}
			}
			if matched != 1 {
				t.Errorf("%s tier %d: %d decision rules matched, want 1", typ, tier, matched)
			}
		}
	}
}

func TestRuleDefinitions_HighRiskLocationSorted(t *testing.T) {
	t.Parallel()

	defs := ruleDefinitions([]string{"SY", "CU", "KP", "IR"})
	want := "Transaction to one of [CU, IR, KP, SY]"
	if got := defs[string(investigation.AlertHighRiskLocation)]; got != want {
		t.Errorf("definition = %q, want %q", got, want)
	}
	if len(defs) != 8 {
		t.Errorf("len(defs) = %d, want 8", len(defs))
	}
}
