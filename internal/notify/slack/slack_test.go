package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

// capture starts a webhook server that hands every decoded payload to the
// returned channel.
func capture(t *testing.T) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	payloads := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		var got map[string]any
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		payloads <- got
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, payloads
}

func sectionText(t *testing.T, blocks []any, i int) string {
	t.Helper()
	return blocks[i].(map[string]any)["text"].(map[string]any)["text"].(string)
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	srv, payloads := capture(t)
	suspicious := true
	result := &investigation.Result{
		AlertID:              "ALT-1042",
		Outcome:              investigation.ActionEscalate,
		IsSuspicious:         &suspicious,
		Confidence:           0.91,
		InvestigationSummary: "High risk (0.91). Escalating for immediate action.",
		RiskFactors:          []string{"High velocity activity", "Transfer to new payee"},
		LoopsExecuted:        1,
		TotalQueries:         14,
		Duration:             23.4,
		CompletedAt:          time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}

	if err := New(srv.URL, log.Nop()).Send(context.Background(), result); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := <-payloads

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, divider, summary, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	header := sectionText(t, blocks, 0)
	if !strings.Contains(header, "ALT-1042") || !strings.Contains(header, "Escalated") {
		t.Errorf("header text = %q", header)
	}
	if !strings.Contains(header, "\U0001f534") {
		t.Error("header should contain red circle for an escalation")
	}

	summary := sectionText(t, blocks, 4)
	for _, want := range []string{"Escalating for immediate action", "• High velocity activity", "• Transfer to new payee"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	ctxText := blocks[6].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context text = %q", ctxText)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.Send(context.Background(), &investigation.Result{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongSummary(t *testing.T) {
	t.Parallel()

	srv, payloads := capture(t)
	err := New(srv.URL, log.Nop()).Send(context.Background(), &investigation.Result{
		AlertID:              "ALT-1",
		Outcome:              investigation.ActionHumanReview,
		InvestigationSummary: strings.Repeat("x", 4000),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	text := sectionText(t, (<-payloads)["blocks"].([]any), 4)
	if len(text) > maxSummaryLen+len("*Summary*\n\n") {
		t.Errorf("summary text length = %d, expected <= %d", len(text), maxSummaryLen+len("*Summary*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated summary to end with ...")
	}
}

func TestSummaryBlock_CapsRiskFactors(t *testing.T) {
	t.Parallel()

	var factors []string
	for i := range 14 {
		factors = append(factors, fmt.Sprintf("factor %d", i))
	}
	block := summaryBlock(&investigation.Result{RiskFactors: factors})
	text := block["text"].(map[string]any)["text"].(string)

	if strings.Count(text, "• factor") != maxRiskFactors {
		t.Errorf("listed factors = %d, want %d", strings.Count(text, "• factor"), maxRiskFactors)
	}
	if !strings.Contains(text, "and 4 more") {
		t.Errorf("text should mention the remaining factors:\n%s", text)
	}
	if !strings.Contains(text, "_No summary available._") {
		t.Error("empty summary should use the placeholder")
	}
}

func TestOutcomeEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome investigation.Action
		want    string
	}{
		{investigation.ActionEscalate, "\U0001f534"},
		{investigation.ActionError, "\U0001f534"},
		{investigation.ActionHumanReview, "\U0001f7e1"},
		{investigation.ActionInvestigateFurther, "\U0001f7e1"},
		{investigation.ActionAutoClose, "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			t.Parallel()
			if got := outcomeEmoji(tt.outcome); got != tt.want {
				t.Errorf("outcomeEmoji(%q) = %q, want %q", tt.outcome, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("ALT-1", "ESCALATE", "High risk.", "High velocity activity")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "HUMAN_REVIEW", "*bold* _italic_ ~strike~", "factor")
	f.Add("alert\x00\x01\x02", "ERR\nOR", "summary\ttab", "f\x00ctor")
	f.Add(strings.Repeat("A", 5000), "AUTO_CLOSE", strings.Repeat("x", 10000), "")

	f.Fuzz(func(t *testing.T, alertID, outcome, summary, factor string) {
		result := &investigation.Result{
			AlertID:              alertID,
			Outcome:              investigation.Action(outcome),
			InvestigationSummary: summary,
			RiskFactors:          []string{factor},
			Duration:             1.0,
			CompletedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		// Must not panic
		msg := buildMessage(result)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Send(context.Background(), &investigation.Result{AlertID: "ALT-2"})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
