package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/warden/internal/investigation"
)

func newInvestigateCmd(g *globalFlags) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "investigate <alert-id>",
		Short: "Run a full investigation for one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(g).do(cmd.Context(), http.MethodPost, alertPath(args[0], "investigate"), nil)
			if err != nil {
				return err
			}
			if raw {
				return printJSON(cmd.OutOrStdout(), data)
			}
			var r investigation.Result
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			printResult(cmd.OutOrStdout(), &r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON result")
	return cmd
}

func newPendingCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Investigate the newest pending alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/v1/alerts/process-pending?limit=" + strconv.Itoa(limit)
			data, err := newClient(g).do(cmd.Context(), http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			var resp struct {
				Processed int                     `json:"processed"`
				Results   []*investigation.Result `json:"results"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode results: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processed: %d\n", resp.Processed)
			for _, r := range resp.Results {
				fmt.Fprintf(out, "  %-12s %-20s %.2f", r.AlertID, r.Outcome, r.Confidence)
				if r.Error != "" {
					fmt.Fprintf(out, "  error: %s", r.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum alerts to process (1..100)")
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <alert-id>",
		Short: "Show the audit trail and outcome of an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(g).do(cmd.Context(), http.MethodGet, alertPath(args[0], "history"), nil)
			if err != nil {
				return err
			}
			var h investigation.History
			if err := json.Unmarshal(data, &h); err != nil {
				return fmt.Errorf("decode history: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Alert:      %s\n", h.AlertID)
			fmt.Fprintf(out, "Judgements: %d\n", len(h.Judgements))
			for _, j := range h.Judgements {
				fmt.Fprintf(out, "  [loop %d] %-22s %-20s %.2f  %s\n",
					j.LoopIteration, j.Stage, j.Action, j.Confidence, j.Timestamp.Format("2006-01-02 15:04:05"))
			}
			if h.Outcome != nil {
				fmt.Fprintf(out, "Outcome:    %s (confidence %.2f, suspicious %t, verified %t)\n",
					h.Outcome.FinalOutcome, h.Outcome.ConfidenceScore, h.Outcome.IsSuspicious, h.Outcome.HumanVerified)
			} else {
				fmt.Fprintln(out, "Outcome:    none")
			}
			return nil
		},
	}
}

func newResultCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "result <alert-id>",
		Short: "Print the stored result of the last run for an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(g).do(cmd.Context(), http.MethodGet, alertPath(args[0], "result"), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newVerifyCmd(g *globalFlags) *cobra.Command {
	var verified bool
	cmd := &cobra.Command{
		Use:   "verify <alert-id>",
		Short: "Record analyst confirmation of an alert's outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]bool{"human_verified": verified}
			if _, err := newClient(g).do(cmd.Context(), http.MethodPut, alertPath(args[0], "verification"), body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s human_verified=%t\n", args[0], verified)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verified, "verified", true, "verification value to record")
	return cmd
}

func newOutcomesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes",
		Short: "List stored outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := newClient(g).do(cmd.Context(), http.MethodGet, "/api/v1/outcomes", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show outcome statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := newClient(g).do(cmd.Context(), http.MethodGet, "/api/v1/stats", nil)
			if err != nil {
				return err
			}
			var s investigation.Stats
			if err := json.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total investigations: %d\n", s.TotalInvestigations)
			fmt.Fprintf(out, "True positives:       %d\n", s.TruePositives)
			fmt.Fprintf(out, "False positives:      %d\n", s.FalsePositives)
			fmt.Fprintf(out, "Under investigation:  %d\n", s.UnderInvestigation)
			for _, b := range s.Outcomes {
				fmt.Fprintf(out, "  %-20s suspicious=%-5t count=%d avg_confidence=%.2f\n",
					b.FinalOutcome, b.IsSuspicious, b.Count, b.AvgConfidence)
			}
			return nil
		},
	}
}

func printResult(out io.Writer, r *investigation.Result) {
	fmt.Fprintf(out, "Alert:      %s\n", r.AlertID)
	fmt.Fprintf(out, "Outcome:    %s\n", r.Outcome)
	fmt.Fprintf(out, "Confidence: %.2f\n", r.Confidence)
	if r.IsSuspicious != nil {
		fmt.Fprintf(out, "Suspicious: %t\n", *r.IsSuspicious)
	}
	fmt.Fprintf(out, "Loops:      %d\n", r.LoopsExecuted)
	fmt.Fprintf(out, "Queries:    %d\n", r.TotalQueries)
	fmt.Fprintf(out, "Duration:   %.1fs\n", r.Duration)
	if r.InvestigationSummary != "" {
		fmt.Fprintf(out, "Summary:    %s\n", r.InvestigationSummary)
	}
	for _, f := range r.RiskFactors {
		fmt.Fprintf(out, "  - %s\n", f)
	}
	if r.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", r.Error)
	}
}

func printJSON(out io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
