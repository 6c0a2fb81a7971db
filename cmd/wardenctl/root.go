package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type globalFlags struct {
	server  string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "wardenctl",
		Short:         "Command line client for the warden investigation API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&g.server, "server", envOr("WARDEN_SERVER", "http://localhost:8080"), "warden API base URL")
	f.StringVar(&g.token, "token", os.Getenv("WARDEN_API_TOKEN"), "bearer token for the API")
	f.DurationVar(&g.timeout, "timeout", 10*time.Minute, "request timeout; batch runs can take minutes")

	root.AddCommand(
		newInvestigateCmd(g),
		newPendingCmd(g),
		newHistoryCmd(g),
		newResultCmd(g),
		newVerifyCmd(g),
		newOutcomesCmd(g),
		newStatsCmd(g),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
