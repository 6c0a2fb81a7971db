package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/llm/reliable"
)

// Config adds warden-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	APIReadToken          string
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	RedisURL              string
	SlackWebhookURL       string

	MaxLoops                   int
	PatternConfidenceThreshold float64
	RiskThreshold              float64
	AutoCloseThreshold         float64
	HighRiskLocations          string
	BatchConcurrency           int
	BatchStaggerMillis         int

	PollIntervalSeconds int
	PollBatchSize       int

	LLMAttempts        int
	LLMTimeoutSeconds  int
	LLMRatePerSecond   float64
	LLMBreakerFailures int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	d := investigation.DefaultConfig()
	r := reliable.DefaultOptions()

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required for every API request")
	fs.StringVar(&c.APIReadToken, "api-read-token", "", "optional bearer token limited to GET requests")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the cross-process in-flight guard (empty = process-local)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")

	fs.IntVar(&c.MaxLoops, "max-loops", d.MaxLoops, "maximum loop-backs per investigation (1..10)")
	fs.Float64Var(&c.PatternConfidenceThreshold, "pattern-confidence-threshold", d.PatternConfidenceThreshold, "pattern confidence below which suspicious alerts loop back to ingestion")
	fs.Float64Var(&c.RiskThreshold, "risk-threshold", d.RiskThreshold, "risk score at or above which alerts escalate")
	fs.Float64Var(&c.AutoCloseThreshold, "auto-close-threshold", d.AutoCloseThreshold, "risk score below which alerts auto-close")
	fs.StringVar(&c.HighRiskLocations, "high-risk-locations", strings.Join(d.HighRiskLocations, ","), "comma-separated high-risk location codes")
	fs.IntVar(&c.BatchConcurrency, "batch-concurrency", d.BatchConcurrency, "alerts investigated in parallel by a batch (>= 1)")
	fs.IntVar(&c.BatchStaggerMillis, "batch-stagger-ms", int(d.BatchStagger/time.Millisecond), "pause between batch items in milliseconds")

	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 0, "seconds between background pending-alert batches (0 = disabled)")
	fs.IntVar(&c.PollBatchSize, "poll-batch-size", 10, "alerts per background batch (1..100)")

	fs.IntVar(&c.LLMAttempts, "llm-attempts", int(r.Attempts), "attempts per model call (1..10)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", int(r.AttemptTimeout/time.Second), "timeout per model call attempt in seconds (1..600)")
	fs.Float64Var(&c.LLMRatePerSecond, "llm-rate-per-second", r.RatePerSecond, "model calls allowed per second")
	fs.IntVar(&c.LLMBreakerFailures, "llm-breaker-failures", int(r.BreakerFailures), "consecutive model failures that open the circuit breaker")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}
	if c.APIReadToken != "" && c.APIReadToken == c.APIToken {
		errs = append(errs, errors.New("API_READ_TOKEN must differ from API_TOKEN"))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.PollIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be >= 0)", c.PollIntervalSeconds))
	}
	if c.PollBatchSize < 1 || c.PollBatchSize > 100 {
		errs = append(errs, fmt.Errorf("invalid POLL_BATCH_SIZE %d (must be 1..100)", c.PollBatchSize))
	}

	if c.LLMAttempts < 1 || c.LLMAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid LLM_ATTEMPTS %d (must be 1..10)", c.LLMAttempts))
	}
	if c.LLMTimeoutSeconds < 1 || c.LLMTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutSeconds))
	}
	if c.LLMRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_RATE_PER_SECOND %g (must be > 0)", c.LLMRatePerSecond))
	}
	if c.LLMBreakerFailures < 1 {
		errs = append(errs, fmt.Errorf("invalid LLM_BREAKER_FAILURES %d (must be >= 1)", c.LLMBreakerFailures))
	}

	if err := c.Pipeline().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Pipeline returns the investigation thresholds and batch knobs.
func (c *Config) Pipeline() investigation.Config {
	var locs []string
	for _, l := range strings.Split(c.HighRiskLocations, ",") {
		if l = strings.TrimSpace(l); l != "" {
			locs = append(locs, l)
		}
	}
	return investigation.Config{
		MaxLoops:                   c.MaxLoops,
		PatternConfidenceThreshold: c.PatternConfidenceThreshold,
		RiskThreshold:              c.RiskThreshold,
		AutoCloseThreshold:         c.AutoCloseThreshold,
		HighRiskLocations:          locs,
		BatchConcurrency:           c.BatchConcurrency,
		BatchStagger:               time.Duration(c.BatchStaggerMillis) * time.Millisecond,
	}
}

// Poll returns the background poller settings.
func (c *Config) Poll() investigation.PollConfig {
	return investigation.PollConfig{
		Interval:  time.Duration(c.PollIntervalSeconds) * time.Second,
		BatchSize: c.PollBatchSize,
	}
}

// LLM returns the model call guard settings.
func (c *Config) LLM() reliable.Options {
	o := reliable.DefaultOptions()
	o.Name = "claude"
	if c.LLMAttempts > 0 {
		o.Attempts = uint(c.LLMAttempts)
	}
	if c.LLMTimeoutSeconds > 0 {
		o.AttemptTimeout = time.Duration(c.LLMTimeoutSeconds) * time.Second
	}
	o.RatePerSecond = c.LLMRatePerSecond
	if c.LLMBreakerFailures > 0 {
		o.BreakerFailures = uint32(c.LLMBreakerFailures)
	}
	return o
}
