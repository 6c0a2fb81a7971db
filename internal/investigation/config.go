package investigation

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the pipeline thresholds and batch knobs. It is built once at
// startup and passed by value.
type Config struct {
	MaxLoops                   int
	PatternConfidenceThreshold float64
	RiskThreshold              float64
	AutoCloseThreshold         float64
	HighRiskLocations          []string
	BatchConcurrency           int
	BatchStagger               time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxLoops:                   3,
		PatternConfidenceThreshold: 0.7,
		RiskThreshold:              0.7,
		AutoCloseThreshold:         0.3,
		HighRiskLocations:          []string{"IR", "KP", "SY", "CU"},
		BatchConcurrency:           1,
		BatchStagger:               100 * time.Millisecond,
	}
}

// Validate checks the thresholds are usable together.
func (c Config) Validate() error {
	var errs []error

	if c.MaxLoops < 1 || c.MaxLoops > 10 {
		errs = append(errs, fmt.Errorf("invalid max loops %d (must be 1..10)", c.MaxLoops))
	}
	thresholds := []struct {
		name string
		v    float64
	}{
		{"pattern confidence threshold", c.PatternConfidenceThreshold},
		{"risk threshold", c.RiskThreshold},
		{"auto-close threshold", c.AutoCloseThreshold},
	}
	for _, th := range thresholds {
		if th.v < 0 || th.v > 1 {
			errs = append(errs, fmt.Errorf("invalid %s %.2f (must be 0..1)", th.name, th.v))
		}
	}
	if c.AutoCloseThreshold >= c.RiskThreshold {
		errs = append(errs, fmt.Errorf("auto-close threshold %.2f must be below risk threshold %.2f", c.AutoCloseThreshold, c.RiskThreshold))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("invalid batch concurrency %d (must be >= 1)", c.BatchConcurrency))
	}
	if c.BatchStagger < 0 {
		errs = append(errs, errors.New("batch stagger must not be negative"))
	}

	return errors.Join(errs...)
}

// IsHighRiskLocation reports whether loc is in the configured high-risk set.
func (c Config) IsHighRiskLocation(loc string) bool {
	for _, l := range c.HighRiskLocations {
		if l == loc {
			return true
		}
	}
	return false
}
