// Package reliable wraps a text-generation client with rate limiting, a
// circuit breaker and bounded retries.
package reliable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/investigation"
)

// Options tunes the wrapper. Zero values fall back to DefaultOptions.
type Options struct {
	Name            string
	Attempts        uint
	RetryDelay      time.Duration
	AttemptTimeout  time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultOptions returns conservative settings for a hosted model API.
func DefaultOptions() Options {
	return Options{
		Name:            "llm",
		Attempts:        3,
		RetryDelay:      500 * time.Millisecond,
		AttemptTimeout:  60 * time.Second,
		RatePerSecond:   2,
		Burst:           4,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.Attempts == 0 {
		o.Attempts = d.Attempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = d.AttemptTimeout
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = d.RatePerSecond
	}
	if o.Burst <= 0 {
		o.Burst = d.Burst
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = d.BreakerFailures
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = d.BreakerCooldown
	}
	return o
}

// Completer guards calls to the wrapped investigation.Completer.
type Completer struct {
	next    investigation.Completer
	opts    Options
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	metrics *Metrics
	logger  log.Logger
}

// Wrap returns next behind a limiter, a breaker and retries, in that order.
// metrics may be nil.
func Wrap(next investigation.Completer, opts Options, logger log.Logger, metrics *Metrics) *Completer {
	if logger == nil {
		logger = log.Nop()
	}
	opts = opts.withDefaults()

	c := &Completer{
		next:    next,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		metrics: metrics,
		logger:  logger,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// A caller giving up is not a fault of the backend.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "llm circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
			c.metrics.breakerState(to)
		},
	})
	return c
}

// Complete implements investigation.Completer.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.call("rate_limited", time.Since(start))
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	out, err := c.cb.Execute(func() (any, error) {
		return c.attempt(ctx, prompt)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.call("rejected", time.Since(start))
		return "", fmt.Errorf("%s unavailable: %w", c.opts.Name, err)
	case err != nil:
		c.metrics.call("error", time.Since(start))
		return "", err
	}

	c.metrics.call("ok", time.Since(start))
	return out.(string), nil
}

func (c *Completer) attempt(ctx context.Context, prompt string) (string, error) {
	var text string
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool {
			// Per-attempt timeouts are retried; the caller's own deadline is not.
			return ctx.Err() == nil
		}),
	).Do(func() error {
		actx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()

		var err error
		text, err = c.next.Complete(actx, prompt)
		return err
	})
	return text, err
}

// Metrics holds Prometheus metrics for model calls.
type Metrics struct {
	CallsTotal   *prometheus.CounterVec
	CallDuration prometheus.Histogram
	BreakerState prometheus.Gauge
}

// NewMetrics registers and returns model-call metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_llm_calls_total",
			Help: "Total model calls by outcome.",
		}, []string{"outcome"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_llm_call_duration_seconds",
			Help:    "Duration of model calls including retries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms .. ~128s
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_llm_breaker_state",
			Help: "Model circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
	}
	reg.MustRegister(m.CallsTotal, m.CallDuration, m.BreakerState)
	return m
}

func (m *Metrics) call(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(outcome).Inc()
	m.CallDuration.Observe(d.Seconds())
}

func (m *Metrics) breakerState(s gobreaker.State) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(s))
}
