// Package retry implements the contention retry policy for store writes:
// bounded attempts with decorrelated jitter backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsnews_upsert_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatsnews_upsert_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsnews_upsert_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the lower bound of every backoff and the seed of the first one.
	BaseDelay time.Duration

	// MaxDelay caps every backoff.
	MaxDelay time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 10,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   60 * time.Second,
	}
}

// NextDelay computes a decorrelated jitter backoff from the previous delay.
// r must be in [0,1). A non-positive prev is treated as BaseDelay.
//
//	next = min(MaxDelay, r*(prev*3 - BaseDelay) + BaseDelay)
func NextDelay(cfg Config, prev time.Duration, r float64) time.Duration {
	if prev <= 0 {
		prev = cfg.BaseDelay
	}
	span := float64(prev*3 - cfg.BaseDelay)
	next := time.Duration(r*span) + cfg.BaseDelay
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier runs an operation under the retry policy.
type Retrier struct {
	config   Config
	classify Classifier
	sleep    SleepFunc
	random   func() float64
	logger   zerolog.Logger
}

// New creates a new retrier. Errors are classified with classify.
func New(cfg Config, classify Classifier, logger zerolog.Logger) *Retrier {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Retrier{
		config:   cfg,
		classify: classify,
		sleep:    sleepContext,
		random:   rand.Float64,
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (r *Retrier) Config() Config {
	return r.config
}

// SetSleep replaces the backoff sleep (for testing).
func (r *Retrier) SetSleep(fn SleepFunc) {
	r.sleep = fn
}

// SetRandom replaces the jitter source (for testing).
func (r *Retrier) SetRandom(fn func() float64) {
	r.random = fn
}

// Do executes fn until it succeeds, fails with a non-retryable error, or
// the retry budget is used up. The previous delay is carried across retries
// of the same call.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var prev time.Duration

	for retries := 0; ; retries++ {
		err := fn(ctx)
		if err == nil {
			if retries > 0 {
				r.logger.Info().
					Str("op", op).
					Int("retries", retries).
					Msg("Write succeeded after retry")
			}
			return nil
		}

		class := r.classify(err)
		if !shouldRetry(class) {
			return err
		}

		if retries >= r.config.MaxRetries {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			r.logger.Warn().
				Err(err).
				Str("op", op).
				Int("max_retries", r.config.MaxRetries).
				Msg("Retry attempts exhausted")
			return &ExhaustedError{Op: op, Retries: retries, Err: err}
		}

		prev = NextDelay(r.config, prev, r.random())
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(prev.Seconds())

		r.logger.Warn().
			Err(err).
			Str("op", op).
			Str("error_class", string(class)).
			Int("attempt", retries+1).
			Dur("backoff", prev).
			Msg("Contention detected, retrying after backoff")

		if err := r.sleep(ctx, prev); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
}
