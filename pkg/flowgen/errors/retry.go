package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how WithRetryContext repeats a failing call.
type RetryConfig struct {
	MaxAttempts    int           // total attempts, first call included
	InitialBackoff time.Duration // wait before the second attempt
	MaxBackoff     time.Duration // 0 means uncapped
	BackoffFactor  float64
	Jitter         float64 // fraction of the wait randomized, 0.0-1.0

	// RetryableFunc replaces IsRetryable when set.
	RetryableFunc func(error) bool

	// OnRetry runs before each backoff wait with the failed attempt number.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetry suits remote generation calls.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// RetryResult reports the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, fails with a non-retryable
// error, exhausts MaxAttempts, or ctx ends. Every returned error is a
// *CategorizedError wrapping the last cause.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	limit := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}

	fail := func(attempts int, err error, cat Category, note string) RetryResult[T] {
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: cat, Retries: attempts, Context: note},
			Attempts: attempts,
			Duration: time.Since(start),
		}
	}

	wait := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(attempt-1, err, CategoryPermanent, "context cancelled")
		}

		value, err := fn(ctx)
		switch {
		case err == nil:
			return RetryResult[T]{Value: value, Attempts: attempt, Duration: time.Since(start)}
		case !retryable(err):
			return fail(attempt, err, CategoryPermanent, "")
		case attempt >= limit:
			return fail(attempt, err, CategoryTransient, "max retries exceeded")
		}

		d := calculateBackoff(wait, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, d)
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(attempt, ctx.Err(), CategoryPermanent, "context cancelled during backoff")
		case <-timer.C:
		}
		wait = nextBackoff(wait, cfg)
	}
}

func nextBackoff(cur time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(cur) * cfg.BackoffFactor)
	if cfg.MaxBackoff > 0 && next > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return next
}

// calculateBackoff spreads base by up to +/- base*jitter.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(float64(base)*jitter*(rand.Float64()*2-1))
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the total number of attempts, the first included.
// Values below one are treated as one.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the wait before the second attempt.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps the wait between attempts. Zero leaves it uncapped.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithJitter randomizes each wait by up to +/- j of its length.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithRetryableFunc replaces IsRetryable as the retry predicate.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// WithOnRetry registers a hook called before every backoff wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// NewRetryConfig applies opts on top of DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
