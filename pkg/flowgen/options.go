package flowgen

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/flowgen/pkg/flowgen/cache"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// Option configures a Transpiler.
type Option func(*Transpiler)

// WithLogger sets the structured logger.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transpiler) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(t *Transpiler) {
		t.metrics = m
	}
}

// WithSpanManager sets the tracing span manager.
// Default: observability.NoopSpanManager{}
func WithSpanManager(s observability.SpanManager) Option {
	return func(t *Transpiler) {
		t.spans = s
	}
}

// WithObservability enables OTel metrics and tracing through the global
// providers.
func WithObservability() Option {
	return func(t *Transpiler) {
		t.metrics = observability.NewMetricsRecorder()
		t.spans = observability.NewSpanManager()
	}
}

// WithCache stores generated programs. Cache failures are logged and
// never fail a call.
func WithCache(store cache.Store) Option {
	return func(t *Transpiler) {
		t.cache = store
	}
}

// WithCacheTTL sets how long cached programs live. Zero keeps them until
// the rule set version changes.
func WithCacheTTL(ttl time.Duration) Option {
	return func(t *Transpiler) {
		t.cacheTTL = ttl
	}
}
