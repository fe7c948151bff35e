package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels used on transpile metrics.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation"
	OutcomeConfig     = "configuration"
	OutcomeGeneration = "generation"
)

// MetricsRecorder records transpile metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTranspile records a finished Transpile call.
	RecordTranspile(ctx context.Context, strategy, outcome string, duration time.Duration)

	// RecordGeneration records one generator invocation, including retries.
	RecordGeneration(ctx context.Context, strategy string, attempts int, duration time.Duration, err error)

	// RecordCacheLookup records a cache lookup.
	RecordCacheLookup(ctx context.Context, hit bool)

	// RecordTokens records tokens consumed by one generator invocation.
	RecordTokens(ctx context.Context, strategy string, input, output int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	transpileRuns     metric.Int64Counter
	transpileLatency  metric.Float64Histogram
	generationCalls   metric.Int64Counter
	generationErrors  metric.Int64Counter
	generationLatency metric.Float64Histogram
	generationRetries metric.Int64Histogram
	cacheLookups      metric.Int64Counter
	tokens            metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel instruments.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowgen")

	transpileRuns, err := meter.Int64Counter("flowgen.transpile.runs",
		metric.WithDescription("Number of transpile calls"),
	)
	if err != nil {
		return nil, err
	}

	transpileLatency, err := meter.Float64Histogram("flowgen.transpile.latency_ms",
		metric.WithDescription("Transpile latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	generationCalls, err := meter.Int64Counter("flowgen.generation.calls",
		metric.WithDescription("Number of generator invocations"),
	)
	if err != nil {
		return nil, err
	}

	generationErrors, err := meter.Int64Counter("flowgen.generation.errors",
		metric.WithDescription("Number of failed generator invocations"),
	)
	if err != nil {
		return nil, err
	}

	generationLatency, err := meter.Float64Histogram("flowgen.generation.latency_ms",
		metric.WithDescription("Generator latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	generationRetries, err := meter.Int64Histogram("flowgen.generation.attempts",
		metric.WithDescription("Attempts per generator invocation"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter("flowgen.cache.lookups",
		metric.WithDescription("Number of cache lookups"),
	)
	if err != nil {
		return nil, err
	}

	tokens, err := meter.Int64Counter("flowgen.generation.tokens",
		metric.WithDescription("Tokens consumed by delegated generation"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		transpileRuns:     transpileRuns,
		transpileLatency:  transpileLatency,
		generationCalls:   generationCalls,
		generationErrors:  generationErrors,
		generationLatency: generationLatency,
		generationRetries: generationRetries,
		cacheLookups:      cacheLookups,
		tokens:            tokens,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTranspile records a transpile call.
func (m *otelMetrics) RecordTranspile(ctx context.Context, strategy, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	)
	m.transpileRuns.Add(ctx, 1, attrs)
	m.transpileLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordGeneration records a generator invocation.
func (m *otelMetrics) RecordGeneration(ctx context.Context, strategy string, attempts int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))

	m.generationCalls.Add(ctx, 1, attrs)
	m.generationLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.generationRetries.Record(ctx, int64(attempts), attrs)
	if err != nil {
		m.generationErrors.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a cache lookup.
func (m *otelMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordTokens records token usage split by direction.
func (m *otelMetrics) RecordTokens(ctx context.Context, strategy string, input, output int) {
	m.tokens.Add(ctx, int64(input), metric.WithAttributes(
		attribute.String("strategy", strategy), attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(output), metric.WithAttributes(
		attribute.String("strategy", strategy), attribute.String("direction", "output")))
}
