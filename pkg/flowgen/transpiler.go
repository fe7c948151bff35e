package flowgen

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/flowgen/pkg/flowgen/cache"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// Result is the output of a successful transpile call.
type Result struct {
	// Code is the generated program text.
	Code string `json:"code"`
	// RunID identifies the call in logs and traces.
	RunID string `json:"run_id"`
	// Strategy is the generator that produced Code.
	Strategy string `json:"strategy"`
	// GraphHash is the SHA-256 of the canonical graph.
	GraphHash string `json:"graph_hash"`
	// Cached reports whether Code came from the cache.
	Cached bool `json:"cached"`
}

// Transpiler validates graphs and turns them into program text.
// It holds no per-call state and is safe for concurrent use.
type Transpiler struct {
	generator Generator
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// New creates a Transpiler around a generator.
// A nil generator is a ConfigurationError.
func New(gen Generator, opts ...Option) (*Transpiler, error) {
	if gen == nil {
		return nil, &ConfigurationError{Setting: "strategy", Msg: "no generator configured"}
	}
	t := &Transpiler{
		generator: gen,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.metrics == nil {
		t.metrics = observability.NoopMetrics{}
	}
	if t.spans == nil {
		t.spans = observability.NoopSpanManager{}
	}
	return t, nil
}

// cacheScope is the strategy name, qualified by the model for generators
// whose output depends on one.
func cacheScope(gen Generator) string {
	m, ok := gen.(interface{ Model() string })
	if !ok || m.Model() == "" {
		return gen.Name()
	}
	return gen.Name() + "@" + m.Model()
}

// Strategy returns the name of the configured generator.
func (t *Transpiler) Strategy() string { return t.generator.Name() }

// Transpile validates a raw graph document and generates its program.
//
// Errors are *ValidationError for bad input, *ConfigurationError for a
// broken deployment, and *GenerationError when generation fails. Use
// errors.Is with ErrValidation, ErrConfiguration, or ErrGeneration.
func (t *Transpiler) Transpile(ctx context.Context, raw []byte) (*Result, error) {
	return t.run(ctx, func(context.Context) (*Graph, error) { return Parse(raw) })
}

// TranspileGraph generates the program for a graph built in Go. The graph is
// run through validation first; sanitization is idempotent, so an already
// canonical graph passes unchanged.
func (t *Transpiler) TranspileGraph(ctx context.Context, g *Graph) (*Result, error) {
	return t.run(ctx, func(context.Context) (*Graph, error) { return ValidateGraph(g) })
}

func (t *Transpiler) run(ctx context.Context, load func(context.Context) (*Graph, error)) (res *Result, err error) {
	strategy := t.generator.Name()
	runID := uuid.New().String()
	logger := observability.EnrichLogger(t.logger, runID, strategy)
	done := stopwatch()

	ctx, span := t.spans.StartTranspileSpan(ctx, runID, strategy)
	defer func() {
		t.spans.EndSpanWithError(span, err)
		t.metrics.RecordTranspile(ctx, strategy, outcome(err), done())
	}()

	vctx, vspan := t.spans.StartStageSpan(ctx, observability.StageValidate)
	g, err := load(vctx)
	t.spans.EndSpanWithError(vspan, err)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			observability.LogValidationRejected(logger, verr.Field, err)
		}
		return nil, err
	}

	observability.LogTranspileStart(logger, len(g.Nodes), len(g.Edges))

	hash, err := Hash(g)
	if err != nil {
		return nil, &GenerationError{Strategy: strategy, Err: err}
	}
	res = &Result{RunID: runID, Strategy: strategy, GraphHash: hash}
	key := cache.Key(cacheScope(t.generator), RulesVersion, hash)

	if code, ok := t.lookup(ctx, logger, key); ok {
		res.Code, res.Cached = code, true
		observability.LogTranspileComplete(logger, msOf(done()), len(code), true)
		return res, nil
	}

	gctx, gspan := t.spans.StartStageSpan(ctx, observability.StageGenerate)
	code, err := t.generator.Generate(gctx, g)
	err = classify(strategy, err)
	t.spans.EndSpanWithError(gspan, err)
	if err != nil {
		observability.LogTranspileError(logger, err, msOf(done()))
		return nil, err
	}

	t.store(ctx, logger, key, code)

	res.Code = code
	observability.LogTranspileComplete(logger, msOf(done()), len(code), false)
	return res, nil
}

// lookup reads the cache. Any failure counts as a miss.
func (t *Transpiler) lookup(ctx context.Context, logger *slog.Logger, key string) (string, bool) {
	if t.cache == nil {
		return "", false
	}
	ctx, span := t.spans.StartStageSpan(ctx, observability.StageCache)
	code, err := t.cache.Get(ctx, key)
	hit := err == nil
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		observability.LogCacheError(logger, "get", err)
	}
	t.spans.AddSpanEvent(ctx, "cache.lookup", attribute.Bool("hit", hit))
	t.spans.EndSpanWithError(span, nil)
	t.metrics.RecordCacheLookup(ctx, hit)
	if hit {
		observability.LogCacheHit(logger, key)
	}
	return code, hit
}

func (t *Transpiler) store(ctx context.Context, logger *slog.Logger, key, code string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Put(ctx, key, code, t.cacheTTL); err != nil {
		observability.LogCacheError(logger, "put", err)
	}
}

// classify keeps the three public error kinds intact and wraps anything
// else as a generation failure.
func classify(strategy string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrGeneration) {
		return err
	}
	return &GenerationError{Strategy: strategy, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return observability.OutcomeValidation
	case errors.Is(err, ErrConfiguration):
		return observability.OutcomeConfig
	default:
		return observability.OutcomeGeneration
	}
}

func stopwatch() func() time.Duration {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}

func msOf(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
