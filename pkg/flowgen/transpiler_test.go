package flowgen

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/flowgen/pkg/flowgen/cache"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// stubGenerator returns fixed output and counts calls.
type stubGenerator struct {
	name  string
	code  string
	err   error
	calls atomic.Int32
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(_ context.Context, _ *Graph) (string, error) {
	s.calls.Add(1)
	return s.code, s.err
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenStore) Delete(context.Context, string) error { return nil }
func (brokenStore) Close() error                         { return nil }

// recordingMetrics captures transpile outcomes.
type recordingMetrics struct {
	observability.NoopMetrics
	mu       sync.Mutex
	outcomes []string
	lookups  []bool
	tokens   [2]int
}

func (m *recordingMetrics) RecordTokens(_ context.Context, _ string, input, output int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[0] += input
	m.tokens[1] += output
}

func (m *recordingMetrics) RecordTranspile(_ context.Context, _, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordCacheLookup(_ context.Context, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, hit)
}

// recordingSpans captures the names of started spans.
type recordingSpans struct {
	observability.NoopSpanManager
	mu    sync.Mutex
	names []string
}

func (s *recordingSpans) StartTranspileSpan(ctx context.Context, runID, strategy string) (context.Context, trace.Span) {
	s.record("transpile")
	return s.NoopSpanManager.StartTranspileSpan(ctx, runID, strategy)
}

func (s *recordingSpans) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	s.record(stage)
	return s.NoopSpanManager.StartStageSpan(ctx, stage)
}

func (s *recordingSpans) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

func newTestTranspiler(t *testing.T, gen Generator, opts ...Option) *Transpiler {
	t.Helper()
	tr, err := New(gen, opts...)
	require.NoError(t, err)
	return tr
}

func TestNew_NilGenerator(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestTranspile_Compiler(t *testing.T) {
	tr := newTestTranspiler(t, NewCompiler())

	res, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
	require.NoError(t, err)

	assert.Equal(t, compile(t, linearGraphJSON()), res.Code)
	assert.Equal(t, StrategyCompiler, res.Strategy)
	assert.Len(t, res.GraphHash, 64)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Cached)
	assert.Equal(t, StrategyCompiler, tr.Strategy())
}

func TestTranspile_RunIDsUnique(t *testing.T) {
	tr := newTestTranspiler(t, NewCompiler())

	a, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
	require.NoError(t, err)
	b, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.GraphHash, b.GraphHash)
	assert.Equal(t, a.Code, b.Code)
}

func TestTranspile_ValidationShortCircuits(t *testing.T) {
	gen := &stubGenerator{name: "stub", code: "unused"}
	metrics := &recordingMetrics{}
	tr := newTestTranspiler(t, gen, WithMetrics(metrics))

	_, err := tr.Transpile(context.Background(), []byte(`{"nodes": [{"id": "START"}], "edges": []}`))
	requireValidationError(t, err, "nodes[0].id")
	assert.Zero(t, gen.calls.Load())
	assert.Equal(t, []string{observability.OutcomeValidation}, metrics.outcomes)
}

func TestTranspile_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		genErr  error
		wantIs  error
		outcome string
	}{
		{"plain error wrapped", errors.New("boom"), ErrGeneration, observability.OutcomeGeneration},
		{"configuration kept", &ConfigurationError{Setting: "llm", Msg: "missing"}, ErrConfiguration, observability.OutcomeConfig},
		{"generation kept", &GenerationError{Strategy: "stub", Err: ErrEmptyOutput}, ErrEmptyOutput, observability.OutcomeGeneration},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			tr := newTestTranspiler(t, &stubGenerator{name: "stub", err: tc.genErr}, WithMetrics(metrics))

			_, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
			assert.ErrorIs(t, err, tc.wantIs)
			assert.Equal(t, []string{tc.outcome}, metrics.outcomes)
		})
	}
}

func TestTranspile_CacheHit(t *testing.T) {
	gen := &stubGenerator{name: "stub", code: "graph = builder.compile()\n"}
	store := cache.NewMemoryStore()
	metrics := &recordingMetrics{}
	tr := newTestTranspiler(t, gen, WithCache(store), WithMetrics(metrics))
	ctx := context.Background()

	first, err := tr.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := tr.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, []bool{false, true}, metrics.lookups)

	stored, err := store.Get(ctx, cache.Key("stub", RulesVersion, first.GraphHash))
	require.NoError(t, err)
	assert.Equal(t, first.Code, stored)
}

func TestTranspile_CacheKeyedByModel(t *testing.T) {
	g := mustParse(t, linearGraphJSON())
	program := compiled(t, g)
	store := cache.NewMemoryStore()
	ctx := context.Background()

	sonnet := llm.NewMockClient(program)
	opus := llm.NewMockClient(program)
	trSonnet := newTestTranspiler(t, newDelegate(t, sonnet, WithDelegateModel("sonnet")), WithCache(store))
	trOpus := newTestTranspiler(t, newDelegate(t, opus, WithDelegateModel("opus")), WithCache(store))

	res, err := trSonnet.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.False(t, res.Cached)

	res, err = trOpus.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, opus.CallCount())

	res, err = trSonnet.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, sonnet.CallCount())

	_, err = store.Get(ctx, cache.Key("delegate@sonnet", RulesVersion, res.GraphHash))
	assert.NoError(t, err)
	_, err = store.Get(ctx, cache.Key("delegate@opus", RulesVersion, res.GraphHash))
	assert.NoError(t, err)
	_, err = store.Get(ctx, cache.Key(StrategyDelegate, RulesVersion, res.GraphHash))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCacheScope(t *testing.T) {
	assert.Equal(t, StrategyCompiler, cacheScope(NewCompiler()))
	assert.Equal(t, StrategyDelegate, cacheScope(newDelegate(t, llm.NewMockClient(""))))
	assert.Equal(t, "delegate@haiku", cacheScope(newDelegate(t, llm.NewMockClient(""), WithDelegateModel("haiku"))))
}

func TestTranspile_CacheKeyedByStrategy(t *testing.T) {
	store := cache.NewMemoryStore()
	a := &stubGenerator{name: "a", code: "from a\n"}
	b := &stubGenerator{name: "b", code: "from b\n"}
	ctx := context.Background()

	resA, err := newTestTranspiler(t, a, WithCache(store)).Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	resB, err := newTestTranspiler(t, b, WithCache(store)).Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)

	assert.Equal(t, "from a\n", resA.Code)
	assert.Equal(t, "from b\n", resB.Code)
	assert.False(t, resB.Cached)
}

func TestTranspile_CacheFailuresNotFatal(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gen := &stubGenerator{name: "stub", code: "ok\n"}
	tr := newTestTranspiler(t, gen, WithCache(brokenStore{}), WithLogger(logger))

	res, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Code)
	assert.Contains(t, buf.String(), "cache operation failed")
	assert.Contains(t, buf.String(), "operation=get")
	assert.Contains(t, buf.String(), "operation=put")
}

func TestTranspile_CacheTTL(t *testing.T) {
	store := cache.NewMemoryStore()
	gen := &stubGenerator{name: "stub", code: "ok\n"}
	tr := newTestTranspiler(t, gen, WithCache(store), WithCacheTTL(10*time.Millisecond))
	ctx := context.Background()

	_, err := tr.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	res, err := tr.Transpile(ctx, []byte(linearGraphJSON()))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestTranspile_Spans(t *testing.T) {
	spans := &recordingSpans{}
	tr := newTestTranspiler(t, NewCompiler(), WithSpanManager(spans), WithCache(cache.NewMemoryStore()))

	_, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"transpile",
		observability.StageValidate,
		observability.StageCache,
		observability.StageGenerate,
	}, spans.names)
}

func TestTranspileGraph(t *testing.T) {
	tr := newTestTranspiler(t, NewCompiler())

	g := &Graph{
		Nodes: []Node{{ID: "  a  ", Label: " Fetch "}},
		Edges: []Edge{{Source: START, Target: "a"}},
	}
	res, err := tr.TranspileGraph(context.Background(), g)
	require.NoError(t, err)
	assert.Contains(t, res.Code, `builder.add_node("Fetch", fetch)`)

	_, err = tr.TranspileGraph(context.Background(), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTranspile_Concurrent(t *testing.T) {
	tr := newTestTranspiler(t, NewCompiler(), WithCache(cache.NewMemoryStore()))
	want := compile(t, linearGraphJSON())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Transpile(context.Background(), []byte(linearGraphJSON()))
			assert.NoError(t, err)
			if res != nil {
				assert.Equal(t, want, res.Code)
			}
		}()
	}
	wg.Wait()
}

func TestGenerators(t *testing.T) {
	gens := NewGenerators(NewCompiler())
	gens.Register(&stubGenerator{name: "stub"})

	assert.Equal(t, []string{"compiler", "stub"}, gens.Names())

	gen, err := gens.Get(StrategyCompiler)
	require.NoError(t, err)
	assert.Equal(t, StrategyCompiler, gen.Name())

	_, err = gens.Get("delegate")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorContains(t, err, ErrUnknownStrategy.Error())
}
