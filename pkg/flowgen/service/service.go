// Package service assembles transpilers, generators, and the program cache
// from deployment settings. The HTTP server, the MCP server, and the CLI all
// build on it.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/cache"
	"github.com/randalmurphal/flowgen/pkg/flowgen/config"
	flowerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// Service owns one Transpiler per registered strategy.
type Service struct {
	settings    config.Settings
	generators  *flowgen.Generators
	transpilers map[string]*flowgen.Transpiler
	store       cache.Store
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*options)

type options struct {
	client llm.Client
	store  cache.Store
}

// WithLLMClient replaces the Claude CLI client used by the delegate strategy.
func WithLLMClient(client llm.Client) Option {
	return func(o *options) { o.client = client }
}

// WithCacheStore replaces the store opened from settings.
func WithCacheStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// New validates settings and builds the service.
//
// The compiler strategy is always available. The delegate strategy is
// registered when a credential is configured or a client is injected with
// WithLLMClient; selecting it otherwise is a configuration error.
func New(ctx context.Context, s config.Settings, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	validate := s.Validate
	if o.client != nil {
		validate = s.ValidateWithClient
	}
	if err := validate(); err != nil {
		return nil, err
	}

	metrics := observability.MetricsRecorder(observability.NoopMetrics{})
	spans := observability.SpanManager(observability.NoopSpanManager{})
	if s.Telemetry {
		metrics = observability.NewMetricsRecorder()
		spans = observability.NewSpanManager()
	}

	gens := flowgen.NewGenerators(flowgen.NewCompiler())
	if s.LLM.APIKey != "" || o.client != nil {
		client := o.client
		if client == nil {
			client = llm.NewClaudeCLI(
				llm.WithClaudePath(s.LLM.Path),
				llm.WithModel(s.LLM.Model),
				llm.WithAPIKey(s.LLM.APIKey),
				llm.WithTimeout(s.LLM.Timeout),
			)
		}
		d, err := flowgen.NewDelegate(client,
			flowgen.WithDelegateModel(s.LLM.Model),
			flowgen.WithMaxTokens(s.LLM.MaxTokens),
			flowgen.WithGenerationTimeout(s.LLM.Timeout),
			flowgen.WithRetry(flowerrors.NewRetryConfig(flowerrors.WithMaxAttempts(s.LLM.MaxAttempts))),
			flowgen.WithDelegateLogger(logger),
			flowgen.WithDelegateMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		gens.Register(d)
	}

	if _, err := gens.Get(s.Strategy); err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		var err error
		store, err = cache.Open(ctx, s.Cache.Backend, s.Cache.DSN)
		if err != nil {
			return nil, &flowgen.ConfigurationError{Setting: "cache", Msg: err.Error()}
		}
	}

	svc := &Service{
		settings:    s,
		generators:  gens,
		transpilers: make(map[string]*flowgen.Transpiler),
		store:       store,
		logger:      logger,
	}
	for _, name := range gens.Names() {
		gen, _ := gens.Get(name)
		t, err := flowgen.New(gen,
			flowgen.WithLogger(logger),
			flowgen.WithMetrics(metrics),
			flowgen.WithSpanManager(spans),
			flowgen.WithCache(store),
			flowgen.WithCacheTTL(s.Cache.TTL),
		)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.transpilers[name] = t
	}

	logger.Info("service ready",
		slog.String("strategy", s.Strategy),
		slog.Any("strategies", gens.Names()),
		slog.Bool("cache", store != nil),
	)
	return svc, nil
}

// Transpiler returns the transpiler for a strategy; "" selects the default.
func (s *Service) Transpiler(strategy string) (*flowgen.Transpiler, error) {
	if strategy == "" {
		strategy = s.settings.Strategy
	}
	if _, err := s.generators.Get(strategy); err != nil {
		if strategy == flowgen.StrategyDelegate {
			return nil, &flowgen.ConfigurationError{
				Setting: "FLOWGEN_LLM_API_KEY",
				Msg:     "delegate strategy is not enabled: no credential or client configured",
			}
		}
		return nil, err
	}
	return s.transpilers[strategy], nil
}

// Transpile runs raw through the transpiler for strategy.
func (s *Service) Transpile(ctx context.Context, strategy string, raw []byte) (*flowgen.Result, error) {
	t, err := s.Transpiler(strategy)
	if err != nil {
		return nil, err
	}
	return t.Transpile(ctx, raw)
}

// Strategies returns the available strategy names.
func (s *Service) Strategies() []string { return s.generators.Names() }

// DefaultStrategy returns the configured strategy.
func (s *Service) DefaultStrategy() string { return s.settings.Strategy }

// Settings returns the settings the service was built from.
func (s *Service) Settings() config.Settings { return s.settings }

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Close releases the cache store.
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
