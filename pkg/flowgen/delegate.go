package flowgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	flowerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// Delegate defaults.
const (
	DefaultGenerationTimeout = 90 * time.Second
	DefaultMaxTokens         = 8192
)

// Delegate generates programs by instructing an external text generator.
//
// The rule document is sent as the system prompt and never contains graph
// content. The graph travels as escaped JSON inside a delimited data
// message. Output is unwrapped and checked for conformance before it is
// returned, so non-conforming text never reaches the caller.
type Delegate struct {
	client    llm.Client
	model     string
	maxTokens int
	timeout   time.Duration
	retry     flowerrors.RetryConfig
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
}

// Compile-time interface check.
var _ Generator = (*Delegate)(nil)

// DelegateOption configures a Delegate.
type DelegateOption func(*Delegate)

// WithDelegateModel sets the model requested from the client.
func WithDelegateModel(model string) DelegateOption {
	return func(d *Delegate) { d.model = model }
}

// WithMaxTokens bounds the generated output.
func WithMaxTokens(n int) DelegateOption {
	return func(d *Delegate) { d.maxTokens = n }
}

// WithGenerationTimeout bounds one Generate call, retries included.
// Zero disables the bound; the caller's context still applies.
func WithGenerationTimeout(timeout time.Duration) DelegateOption {
	return func(d *Delegate) { d.timeout = timeout }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg flowerrors.RetryConfig) DelegateOption {
	return func(d *Delegate) { d.retry = cfg }
}

// WithDelegateLogger sets the logger for generation attempts.
func WithDelegateLogger(logger *slog.Logger) DelegateOption {
	return func(d *Delegate) { d.logger = logger }
}

// WithDelegateMetrics sets the recorder for generation metrics.
func WithDelegateMetrics(m observability.MetricsRecorder) DelegateOption {
	return func(d *Delegate) { d.metrics = m }
}

// NewDelegate creates a delegating generator around client.
// A nil client is a ConfigurationError.
func NewDelegate(client llm.Client, opts ...DelegateOption) (*Delegate, error) {
	if client == nil {
		return nil, &ConfigurationError{Setting: "llm", Msg: "delegate strategy requires a text generation client"}
	}
	d := &Delegate{
		client:    client,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultGenerationTimeout,
		retry:     flowerrors.NewRetryConfig(flowerrors.WithInitialBackoff(500 * time.Millisecond)),
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = observability.NoopMetrics{}
	}
	return d, nil
}

// Name implements Generator.
func (d *Delegate) Name() string { return StrategyDelegate }

// Model returns the model requested from the client, or "" for the
// client's default.
func (d *Delegate) Model() string { return d.model }

// Generate implements Generator.
func (d *Delegate) Generate(ctx context.Context, g *Graph) (string, error) {
	if d == nil || d.client == nil {
		return "", &ConfigurationError{Setting: "llm", Msg: "delegate strategy requires a text generation client"}
	}

	names, err := FunctionNames(g)
	if err != nil {
		return "", err
	}
	payload, err := delegatePayload(g, names)
	if err != nil {
		return "", &GenerationError{Strategy: StrategyDelegate, Err: err}
	}

	req := llm.CompletionRequest{
		SystemPrompt: RuleDocument(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: dataMessage(payload)}},
		Model:        d.model,
		MaxTokens:    d.maxTokens,
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cfg := d.retry
	cfg.RetryableFunc = retryableGeneration
	cfg.OnRetry = func(_ int, _ error, wait time.Duration) {
		observability.LogGenerationBackoff(d.logger, wait)
	}

	var usage llm.TokenUsage
	attempt := 0
	result := flowerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (string, error) {
		attempt++
		code, err := d.attempt(ctx, req, g, names, &usage)
		observability.LogGenerationAttempt(d.logger, attempt, err)
		return code, err
	})
	d.metrics.RecordGeneration(ctx, StrategyDelegate, result.Attempts, result.Duration, result.Err)
	if usage.TotalTokens > 0 {
		d.metrics.RecordTokens(ctx, StrategyDelegate, usage.InputTokens, usage.OutputTokens)
		observability.LogGenerationTokens(d.logger, usage.InputTokens, usage.OutputTokens)
	}

	if result.Err != nil {
		return "", &GenerationError{Strategy: StrategyDelegate, Err: result.Err}
	}
	return result.Value, nil
}

// attempt makes one completion call. Tokens are counted even when the
// output is later rejected.
func (d *Delegate) attempt(ctx context.Context, req llm.CompletionRequest, g *Graph, names map[string]string, usage *llm.TokenUsage) (string, error) {
	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	usage.Add(resp.Usage)
	code, err := ExtractProgram(resp.Content)
	if err != nil {
		return "", err
	}
	if err := CheckConformance(code, g, names); err != nil {
		return "", err
	}
	return code, nil
}

// retryableGeneration retries transient client failures and output that
// failed the conformance check; the generator may do better next time.
func retryableGeneration(err error) bool {
	if errors.Is(err, ErrNonConforming) || errors.Is(err, ErrEmptyOutput) {
		return true
	}
	return llm.IsRetryable(err) || flowerrors.IsRetryable(err)
}

// delegatePayload is the data-channel document: the canonical graph plus the
// function name assigned to each executable node.
func delegatePayload(g *Graph, names map[string]string) ([]byte, error) {
	doc := struct {
		Graph         *Graph            `json:"graph"`
		FunctionNames map[string]string `json:"function_names"`
	}{Graph: g, FunctionNames: names}

	// json.Marshal escapes <, > and & so the payload cannot contain "</graph_data>".
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode graph payload: %w", err)
	}
	return data, nil
}
