package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLI implements Client by running the claude binary in print mode.
type ClaudeCLI struct {
	path    string
	model   string
	apiKey  string
	workdir string
	timeout time.Duration
}

// Compile-time interface check.
var _ Client = (*ClaudeCLI)(nil)

// ClaudeOption configures ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// NewClaudeCLI creates a Claude CLI client.
// Assumes "claude" is available in PATH unless overridden with WithClaudePath.
func NewClaudeCLI(opts ...ClaudeOption) *ClaudeCLI {
	c := &ClaudeCLI{
		path:    "claude",
		timeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) ClaudeOption {
	return func(c *ClaudeCLI) { c.path = path }
}

// WithModel sets the default model.
func WithModel(model string) ClaudeOption {
	return func(c *ClaudeCLI) { c.model = model }
}

// WithAPIKey sets the credential passed to the child process as
// ANTHROPIC_API_KEY. When empty the inherited environment is used.
func WithAPIKey(key string) ClaudeOption {
	return func(c *ClaudeCLI) { c.apiKey = key }
}

// WithWorkdir sets the working directory for claude commands.
func WithWorkdir(dir string) ClaudeOption {
	return func(c *ClaudeCLI) { c.workdir = dir }
}

// WithTimeout bounds a single invocation. Zero disables the client-side bound.
func WithTimeout(d time.Duration) ClaudeOption {
	return func(c *ClaudeCLI) { c.timeout = d }
}

// Complete implements Client.
//
// The system prompt travels as a flag; the conversation travels on stdin,
// which keeps large payloads clear of per-argument size limits.
func (c *ClaudeCLI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, NewError("complete", fmt.Errorf("%w: no messages", ErrInvalidRequest), false)
	}
	start := time.Now()

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(callCtx, c.path, c.buildArgs(req)...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}
	if c.apiKey != "" {
		cmd.Env = append(os.Environ(), "ANTHROPIC_API_KEY="+c.apiKey)
	}

	cmd.Stdin = strings.NewReader(buildPrompt(req.Messages))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Caller cancellation is final; our own timeout may succeed on retry.
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, NewError("complete", fmt.Errorf("%w after %s", ErrTimeout, c.timeout), true)
		}

		errMsg := strings.TrimSpace(stderr.String())
		return nil, NewError("complete", fmt.Errorf("%w: %s", err, errMsg), isRetryableMessage(errMsg))
	}

	resp, err := parseResponse(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	resp.Model = c.model
	if req.Model != "" {
		resp.Model = req.Model
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

// cliResult is the envelope printed by --output-format json.
type cliResult struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// parseResponse reads the JSON result envelope. Output that is not an
// envelope is taken as the completion text with no usage figures.
func parseResponse(data []byte) (*CompletionResponse, error) {
	var res cliResult
	if err := json.Unmarshal(bytes.TrimSpace(data), &res); err != nil || res.Type != "result" {
		return &CompletionResponse{
			Content:      strings.TrimSpace(string(data)),
			FinishReason: "stop",
		}, nil
	}

	if res.IsError {
		msg := strings.TrimSpace(res.Result)
		if msg == "" {
			msg = res.Subtype
		}
		return nil, NewError("complete", errors.New(msg), isRetryableMessage(msg))
	}

	return &CompletionResponse{
		Content:      strings.TrimSpace(res.Result),
		FinishReason: "stop",
		Usage: TokenUsage{
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
			TotalTokens:  res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	}, nil
}

// buildArgs constructs CLI arguments from a request.
func (c *ClaudeCLI) buildArgs(req CompletionRequest) []string {
	args := []string{"--print"}

	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	// Model priority: request > client default
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	return append(args, "--output-format", "json")
}

// buildPrompt flattens the conversation into the single prompt the CLI reads.
func buildPrompt(msgs []Message) string {
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.Role == RoleAssistant {
			b.WriteString("Assistant: ")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}

// isRetryableMessage checks if CLI stderr indicates a transient error.
func isRetryableMessage(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	return strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "overloaded") ||
		strings.Contains(errLower, "503") ||
		strings.Contains(errLower, "529")
}
