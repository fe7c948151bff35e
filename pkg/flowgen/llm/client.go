// Package llm defines the text-generation collaborator used by the
// delegating generator, plus a Claude CLI implementation and a mock.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client completes a prompt. Implementations must be safe for concurrent
// use and must honor context cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Sentinel errors for common failure modes.
var (
	ErrUnavailable    = errors.New("llm unavailable")
	ErrRateLimited    = errors.New("llm rate limited")
	ErrInvalidRequest = errors.New("invalid llm request")
	ErrTimeout        = errors.New("llm timeout")
)

// Error wraps a client failure with the operation and whether retrying
// the same request may succeed.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a client failure marked retryable,
// or one of the transient sentinels.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) && llmErr.Retryable {
		return true
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
