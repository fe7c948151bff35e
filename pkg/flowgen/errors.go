package flowgen

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic checking via errors.Is.
var (
	// ErrValidation indicates the submitted graph was rejected. The caller can
	// fix the input; these errors are never retried.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration indicates the deployment is missing something it needs,
	// such as the credential for a delegating generator.
	ErrConfiguration = errors.New("configuration error")

	// ErrGeneration indicates code generation failed or produced unusable output.
	ErrGeneration = errors.New("generation error")
)

// Sentinel causes for generation failures.
var (
	// ErrEmptyOutput indicates the generator returned no program text.
	ErrEmptyOutput = errors.New("generator returned empty output")

	// ErrNonConforming indicates the generator output breaks the rule set.
	ErrNonConforming = errors.New("generator output does not conform to rules")

	// ErrUnknownStrategy indicates no generator is registered under a name.
	ErrUnknownStrategy = errors.New("unknown generation strategy")
)

// ValidationError describes why a raw graph was rejected.
// Field is a path into the input such as "nodes[3].id".
type ValidationError struct {
	Field string
	Msg   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Msg)
}

// Unwrap returns ErrValidation for errors.Is support.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// invalid builds a ValidationError with a formatted message.
func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a missing or unusable deployment setting.
type ConfigurationError struct {
	// Setting names the configuration key or environment variable.
	Setting string
	Msg     string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration.Error(), e.Setting, e.Msg)
}

// Unwrap returns ErrConfiguration for errors.Is support.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// GenerationError wraps a failure of the generation step.
// The underlying cause is meant for server-side logs; callers facing end
// users should show PublicMessage instead of Error.
type GenerationError struct {
	// Strategy is the generator that failed.
	Strategy string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrGeneration.Error(), e.Strategy, e.Err)
}

// Unwrap returns both the sentinel and the cause so errors.Is matches either.
func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}

// PublicMessage returns a message that is safe to show to end users.
func (e *GenerationError) PublicMessage() string {
	return "code generation failed"
}
