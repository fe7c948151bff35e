// Package observability provides structured logging helpers, metrics, and
// tracing for transpile runs.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds transpile context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "compiler")
//	enriched.Info("generating") // includes run_id and strategy
func EnrichLogger(logger *slog.Logger, runID, strategy string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("strategy", strategy),
	)
}

// LogTranspileStart logs the start of a transpile run.
func LogTranspileStart(logger *slog.Logger, nodes, edges int) {
	if logger == nil {
		return
	}
	logger.Debug("transpile starting",
		slog.Int("nodes", nodes),
		slog.Int("edges", edges),
	)
}

// LogTranspileComplete logs a successful run.
func LogTranspileComplete(logger *slog.Logger, durationMs float64, codeBytes int, cached bool) {
	if logger == nil {
		return
	}
	logger.Info("transpile completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("code_bytes", codeBytes),
		slog.Bool("cached", cached),
	)
}

// LogTranspileError logs a failed run. The full cause is logged here; callers
// decide what to show end users.
func LogTranspileError(logger *slog.Logger, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("transpile failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogValidationRejected logs a rejected input at info level; the caller is
// at fault, not the service.
func LogValidationRejected(logger *slog.Logger, field string, err error) {
	if logger == nil {
		return
	}
	logger.Info("graph rejected",
		slog.String("field", field),
		slog.String("error", err.Error()),
	)
}

// LogGenerationTokens logs the tokens one Generate call consumed across
// all attempts.
func LogGenerationTokens(logger *slog.Logger, input, output int) {
	if logger == nil {
		return
	}
	logger.Debug("generation tokens",
		slog.Int("input_tokens", input),
		slog.Int("output_tokens", output),
	)
}

// LogGenerationAttempt logs one generator call.
func LogGenerationAttempt(logger *slog.Logger, attempt int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("generation attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("generation attempt succeeded",
		slog.Int("attempt", attempt),
	)
}

// LogGenerationBackoff logs the wait before the next generator call.
func LogGenerationBackoff(logger *slog.Logger, wait time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("retrying generation", slog.Duration("backoff", wait))
}

// LogCacheHit logs a cache lookup that skipped generation.
func LogCacheHit(logger *slog.Logger, key string) {
	if logger == nil {
		return
	}
	logger.Debug("cache hit",
		slog.String("key", key),
	)
}

// LogCacheError logs a cache failure (non-fatal).
func LogCacheError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("cache operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
