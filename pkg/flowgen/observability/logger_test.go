package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// records decodes every JSON log line written to buf.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	logger, buf := newCaptureLogger()

	EnrichLogger(logger, "run-1", "compiler").Info("hello")

	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "run-1", recs[0]["run_id"])
	assert.Equal(t, "compiler", recs[0]["strategy"])
}

func TestLogHelpers(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*slog.Logger)
		msg   string
		level string
		key   string
		value any
	}{
		{"start", func(l *slog.Logger) { LogTranspileStart(l, 3, 4) }, "transpile starting", "DEBUG", "nodes", float64(3)},
		{"complete", func(l *slog.Logger) { LogTranspileComplete(l, 1.5, 200, true) }, "transpile completed", "INFO", "cached", true},
		{"error", func(l *slog.Logger) { LogTranspileError(l, errors.New("boom"), 2) }, "transpile failed", "ERROR", "error", "boom"},
		{"rejected", func(l *slog.Logger) { LogValidationRejected(l, "nodes[0].id", errors.New("bad")) }, "graph rejected", "INFO", "field", "nodes[0].id"},
		{"attempt failed", func(l *slog.Logger) { LogGenerationAttempt(l, 2, errors.New("x")) }, "generation attempt failed", "WARN", "attempt", float64(2)},
		{"attempt ok", func(l *slog.Logger) { LogGenerationAttempt(l, 1, nil) }, "generation attempt succeeded", "DEBUG", "attempt", float64(1)},
		{"backoff", func(l *slog.Logger) { LogGenerationBackoff(l, 2*time.Millisecond) }, "retrying generation", "DEBUG", "backoff", float64(2_000_000)},
		{"cache hit", func(l *slog.Logger) { LogCacheHit(l, "flowgen:k") }, "cache hit", "DEBUG", "key", "flowgen:k"},
		{"cache error", func(l *slog.Logger) { LogCacheError(l, "get", errors.New("down")) }, "cache operation failed", "WARN", "operation", "get"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger, buf := newCaptureLogger()
			tc.log(logger)

			recs := records(t, buf)
			require.Len(t, recs, 1)
			assert.Equal(t, tc.msg, recs[0]["msg"])
			assert.Equal(t, tc.level, recs[0]["level"])
			assert.Equal(t, tc.value, recs[0][tc.key])
		})
	}
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Nil(t, EnrichLogger(nil, "r", "s"))
		LogTranspileStart(nil, 1, 1)
		LogTranspileComplete(nil, 1, 1, false)
		LogTranspileError(nil, errors.New("x"), 1)
		LogValidationRejected(nil, "f", errors.New("x"))
		LogGenerationAttempt(nil, 1, nil)
		LogGenerationBackoff(nil, time.Second)
		LogCacheHit(nil, "k")
		LogCacheError(nil, "put", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 1.0)
}

func TestNoopImplementations(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	var s SpanManager = NoopSpanManager{}

	assert.NotPanics(t, func() {
		ctx, span := s.StartTranspileSpan(t.Context(), "r", "compiler")
		_, stage := s.StartStageSpan(ctx, StageValidate)
		s.AddSpanEvent(ctx, "e")
		s.EndSpanWithError(stage, errors.New("x"))
		s.EndSpanWithError(span, nil)
		m.RecordTranspile(ctx, "compiler", OutcomeSuccess, time.Millisecond)
		m.RecordGeneration(ctx, "compiler", 1, time.Millisecond, nil)
		m.RecordCacheLookup(ctx, true)
		m.RecordTokens(ctx, "delegate", 1, 1)
	})
}
