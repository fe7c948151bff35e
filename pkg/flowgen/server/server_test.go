package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/config"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/server"
	"github.com/randalmurphal/flowgen/pkg/flowgen/service"
)

const graphJSON = `{
	"nodes": [{"id": "fetch", "label": "Fetch"}],
	"edges": [{"source": "START", "target": "fetch"}, {"source": "fetch", "target": "END"}]
}`

func newServer(t *testing.T, s config.Settings, opts ...service.Option) *server.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(context.Background(), s, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return server.New(svc, s.Server.BodyLimit)
}

// do sends a request and decodes a JSON response body.
func do(t *testing.T, srv *server.Server, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestTranspile_OK(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodPost, "/v1/transpile", graphJSON)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["code"], `builder.add_node("Fetch", fetch)`)
	assert.Equal(t, flowgen.StrategyCompiler, body["strategy"])
	assert.Equal(t, false, body["cached"])
	assert.NotEmpty(t, body["run_id"])
	assert.Len(t, body["graph_hash"], 64)
}

func TestTranspile_ValidationError(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodPost, "/v1/transpile", `{"nodes": [{"id": "a b"}], "edges": []}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation failed", body["error"])
	assert.Equal(t, "nodes[0].id", body["field"])
	assert.NotEmpty(t, body["message"])
}

func TestTranspile_UnknownStrategy(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodPost, "/v1/transpile?strategy=magic", graphJSON)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown strategy", body["error"])
}

func TestTranspile_UnconfiguredStrategy(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodPost, "/v1/transpile?strategy=delegate", graphJSON)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service is not configured for this request", body["error"])
}

func TestTranspile_GenerationFailureHidesCause(t *testing.T) {
	client := llm.NewMockClient("").WithError(llm.NewError("complete", io.ErrUnexpectedEOF, false))
	s := config.Default()
	s.LLM.APIKey = "sk-test"
	s.LLM.MaxAttempts = 1
	srv := newServer(t, s, service.WithLLMClient(client))

	status, body := do(t, srv, http.MethodPost, "/v1/transpile?strategy=delegate", graphJSON)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "code generation failed", body["error"])
	assert.NotContains(t, body["error"], "unexpected EOF")
}

func TestTranspile_BodyLimit(t *testing.T) {
	s := config.Default()
	s.Server.BodyLimit = 64
	srv := newServer(t, s)

	status, _ := do(t, srv, http.MethodPost, "/v1/transpile", graphJSON)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestValidate(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodPost, "/v1/validate", graphJSON)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"fetch": "fetch"}, body["function_names"])
	assert.Len(t, body["graph_hash"], 64)

	graph, ok := body["graph"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, graph["nodes"], 1)
	assert.Len(t, graph["edges"], 2)

	status, _ = do(t, srv, http.MethodPost, "/v1/validate", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRules(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodGet, "/v1/rules", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, flowgen.RulesVersion, body["version"])
	assert.Equal(t, flowgen.RuleDocument(), body["rules"])
}

func TestHealth(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, flowgen.StrategyCompiler, body["strategy"])
	assert.Equal(t, []any{flowgen.StrategyCompiler}, body["strategies"])
}

func TestMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(context.Background(), config.Default(), logger)
	require.NoError(t, err)
	defer svc.Close()

	reg := prometheus.NewRegistry()
	srv := server.New(svc, 0, server.WithRegistry(reg))

	do(t, srv, http.MethodPost, "/v1/transpile", graphJSON)
	do(t, srv, http.MethodPost, "/v1/transpile", `{}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `flowgen_http_requests_total{method="POST",route="/v1/transpile",status="200"} 1`)
	assert.Contains(t, text, `flowgen_http_requests_total{method="POST",route="/v1/transpile",status="400"} 1`)
	assert.Contains(t, text, "flowgen_http_request_duration_seconds_bucket")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNotFound(t *testing.T) {
	srv := newServer(t, config.Default())

	status, body := do(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["error"])
}
