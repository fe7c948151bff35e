// Package mcp exposes the transpiler to Model Context Protocol clients.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
	"github.com/randalmurphal/flowgen/pkg/flowgen/service"
)

// RulesURI is the resource holding the delegate rule document.
const RulesURI = "flowgen://rules"

// Server adapts a Service to MCP.
type Server struct {
	mcpServer *server.MCPServer
	svc       *service.Service
	logger    *slog.Logger
}

// NewServer creates an MCP server with the flowgen tools and resources.
func NewServer(svc *service.Service, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("flowgen", version),
		svc:       svc,
		logger:    svc.Logger(),
	}
	s.registerResources()
	s.registerTools()
	return s
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		RulesURI,
		"Transpiler Rules",
		mcp.WithResourceDescription("Rule document every generated program follows"),
		mcp.WithMIMEType("text/plain"),
	), s.handleReadRules)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"transpile_graph",
		mcp.WithDescription("Convert a graph JSON document into a LangGraph Python program."),
		mcp.WithString("graph", mcp.Required(), mcp.Description(`Graph JSON: {"nodes": [...], "edges": [...]}`)),
		mcp.WithString("strategy", mcp.Description("compiler (default) or delegate")),
	), s.handleTranspile)

	s.mcpServer.AddTool(mcp.NewTool(
		"validate_graph",
		mcp.WithDescription("Validate a graph JSON document and return its canonical form."),
		mcp.WithString("graph", mcp.Required(), mcp.Description(`Graph JSON: {"nodes": [...], "edges": [...]}`)),
	), s.handleValidate)
}

func (s *Server) handleReadRules(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "text/plain",
			Text:     flowgen.RuleDocument(),
		},
	}, nil
}

func (s *Server) handleTranspile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graph := mcp.ParseString(request, "graph", "")
	strategy := mcp.ParseString(request, "strategy", "")

	done := observability.TimedOperation()
	res, err := s.svc.Transpile(ctx, strategy, []byte(graph))
	if err != nil {
		return toolError(s.logger, err), nil
	}
	s.logger.Debug("mcp transpile served",
		slog.String("run_id", res.RunID),
		slog.Float64("duration_ms", done()),
	)
	return mcp.NewToolResultText(res.Code), nil
}

func (s *Server) handleValidate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graph := mcp.ParseString(request, "graph", "")

	g, err := flowgen.Parse([]byte(graph))
	if err != nil {
		return toolError(s.logger, err), nil
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports failures as tool results so the model can react.
// Only validation details are passed through.
func toolError(logger *slog.Logger, err error) *mcp.CallToolResult {
	var verr *flowgen.ValidationError
	var gerr *flowgen.GenerationError
	switch {
	case errors.As(err, &verr):
		return mcp.NewToolResultError(verr.Error())
	case errors.As(err, &gerr):
		return mcp.NewToolResultError(gerr.PublicMessage())
	case errors.Is(err, flowgen.ErrConfiguration):
		logger.Error("mcp transpile unavailable", slog.String("error", err.Error()))
		return mcp.NewToolResultError("service is not configured for this request")
	default:
		logger.Error("mcp request failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("internal error")
	}
}
