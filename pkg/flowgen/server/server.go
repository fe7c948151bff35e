// Package server exposes the transpiler over HTTP.
//
// Routes:
//
//	POST /v1/transpile   raw graph JSON in, program out (?strategy= optional)
//	POST /v1/validate    raw graph JSON in, canonical graph out
//	GET  /v1/rules       rule document used by the delegate strategy
//	GET  /healthz        liveness and available strategies
//	GET  /metrics        Prometheus metrics
package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/service"
)

// Server is the HTTP front end of a Service.
type Server struct {
	app      *fiber.App
	svc      *service.Service
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry registers HTTP metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New builds the server and its routes. bodyLimit caps request bodies;
// zero uses flowgen.MaxRawBytes.
func New(svc *service.Service, bodyLimit int, opts ...Option) *Server {
	if bodyLimit <= 0 {
		bodyLimit = flowgen.MaxRawBytes
	}
	s := &Server{
		svc:    svc,
		logger: svc.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newHTTPMetrics(s.registry)

	s.app = fiber.New(fiber.Config{
		AppName:      "flowgen",
		BodyLimit:    bodyLimit,
		ErrorHandler: s.handleError,
	})

	s.app.Use(s.metrics.middleware)

	v1 := s.app.Group("/v1")
	v1.Post("/transpile", s.transpile)
	v1.Post("/validate", s.validate)
	v1.Get("/rules", s.rules)

	s.app.Get("/healthz", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	return s
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
