package server

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/gofiber/fiber/v3"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
)

// knownStrategies are the strategy names a request may ask for. Whether a
// known strategy is configured is a deployment question, answered with 503.
var knownStrategies = []string{flowgen.StrategyCompiler, flowgen.StrategyDelegate}

func (s *Server) transpile(c fiber.Ctx) error {
	strategy := c.Query("strategy")
	if strategy != "" && !slices.Contains(knownStrategies, strategy) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "unknown strategy",
			"message": strategy,
		})
	}

	res, err := s.svc.Transpile(c.Context(), strategy, c.Body())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(res)
}

func (s *Server) validate(c fiber.Ctx) error {
	g, err := flowgen.Parse(c.Body())
	if err != nil {
		return s.writeError(c, err)
	}
	names, err := flowgen.FunctionNames(g)
	if err != nil {
		return s.writeError(c, err)
	}
	hash, err := flowgen.Hash(g)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"graph":          g,
		"function_names": names,
		"graph_hash":     hash,
	})
}

func (s *Server) rules(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": flowgen.RulesVersion,
		"rules":   flowgen.RuleDocument(),
	})
}

func (s *Server) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"strategy":   s.svc.DefaultStrategy(),
		"strategies": s.svc.Strategies(),
	})
}

// writeError maps the transpiler error taxonomy onto HTTP statuses.
// Validation details go back to the caller; configuration and generation
// causes stay in the logs.
func (s *Server) writeError(c fiber.Ctx, err error) error {
	var verr *flowgen.ValidationError
	var gerr *flowgen.GenerationError

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"field":   verr.Field,
			"message": verr.Msg,
		})
	case errors.Is(err, flowgen.ErrConfiguration):
		s.logger.Error("transpile unavailable", slog.String("error", err.Error()))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service is not configured for this request",
		})
	case errors.As(err, &gerr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": gerr.PublicMessage(),
		})
	default:
		s.logger.Error("request failed", slog.String("error", err.Error()))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}
}

// handleError renders errors that escape handlers, such as an oversized body.
func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
		return c.Status(code).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
