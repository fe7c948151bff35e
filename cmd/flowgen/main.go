// Command flowgen validates and transpiles orchestration graphs.
//
//	flowgen transpile [-config f] [-strategy s] [-o out.py] <graph.json|->
//	flowgen validate  [-config f] <graph.json|->
//	flowgen serve     [-config f] [-addr :8080]
//	flowgen mcp       [-config f]
//	flowgen rules
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/config"
	"github.com/randalmurphal/flowgen/pkg/flowgen/mcp"
	"github.com/randalmurphal/flowgen/pkg/flowgen/server"
	"github.com/randalmurphal/flowgen/pkg/flowgen/service"
)

// Version is set at build time.
var Version = "dev"

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInvalid   = 3
	exitMisconfig = 4
)

const (
	shutdownGrace = 10 * time.Second
	usageText     = "usage: flowgen <transpile|validate|serve|mcp|rules> [flags] [graph.json|-]"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// env bundles the process streams so commands can be tested.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usageText)
		return exitUsage
	}
	e := env{stdin: stdin, stdout: stdout, stderr: stderr}

	switch args[0] {
	case "transpile":
		return e.transpile(ctx, args[1:])
	case "validate":
		return e.validate(args[1:])
	case "serve":
		return e.serve(ctx, args[1:])
	case "mcp":
		return e.mcp(ctx, args[1:])
	case "rules":
		fmt.Fprint(stdout, flowgen.RuleDocument())
		return exitOK
	case "version":
		fmt.Fprintln(stdout, Version)
		return exitOK
	case "-h", "-help", "--help", "help":
		fmt.Fprintln(stdout, usageText)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", args[0], usageText)
		return exitUsage
	}
}

func (e env) transpile(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("transpile", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "settings file (.yaml, .yml, .json)")
	strategy := fs.String("strategy", "", "generation strategy: compiler or delegate")
	out := fs.String("o", "", "write the program to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(e.stderr, "transpile: exactly one graph file (or -) is required")
		return exitUsage
	}

	settings, logger, code := e.load(*configPath)
	if code != exitOK {
		return code
	}
	if *strategy != "" {
		settings.Strategy = *strategy
	}

	raw, err := e.readInput(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return exitFailure
	}

	svc, err := service.New(ctx, settings, logger)
	if err != nil {
		return e.fail(err)
	}
	defer svc.Close()

	res, err := svc.Transpile(ctx, "", raw)
	if err != nil {
		return e.fail(err)
	}

	if *out == "" {
		fmt.Fprint(e.stdout, res.Code)
		return exitOK
	}
	if err := os.WriteFile(*out, []byte(res.Code), 0o644); err != nil {
		fmt.Fprintf(e.stderr, "write %s: %v\n", *out, err)
		return exitFailure
	}
	return exitOK
}

func (e env) validate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(e.stderr, "validate: exactly one graph file (or -) is required")
		return exitUsage
	}

	raw, err := e.readInput(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return exitFailure
	}
	g, err := flowgen.Parse(raw)
	if err != nil {
		return e.fail(err)
	}

	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g); err != nil {
		fmt.Fprintln(e.stderr, err)
		return exitFailure
	}
	return exitOK
}

func (e env) serve(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "settings file (.yaml, .yml, .json)")
	addr := fs.String("addr", "", "listen address (overrides settings)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	settings, logger, code := e.load(*configPath)
	if code != exitOK {
		return code
	}
	if *addr != "" {
		settings.Server.Addr = *addr
	}

	svc, err := service.New(ctx, settings, logger)
	if err != nil {
		return e.fail(err)
	}
	defer svc.Close()

	srv := server.New(svc, settings.Server.BodyLimit)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(settings.Server.Addr) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server stopped", slog.String("error", err.Error()))
			return exitFailure
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
			return exitFailure
		}
	}
	return exitOK
}

func (e env) mcp(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "settings file (.yaml, .yml, .json)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	settings, logger, code := e.load(*configPath)
	if code != exitOK {
		return code
	}
	svc, err := service.New(ctx, settings, logger)
	if err != nil {
		return e.fail(err)
	}
	defer svc.Close()

	if err := mcp.NewServer(svc, Version).Serve(); err != nil {
		logger.Error("mcp server stopped", slog.String("error", err.Error()))
		return exitFailure
	}
	return exitOK
}

// load reads settings and builds the logger. Logs go to stderr so stdout
// carries only program text (and the MCP protocol).
func (e env) load(path string) (config.Settings, *slog.Logger, int) {
	settings, err := config.LoadSettings(path)
	if err != nil {
		fmt.Fprintf(e.stderr, "load settings: %v\n", err)
		return config.Settings{}, nil, exitMisconfig
	}
	return settings, settings.Log.NewLogger(e.stderr), exitOK
}

func (e env) readInput(name string) ([]byte, error) {
	var r io.Reader = e.stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open graph: %w", err)
		}
		defer f.Close()
		r = f
	}
	// One byte past the limit lets Parse report the size error.
	data, err := io.ReadAll(io.LimitReader(r, flowgen.MaxRawBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return data, nil
}

// fail prints err and maps it to an exit code.
func (e env) fail(err error) int {
	var gerr *flowgen.GenerationError
	switch {
	case errors.Is(err, flowgen.ErrValidation):
		fmt.Fprintln(e.stderr, err)
		return exitInvalid
	case errors.Is(err, flowgen.ErrConfiguration):
		fmt.Fprintln(e.stderr, err)
		return exitMisconfig
	case errors.As(err, &gerr):
		fmt.Fprintf(e.stderr, "%s: %v\n", gerr.PublicMessage(), gerr.Err)
		return exitFailure
	default:
		fmt.Fprintln(e.stderr, err)
		return exitFailure
	}
}
