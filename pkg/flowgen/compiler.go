package flowgen

import (
	"context"
	"strings"
)

// Compiler is the deterministic generator. It applies the rule set directly,
// so the same canonical graph always yields byte-identical output.
type Compiler struct{}

// Compile-time interface check.
var _ Generator = Compiler{}

// NewCompiler returns the structural compiler.
func NewCompiler() Compiler { return Compiler{} }

// Name implements Generator.
func (Compiler) Name() string { return StrategyCompiler }

// Generate implements Generator.
//
// Emission order:
//  1. Preamble, then the bootstrap fragment
//  2. One function per executable node, in node order
//  3. Graph construction
//  4. One registration per executable node, in node order
//  5. One edge statement per edge, in edge order
//  6. Finalization
func (c Compiler) Generate(ctx context.Context, g *Graph) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	names, err := FunctionNames(g)
	if err != nil {
		return "", err
	}

	var w programWriter
	w.line(Preamble)
	w.blank()
	w.line(Bootstrap)

	for _, n := range g.Nodes {
		if !n.Executable() {
			continue
		}
		w.blank()
		w.blank()
		w.line(functionDef(names[n.ID]))
		if n.Code == "" {
			w.line("    " + notImplementedBody(n.Name()))
			continue
		}
		w.body(n.Code)
	}

	w.blank()
	w.blank()
	w.line(GraphConstruction)
	for _, n := range g.Nodes {
		if n.Executable() {
			w.line(addNodeStmt(n.Name(), names[n.ID]))
		}
	}
	for _, e := range g.Edges {
		w.line(addEdgeStmt(endpoint(e.Source, g), endpoint(e.Target, g)))
	}
	w.line(Finalization)

	return w.String(), nil
}

// programWriter accumulates program lines.
type programWriter struct {
	b strings.Builder
}

func (w *programWriter) line(s string) {
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}

func (w *programWriter) blank() {
	w.b.WriteByte('\n')
}

// body writes a code fragment one indentation level deep. Blank lines are
// written empty; every other line is kept byte for byte after the indent.
// A fragment holding only comments gets a trailing pass so the def still
// has a statement.
func (w *programWriter) body(code string) {
	statements := 0
	for _, l := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			w.blank()
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			statements++
		}
		w.line("    " + l)
	}
	if statements == 0 {
		w.line("    pass")
	}
}

func (w *programWriter) String() string {
	return w.b.String()
}
