package flowgen

import (
	"fmt"
	"strings"
)

const fence = "```"

// ExtractProgram unwraps generator output. Text with no code fence is taken
// as the program; a single fenced block yields its contents and drops any
// surrounding prose. More than one block, or an unterminated fence, is
// non-conforming.
func ExtractProgram(output string) (string, error) {
	text := strings.ReplaceAll(output, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}

	var (
		blocks  [][]string
		current []string
		inside  bool
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fence) {
			if inside {
				current = append(current, line)
			}
			continue
		}
		if inside {
			if trimmed != fence {
				return "", fmt.Errorf("%w: nested code fence", ErrNonConforming)
			}
			blocks = append(blocks, current)
			current, inside = nil, false
			continue
		}
		inside = true
	}

	switch {
	case inside:
		return "", fmt.Errorf("%w: unterminated code fence", ErrNonConforming)
	case len(blocks) > 1:
		return "", fmt.Errorf("%w: %d code blocks, expected one", ErrNonConforming, len(blocks))
	case len(blocks) == 0:
		return strings.TrimSpace(text) + "\n", nil
	}

	program := strings.Trim(strings.Join(blocks[0], "\n"), "\n")
	if strings.TrimSpace(program) == "" {
		return "", ErrEmptyOutput
	}
	return program + "\n", nil
}

// CheckConformance verifies the structure of a generated program against the
// rule set. Comment-only lines are ignored throughout.
//
// A conforming program is laid out exactly as the compiler lays it out: the
// preamble and bootstrap, then one function per executable node in node
// order, then the graph construction followed by every registration and
// every edge in graph order, with the finalization last. Indented lines are
// accepted only inside a node function, and their content is not inspected,
// so node code cannot satisfy or break a check.
func CheckConformance(code string, g *Graph, names map[string]string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyOutput
	}

	var top []string
	for _, line := range strings.Split(code, "\n") {
		if isBlankOrComment(line) || isIndented(line) {
			continue
		}
		top = append(top, strings.TrimRight(line, " \t"))
	}

	if n := countLines(top, func(l string) bool { return l == Preamble }); n != 1 {
		return nonConforming("preamble appears %d times", n)
	}
	if n := countLines(top, func(l string) bool { return strings.Contains(l, "StateGraph(") }); n != 1 {
		return nonConforming("graph construction appears %d times", n)
	}
	if n := countLines(top, func(l string) bool { return strings.Contains(l, ".compile(") }); n != 1 {
		return nonConforming("finalization appears %d times", n)
	}
	if last := top[len(top)-1]; !strings.Contains(last, ".compile(") {
		return nonConforming("last statement is %q, expected finalization", last)
	}

	for _, n := range g.Nodes {
		if !n.Executable() {
			continue
		}
		fn := names[n.ID]
		def := "def " + fn + "("
		if countLines(top, func(l string) bool { return strings.HasPrefix(l, def) }) != 1 {
			return nonConforming("function %s for node %q missing or repeated", fn, n.ID)
		}
		reg := ", " + fn + ")"
		if countLines(top, func(l string) bool {
			return strings.HasPrefix(l, "builder.add_node(") && strings.HasSuffix(l, reg)
		}) != 1 {
			return nonConforming("node %q is not registered exactly once", n.ID)
		}
	}

	return checkLayout(code, g, names)
}

// checkLayout walks every significant line and requires the exact top-level
// sequence the compiler emits.
func checkLayout(code string, g *Graph, names map[string]string) error {
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		if !isBlankOrComment(line) {
			lines = append(lines, strings.TrimRight(line, " \t"))
		}
	}

	var head []string
	for _, l := range strings.Split(Preamble+"\n"+Bootstrap, "\n") {
		if !isBlankOrComment(l) {
			head = append(head, l)
		}
	}
	for i, want := range head {
		if i >= len(lines) || lines[i] != want {
			return nonConforming("program does not open with the preamble and bootstrap: expected %q", want)
		}
	}

	var (
		defs    []string
		trailer []string
	)
	for _, n := range g.Nodes {
		if n.Executable() {
			defs = append(defs, functionDef(names[n.ID]))
			trailer = append(trailer, addNodeStmt(n.Name(), names[n.ID]))
		}
	}
	for _, e := range g.Edges {
		trailer = append(trailer, addEdgeStmt(endpoint(e.Source, g), endpoint(e.Target, g)))
	}
	trailer = append(trailer, Finalization)

	rest := lines[len(head):]
	d, inFunc := 0, false
	for len(rest) > 0 {
		l := rest[0]
		rest = rest[1:]
		switch {
		case l == GraphConstruction:
			if d != len(defs) {
				return nonConforming("graph construction after %d of %d node functions", d, len(defs))
			}
			return checkTrailer(rest, trailer)
		case isIndented(l):
			if !inFunc {
				return nonConforming("indented line %q outside a node function", strings.TrimSpace(l))
			}
		case d < len(defs) && l == defs[d]:
			d++
			inFunc = true
		default:
			return nonConforming("unexpected top-level statement %q", l)
		}
	}
	return nonConforming("graph construction is missing")
}

// checkTrailer requires lines to be exactly the registrations, edges and
// finalization in order.
func checkTrailer(lines, want []string) error {
	for i, l := range lines {
		if isIndented(l) {
			return nonConforming("indented line %q after graph construction", strings.TrimSpace(l))
		}
		if i >= len(want) {
			return nonConforming("unexpected statement %q after graph construction", l)
		}
		if l != want[i] {
			return nonConforming("statement %q after graph construction, expected %q", l, want[i])
		}
	}
	if len(lines) < len(want) {
		return nonConforming("%q is missing after graph construction", want[len(lines)])
	}
	return nil
}

func isIndented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

func isBlankOrComment(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || strings.HasPrefix(t, "#")
}

func countLines(lines []string, match func(string) bool) int {
	n := 0
	for _, l := range lines {
		if match(l) {
			n++
		}
	}
	return n
}

func nonConforming(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNonConforming, fmt.Sprintf(format, args...))
}
