package flowgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// reservedNames cannot be used as generated function names: Python keywords,
// builtins a node body may call, and the module-level names the generated
// program binds itself.
var reservedNames = map[string]bool{
	"and": true, "as": true, "assert": true, "async": true, "await": true,
	"break": true, "class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "nonlocal": true, "not": true, "or": true,
	"pass": true, "raise": true, "return": true, "try": true, "while": true,
	"with": true, "yield": true, "match": true, "case": true,

	"abs": true, "aiter": true, "all": true, "anext": true, "any": true,
	"ascii": true, "bin": true, "bool": true, "breakpoint": true,
	"bytearray": true, "bytes": true, "callable": true, "chr": true,
	"classmethod": true, "compile": true, "complex": true, "copyright": true,
	"credits": true, "delattr": true, "dict": true, "dir": true, "divmod": true,
	"enumerate": true, "eval": true, "exec": true, "exit": true, "filter": true,
	"float": true, "format": true, "frozenset": true, "getattr": true,
	"globals": true, "hasattr": true, "hash": true, "help": true, "hex": true,
	"id": true, "input": true, "int": true, "isinstance": true,
	"issubclass": true, "iter": true, "len": true, "license": true,
	"list": true, "locals": true, "map": true, "max": true, "memoryview": true,
	"min": true, "next": true, "object": true, "oct": true, "open": true,
	"ord": true, "pow": true, "print": true, "property": true, "quit": true,
	"range": true, "repr": true, "reversed": true, "round": true, "set": true,
	"setattr": true, "slice": true, "sorted": true, "staticmethod": true,
	"str": true, "sum": true, "super": true, "tuple": true, "type": true,
	"vars": true, "zip": true,

	"builder": true, "graph": true,
}

// Slugify reduces a display name to ASCII snake_case.
// Accents are folded ("Crème" becomes "creme"), camelCase boundaries become
// underscores, and any run of other characters collapses to one underscore.
// The result may be empty.
func Slugify(name string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	rs := []rune(folded)
	var b strings.Builder
	sep := true // suppresses leading and repeated underscores
	for i, r := range rs {
		if !isASCIIAlnum(r) {
			if !sep {
				b.WriteByte('_')
				sep = true
			}
			continue
		}
		if isUpper(r) && !sep && wordBreak(rs, i) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
		sep = false
	}
	return strings.TrimRight(b.String(), "_")
}

// wordBreak reports whether the uppercase rune at i starts a new word:
// after a lowercase letter or digit ("fetchData"), or as the last capital of
// an acronym followed by lowercase ("HTTPServer").
func wordBreak(rs []rune, i int) bool {
	if i == 0 {
		return false
	}
	prev := rs[i-1]
	if isLower(prev) || isDigit(prev) {
		return true
	}
	return isUpper(prev) && i+1 < len(rs) && isLower(rs[i+1])
}

// FunctionName derives the generated function name for a display name.
// It is a pure function of name. Names with no ASCII letters or digits get a
// stable hash-based name; leading digits and reserved words are adjusted so
// the result is always a legal, non-clashing Python identifier.
func FunctionName(name string) string {
	slug := Slugify(name)
	if slug == "" {
		sum := sha256.Sum256([]byte(name))
		return "node_" + hex.EncodeToString(sum[:4])
	}
	if isDigit(rune(slug[0])) {
		slug = "n_" + slug
	}
	if reservedNames[slug] {
		slug += "_node"
	}
	return slug
}

// FunctionNames assigns function names to every executable node, keyed by
// node id. Two nodes that would share a function name are rejected.
func FunctionNames(g *Graph) (map[string]string, error) {
	names := make(map[string]string, len(g.Nodes))
	owner := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if !n.Executable() {
			continue
		}
		fn := FunctionName(n.Name())
		if prev, taken := owner[fn]; taken {
			return nil, invalid(fmt.Sprintf("nodes[%d]", i),
				"name %q maps to function %q, already used by nodes[%d]", n.Name(), fn, prev)
		}
		owner[fn] = i
		names[n.ID] = fn
	}
	return names, nil
}

func isASCIIAlnum(r rune) bool { return isLower(r) || isUpper(r) || isDigit(r) }
func isLower(r rune) bool      { return r >= 'a' && r <= 'z' }
func isUpper(r rune) bool      { return r >= 'A' && r <= 'Z' }
func isDigit(r rune) bool      { return r >= '0' && r <= '9' }
