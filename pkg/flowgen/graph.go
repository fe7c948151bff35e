package flowgen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Reserved edge endpoints marking graph entry and exit.
const (
	START = "START"
	END   = "END"
)

// NodeTypeDefault is the only node type that produces generated code.
// Other types are rendering hints for the editor.
const NodeTypeDefault = "NODE"

// Size bounds enforced by the validator. They are not configurable.
const (
	MaxNodes      = 200
	MaxEdges      = 600
	MaxGraphBytes = 200_000
	MaxIDLen      = 128
	MaxNameLen    = 120
	MaxCodeLen    = 20_000
)

// Graph is the canonical, validated form of a user-authored graph.
// Node and edge order is the editor's insertion order and is preserved
// through transpilation.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a unit of computation. Optional fields are either present and
// sanitized or empty; empty fields are omitted from the canonical JSON.
type Node struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Edge is a directed connection between two node ids or sentinels.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Name returns the display name used for registration: the label when
// present, otherwise the id.
func (n Node) Name() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Executable reports whether the node produces a function and registration.
func (n Node) Executable() bool {
	return n.Type == NodeTypeDefault
}

// IsSentinel reports whether id is START or END.
func IsSentinel(id string) bool {
	return id == START || id == END
}

// Canonical returns the compact JSON encoding of the graph.
func (g *Graph) Canonical() ([]byte, error) {
	return json.Marshal(g)
}

// Hash returns a stable SHA-256 of the canonical JSON.
// Unlike a set-based normalization, order is part of the hash because
// node and edge order changes the generated program.
func Hash(g *Graph) (string, error) {
	data, err := g.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
