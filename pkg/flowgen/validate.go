package flowgen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxRawBytes bounds the raw request body before decoding. Editors attach
// layout data the canonical graph drops, so this is looser than MaxGraphBytes.
const MaxRawBytes = 2 << 20

// Parse decodes a raw graph document and validates it.
// The input must hold exactly one JSON value.
func Parse(data []byte) (*Graph, error) {
	if len(data) > MaxRawBytes {
		return nil, invalid("", "request is %d bytes, limit is %d", len(data), MaxRawBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, invalid("", "malformed JSON at offset %d", syntaxErr.Offset)
		}
		if errors.Is(err, io.EOF) {
			return nil, invalid("", "empty document")
		}
		return nil, invalid("", "malformed JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("", "unexpected data after the graph object")
	}

	return Validate(raw)
}

// ValidateGraph runs an already-typed graph through the same pipeline as raw
// input. Use it for graphs built in Go rather than decoded from a request.
func ValidateGraph(g *Graph) (*Graph, error) {
	if g == nil {
		return nil, invalid("", "graph is nil")
	}
	doc := *g
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, invalid("", "graph cannot be encoded: %v", err)
	}
	return Parse(data)
}

// Validate converts a decoded JSON value into a canonical Graph.
//
// Validation happens in phases and stops at the first failure:
//  1. Shape: top-level object with "nodes" and "edges" arrays
//  2. Size: node and edge counts
//  3. Fields: per-node and per-edge sanitization
//  4. Structure: unique ids, known endpoints, unique function names
//  5. Size: canonical encoding length
func Validate(raw any) (*Graph, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid("", "graph must be a JSON object, got %s", jsonKind(raw))
	}

	rawNodes, err := arrayField(obj, "nodes")
	if err != nil {
		return nil, err
	}
	rawEdges, err := arrayField(obj, "edges")
	if err != nil {
		return nil, err
	}

	if len(rawNodes) > MaxNodes {
		return nil, invalid("nodes", "graph has %d nodes, limit is %d", len(rawNodes), MaxNodes)
	}
	if len(rawEdges) > MaxEdges {
		return nil, invalid("edges", "graph has %d edges, limit is %d", len(rawEdges), MaxEdges)
	}

	g := &Graph{
		Nodes: make([]Node, 0, len(rawNodes)),
		Edges: make([]Edge, 0, len(rawEdges)),
	}
	for i, rn := range rawNodes {
		n, err := sanitizeNode(i, rn)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	for i, re := range rawEdges {
		e, err := sanitizeEdge(i, re)
		if err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, e)
	}

	if err := checkStructure(g); err != nil {
		return nil, err
	}

	data, err := g.Canonical()
	if err != nil {
		return nil, invalid("", "graph cannot be encoded: %v", err)
	}
	if len(data) > MaxGraphBytes {
		return nil, invalid("", "canonical graph is %d bytes, limit is %d", len(data), MaxGraphBytes)
	}

	return g, nil
}

func arrayField(obj map[string]any, key string) ([]any, error) {
	v, ok := obj[key]
	if !ok {
		return nil, invalid(key, "required field is missing")
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, invalid(key, "must be an array, got %s", jsonKind(v))
	}
	return arr, nil
}

func sanitizeNode(i int, raw any) (Node, error) {
	path := fmt.Sprintf("nodes[%d]", i)
	obj, ok := raw.(map[string]any)
	if !ok {
		return Node{}, invalid(path, "must be an object, got %s", jsonKind(raw))
	}

	id, err := sanitizeIdentifier(path+".id", obj["id"])
	if err != nil {
		return Node{}, err
	}
	typ, err := sanitizeName(path+".type", obj["type"], MaxNameLen)
	if err != nil {
		return Node{}, err
	}
	if typ == "" {
		typ = NodeTypeDefault
	}
	label, err := sanitizeMultiline(path+".label", obj["label"], MaxNameLen, strings.TrimSpace)
	if err != nil {
		return Node{}, err
	}
	code, err := sanitizeMultiline(path+".code", obj["code"], MaxCodeLen, trimCode)
	if err != nil {
		return Node{}, err
	}

	return Node{ID: id, Type: typ, Label: label, Code: code}, nil
}

func sanitizeEdge(i int, raw any) (Edge, error) {
	path := fmt.Sprintf("edges[%d]", i)
	obj, ok := raw.(map[string]any)
	if !ok {
		return Edge{}, invalid(path, "must be an object, got %s", jsonKind(raw))
	}

	source, err := sanitizeIdentifier(path+".source", obj["source"])
	if err != nil {
		return Edge{}, err
	}
	target, err := sanitizeIdentifier(path+".target", obj["target"])
	if err != nil {
		return Edge{}, err
	}
	return Edge{Source: source, Target: target}, nil
}

// runtimeReservedNames are node names the LangGraph runtime uses for its own
// entry and exit points.
var runtimeReservedNames = map[string]bool{"__start__": true, "__end__": true}

// checkRuntimeName rejects executable node names that LangGraph refuses at
// registration time.
func checkRuntimeName(i int, n Node) error {
	if !n.Executable() {
		return nil
	}
	field := fmt.Sprintf("nodes[%d].id", i)
	if n.Label != "" {
		field = fmt.Sprintf("nodes[%d].label", i)
	}
	name := n.Name()
	if runtimeReservedNames[name] {
		return invalid(field, "%q is reserved by the graph runtime", name)
	}
	if strings.ContainsAny(name, ":|") {
		return invalid(field, "%q contains ':' or '|', which the graph runtime does not accept in node names", name)
	}
	return nil
}

// checkStructure enforces graph-level invariants that individual fields
// cannot: unique ids, resolvable edge endpoints, and unique function names.
// Reachability of END is deliberately not checked.
func checkStructure(g *Graph) error {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		field := fmt.Sprintf("nodes[%d].id", i)
		if IsSentinel(n.ID) {
			return invalid(field, "%q is reserved", n.ID)
		}
		if prev, dup := index[n.ID]; dup {
			return invalid(field, "duplicate id %q (also nodes[%d])", n.ID, prev)
		}
		index[n.ID] = i
		if err := checkRuntimeName(i, n); err != nil {
			return err
		}
	}

	for i, e := range g.Edges {
		if e.Source == END {
			return invalid(fmt.Sprintf("edges[%d].source", i), "END cannot be an edge source")
		}
		if e.Target == START {
			return invalid(fmt.Sprintf("edges[%d].target", i), "START cannot be an edge target")
		}
		for _, end := range []struct{ field, id string }{
			{fmt.Sprintf("edges[%d].source", i), e.Source},
			{fmt.Sprintf("edges[%d].target", i), e.Target},
		} {
			if IsSentinel(end.id) {
				continue
			}
			ni, ok := index[end.id]
			if !ok {
				return invalid(end.field, "unknown node %q", end.id)
			}
			if n := g.Nodes[ni]; !n.Executable() {
				return invalid(end.field, "node %q has type %q and cannot be wired", n.ID, n.Type)
			}
		}
	}

	_, err := FunctionNames(g)
	return err
}
