// Package workflow loads parameterized job-graph templates and binds request values
// into their node slots.
//
// A template is the engine's API-format graph: a JSON object keyed by node address,
// each node carrying a class type and an inputs block. Templates evolve independently
// of this code, so binding a slot that a template does not have is a no-op.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"giftforge/internal/apperrors"
)

// NodeAddress identifies a node within a graph. It may be compound ("34:27").
type NodeAddress string

// Node is one processing node and its parameter block.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph is an ordered, submittable job graph.
type Graph struct {
	order []NodeAddress
	nodes map[NodeAddress]Node
}

// Template is an immutable graph loaded from a stage definition.
// Bind produces derived graphs and never mutates the template.
type Template struct {
	name  string
	graph *Graph
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Internal("workflow.load", err)
	}
	return ParseTemplate(path, data)
}

// ParseTemplate parses template JSON, keeping the node order of the document.
func ParseTemplate(name string, data []byte) (*Template, error) {
	g, err := parseGraph(data)
	if err != nil {
		return nil, apperrors.Internal("workflow.parse", fmt.Errorf("%s: %w", name, err))
	}
	return &Template{name: name, graph: g}, nil
}

// Name returns the source the template was loaded from.
func (t *Template) Name() string { return t.name }

// Addresses returns the node addresses in template order.
func (t *Template) Addresses() []NodeAddress { return t.graph.Addresses() }

// Lookup returns a copy of the node at addr.
func (t *Template) Lookup(addr NodeAddress) (Node, bool) { return t.graph.Lookup(addr) }

// Bind returns a deep copy of the template with bindings applied.
func (t *Template) Bind(b Bindings) *Graph { return t.graph.Bind(b) }

// Addresses returns the node addresses in graph order.
func (g *Graph) Addresses() []NodeAddress {
	out := make([]NodeAddress, len(g.order))
	copy(out, g.order)
	return out
}

// Lookup returns a copy of the node at addr.
func (g *Graph) Lookup(addr NodeAddress) (Node, bool) {
	n, ok := g.nodes[addr]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Bind returns a deep copy of g with each (address, field, value) applied.
// Addresses absent from g are skipped.
func (g *Graph) Bind(b Bindings) *Graph {
	out := g.clone()
	for addr, fields := range b {
		n, ok := out.nodes[addr]
		if !ok {
			continue
		}
		if n.Inputs == nil {
			n.Inputs = make(map[string]any, len(fields))
		}
		for field, value := range fields {
			n.Inputs[field] = copyValue(value)
		}
		out.nodes[addr] = n
	}
	return out
}

// MarshalJSON encodes the graph as an object in node order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, addr := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(addr))
		if err != nil {
			return nil, err
		}
		node, err := json.Marshal(g.nodes[addr])
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", addr, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (g *Graph) clone() *Graph {
	out := &Graph{
		order: make([]NodeAddress, len(g.order)),
		nodes: make(map[NodeAddress]Node, len(g.nodes)),
	}
	copy(out.order, g.order)
	for addr, n := range g.nodes {
		out.nodes[addr] = n.clone()
	}
	return out
}

func (n Node) clone() Node {
	c := Node{ClassType: n.ClassType}
	if n.Inputs != nil {
		c.Inputs = copyValue(n.Inputs).(map[string]any)
	}
	if n.Meta != nil {
		c.Meta = copyValue(n.Meta).(map[string]any)
	}
	return c
}

// copyValue deep-copies a decoded JSON value.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = copyValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = copyValue(inner)
		}
		return s
	default:
		return val
	}
}

// parseGraph decodes a top-level object token by token so node order survives.
func parseGraph(data []byte) (*Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("template must be a JSON object")
	}

	g := &Graph{nodes: make(map[NodeAddress]Node)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var n Node
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("node %s: %w", key, err)
		}
		addr := NodeAddress(key)
		if _, dup := g.nodes[addr]; !dup {
			g.order = append(g.order, addr)
		}
		g.nodes[addr] = n
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return g, nil
}
