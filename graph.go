package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A define-then-run computation graph. Building the UFCNN only records
// nodes; nothing is computed until a Session evaluates the graph with data
// fed into its placeholders.
//
// Three kinds of node:
//   - placeholder: a hole filled at Run time (network input, targets, labels).
//     Its static shape may contain -1 for dimensions known only from data,
//     e.g. batch size and series length.
//   - variable: a node that owns a parameter Tensor (filters and biases).
//     Backward accumulates into the tensor's gradient buffer.
//   - operation: an Op applied to earlier nodes.
//
// Nodes are appended in creation order and an operation can only refer to
// nodes that already exist, so creation order is a topological order.
// Session relies on that and never sorts.
//
// ===========================================================================

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingFeed indicates a placeholder needed by a fetch was not fed.
	ErrMissingFeed = errors.New("graph: placeholder not fed")

	// ErrExecution indicates a kernel failed while evaluating the graph.
	ErrExecution = errors.New("graph: execution failed")

	// ErrNotScalar indicates a node used as a loss does not produce a scalar.
	ErrNotScalar = errors.New("graph: loss must be a scalar")

	// ErrForeignNode indicates nodes from different graphs were combined.
	ErrForeignNode = errors.New("graph: node belongs to a different graph")
)

type nodeKind int

const (
	placeholderNode nodeKind = iota
	variableNode
	opNode
)

// Graph records nodes in creation order.
type Graph struct {
	nodes []*Node
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Nodes returns the graph's nodes in creation order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node is a vertex of a Graph.
type Node struct {
	id     int
	name   string
	kind   nodeKind
	op     Op
	inputs []*Node
	shape  []int   // -1 marks a dimension known only at run time
	value  *Tensor // set for variables
	graph  *Graph
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// Shape returns a copy of the node's static shape. Unknown dimensions are -1.
func (n *Node) Shape() []int {
	out := make([]int, len(n.shape))
	copy(out, n.shape)
	return out
}

// Value returns the parameter tensor of a variable node, or nil.
func (n *Node) Value() *Tensor { return n.value }

// Graph returns the graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

func (n *Node) String() string {
	return fmt.Sprintf("%s%s", n.name, formatShape(n.shape))
}

// Placeholder adds a node whose value is fed at run time. A -1 dimension
// accepts any positive size.
func (g *Graph) Placeholder(name string, shape ...int) *Node {
	for i, d := range shape {
		if d == 0 || d < -1 {
			panic(fmt.Sprintf("graph: placeholder %q shape[%d]=%d", name, i, d))
		}
	}
	return g.add(&Node{name: name, kind: placeholderNode, shape: append([]int(nil), shape...)})
}

// Variable adds a node owning the parameter tensor t.
func (g *Graph) Variable(name string, t *Tensor) *Node {
	return g.add(&Node{name: name, kind: variableNode, shape: t.Shape(), value: t})
}

func (g *Graph) add(n *Node) *Node {
	n.id = len(g.nodes)
	n.graph = g
	g.nodes = append(g.nodes, n)
	return n
}

// apply records op over inputs after checking shapes statically.
func apply(op Op, inputs ...*Node) (*Node, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("graph: %s needs at least one input", op)
	}

	g := inputs[0].graph
	shapes := make([][]int, len(inputs))
	for i, in := range inputs {
		if in.graph != g {
			return nil, fmt.Errorf("%w: %s", ErrForeignNode, in.name)
		}
		shapes[i] = in.shape
	}

	shape, err := op.inferShape(shapes)
	if err != nil {
		return nil, fmt.Errorf("%s(%s): %w", op, joinNames(inputs), err)
	}

	return g.add(&Node{
		name:   fmt.Sprintf("%s_%d", op, len(g.nodes)),
		kind:   opNode,
		op:     op,
		inputs: inputs,
		shape:  shape,
	}), nil
}

// Must panics if err is non-nil and returns n otherwise.
func Must(n *Node, err error) *Node {
	if err != nil {
		panic(err)
	}
	return n
}

// Values returns the parameter tensors of variable nodes.
func Values(nodes []*Node) []*Tensor {
	out := make([]*Tensor, 0, len(nodes))
	for _, n := range nodes {
		if n.value != nil {
			out = append(out, n.value)
		}
	}
	return out
}

func joinNames(nodes []*Node) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.name
	}
	return strings.Join(names, ", ")
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprint(d)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// dimsCompatible reports whether two static dims can describe the same size.
func dimsCompatible(a, b int) bool {
	return a < 0 || b < 0 || a == b
}

// shapeMatches reports whether a concrete shape satisfies a static shape.
func shapeMatches(static, concrete []int) bool {
	if len(static) != len(concrete) {
		return false
	}
	for i := range static {
		if static[i] >= 0 && static[i] != concrete[i] {
			return false
		}
	}
	return true
}
