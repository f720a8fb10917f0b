package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Feeds maps placeholders to the tensors bound to them for one evaluation.
type Feeds map[*Node]*Tensor

// Session evaluates a Graph. It holds no per-run state, so one Session can
// be reused across batches, but it is not safe for concurrent use.
type Session struct {
	graph *Graph
	log   *logrus.Entry
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger routes per-node trace logging to log.
func WithSessionLogger(log *logrus.Entry) SessionOption {
	return func(s *Session) { s.log = log }
}

// NewSession creates a session over g.
func NewSession(g *Graph, opts ...SessionOption) *Session {
	s := &Session{graph: g}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return s
}

// Run evaluates fetches and returns their values in order.
func (s *Session) Run(feeds Feeds, fetches ...*Node) (out []*Tensor, err error) {
	defer recoverExecution(&err)

	values, err := s.forward(feeds, fetches)
	if err != nil {
		return nil, err
	}

	out = make([]*Tensor, len(fetches))
	for i, f := range fetches {
		out[i] = values[f.id]
	}
	return out, nil
}

// Backward evaluates the scalar loss, then propagates gradients back to
// every variable it depends on, adding them to the variables' gradient
// buffers. Callers zero gradients between steps. Returns the loss value.
func (s *Session) Backward(loss *Node, feeds Feeds) (lossValue float64, err error) {
	defer recoverExecution(&err)

	values, err := s.forward(feeds, []*Node{loss})
	if err != nil {
		return 0, err
	}

	lossTensor := values[loss.id]
	if lossTensor.Size() != 1 {
		return 0, fmt.Errorf("%w: %s has shape %v", ErrNotScalar, loss.name, lossTensor.shape)
	}

	grads := make(map[int]*Tensor, len(values))
	grads[loss.id] = NewTensorFrom([]float64{1}, lossTensor.shape...)

	for i := loss.id; i >= 0; i-- {
		n := s.graph.nodes[i]
		g, ok := grads[n.id]
		if !ok {
			continue
		}

		switch n.kind {
		case variableNode:
			n.value.AccumulateGrad(g)
		case opNode:
			inputs := make([]*Tensor, len(n.inputs))
			for j, in := range n.inputs {
				inputs[j] = values[in.id]
			}

			s.log.WithFields(logrus.Fields{"node": n.name, "phase": "backward"}).Trace("evaluating")
			for j, gin := range n.op.backward(inputs, values[n.id], g) {
				if gin == nil || n.inputs[j].kind == placeholderNode {
					continue
				}
				id := n.inputs[j].id
				if prev, ok := grads[id]; ok {
					grads[id] = Add(prev, gin)
				} else {
					grads[id] = gin
				}
			}
		}
		delete(grads, n.id)
	}

	return lossTensor.data[0], nil
}

// forward evaluates every node the targets depend on, in creation order.
func (s *Session) forward(feeds Feeds, targets []*Node) (map[int]*Tensor, error) {
	needed, last, err := s.ancestors(targets)
	if err != nil {
		return nil, err
	}

	values := make(map[int]*Tensor, len(needed))
	for i := 0; i <= last; i++ {
		n := s.graph.nodes[i]
		if !needed[i] {
			continue
		}

		switch n.kind {
		case placeholderNode:
			t, ok := feeds[n]
			if !ok || t == nil {
				return nil, fmt.Errorf("%w: %s", ErrMissingFeed, n)
			}
			if !shapeMatches(n.shape, t.shape) {
				return nil, fmt.Errorf("%w: %s fed %v", ErrShapeMismatch, n, t.shape)
			}
			values[i] = t
		case variableNode:
			values[i] = n.value
		case opNode:
			inputs := make([]*Tensor, len(n.inputs))
			for j, in := range n.inputs {
				inputs[j] = values[in.id]
			}
			s.log.WithFields(logrus.Fields{"node": n.name, "phase": "forward"}).Trace("evaluating")
			values[i] = evalNode(n, inputs)
		}
	}
	return values, nil
}

// ancestors marks the nodes reachable backwards from targets.
func (s *Session) ancestors(targets []*Node) (map[int]bool, int, error) {
	needed := make(map[int]bool)
	last := -1
	stack := make([]*Node, 0, len(targets))
	for _, t := range targets {
		if t.graph != s.graph {
			return nil, 0, fmt.Errorf("%w: %s", ErrForeignNode, t.name)
		}
		stack = append(stack, t)
		if t.id > last {
			last = t.id
		}
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed[n.id] {
			continue
		}
		needed[n.id] = true
		stack = append(stack, n.inputs...)
	}
	return needed, last, nil
}

// kernelPanic carries a kernel failure together with the node it came from.
type kernelPanic struct {
	node  *Node
	cause any
}

func evalNode(n *Node, inputs []*Tensor) *Tensor {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(kernelPanic); ok {
				panic(r)
			}
			panic(kernelPanic{node: n, cause: r})
		}
	}()
	return n.op.forward(inputs)
}

// recoverExecution converts a kernel panic into ErrExecution.
func recoverExecution(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if kp, ok := r.(kernelPanic); ok {
		*err = fmt.Errorf("%w: %s: %v", ErrExecution, kp.node.name, kp.cause)
		return
	}
	*err = fmt.Errorf("%w: %v", ErrExecution, r)
}
