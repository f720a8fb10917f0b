package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Op is a graph operator. inferShape checks and propagates static shapes
// (-1 = unknown); forward and backward run on concrete tensors and panic on
// programmer errors, which Session turns into ErrExecution.
//
// backward returns one gradient per input, nil for inputs that are not
// differentiable (labels, shape references).
type Op interface {
	fmt.Stringer
	inferShape(inputs [][]int) ([]int, error)
	forward(inputs []*Tensor) *Tensor
	backward(inputs []*Tensor, output, gradOut *Tensor) []*Tensor
}

// ---------------------------------------------------------------------------
// Pad
// ---------------------------------------------------------------------------

type padOp struct {
	paddings [][2]int // (before, after) per axis
}

// Pad zero-pads x by paddings[i] = {before, after} along each axis.
func Pad(x *Node, paddings [][2]int) (*Node, error) {
	for i, p := range paddings {
		if p[0] < 0 || p[1] < 0 {
			return nil, fmt.Errorf("%w: negative padding %v on axis %d", ErrInvalidShape, p, i)
		}
	}
	return apply(padOp{paddings: paddings}, x)
}

func (padOp) String() string { return "Pad" }

func (op padOp) inferShape(in [][]int) ([]int, error) {
	x := in[0]
	if len(x) != len(op.paddings) {
		return nil, fmt.Errorf("%w: %d paddings for rank %d", ErrInvalidShape, len(op.paddings), len(x))
	}
	out := make([]int, len(x))
	for i, d := range x {
		if d < 0 {
			out[i] = -1
			continue
		}
		out[i] = d + op.paddings[i][0] + op.paddings[i][1]
	}
	return out, nil
}

func (op padOp) outShape(x []int) []int {
	out := make([]int, len(x))
	for i, d := range x {
		out[i] = d + op.paddings[i][0] + op.paddings[i][1]
	}
	return out
}

// offsets maps every flat index of an unpadded tensor to its flat index in
// the padded one.
func (op padOp) offsets(x []int) []int {
	inStr := strides(x)
	outStr := strides(op.outShape(x))

	offs := make([]int, shapeSize(x))
	for i := range offs {
		rem, off := i, 0
		for d := range x {
			idx := rem / inStr[d]
			rem %= inStr[d]
			off += (idx + op.paddings[d][0]) * outStr[d]
		}
		offs[i] = off
	}
	return offs
}

func (op padOp) forward(in []*Tensor) *Tensor {
	x := in[0]
	out := NewTensor(op.outShape(x.shape)...)
	for i, off := range op.offsets(x.shape) {
		out.data[off] = x.data[i]
	}
	return out
}

func (op padOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	x := in[0]
	gradX := NewTensor(x.shape...)
	for i, off := range op.offsets(x.shape) {
		gradX.data[i] = gradOut.data[off]
	}
	return []*Tensor{gradX}
}

// ---------------------------------------------------------------------------
// BiasAdd
// ---------------------------------------------------------------------------

type biasAddOp struct{}

// BiasAdd adds the 1-D bias b to x, broadcasting over all but the last axis.
func BiasAdd(x, b *Node) (*Node, error) {
	return apply(biasAddOp{}, x, b)
}

func (biasAddOp) String() string { return "BiasAdd" }

func (biasAddOp) inferShape(in [][]int) ([]int, error) {
	x, b := in[0], in[1]
	if len(x) == 0 || len(b) != 1 {
		return nil, fmt.Errorf("%w: bias %v for input %v", ErrInvalidShape, b, x)
	}
	if !dimsCompatible(x[len(x)-1], b[0]) {
		return nil, fmt.Errorf("%w: bias size %d, channels %d", ErrShapeMismatch, b[0], x[len(x)-1])
	}
	out := append([]int(nil), x...)
	if out[len(out)-1] < 0 {
		out[len(out)-1] = b[0]
	}
	return out, nil
}

func (biasAddOp) forward(in []*Tensor) *Tensor {
	x, b := in[0], in[1]
	channels := x.shape[len(x.shape)-1]
	if b.Size() != channels {
		panic(fmt.Sprintf("BiasAdd: bias size %d, channels %d", b.Size(), channels))
	}

	out := NewTensor(x.shape...)
	for i := 0; i < len(x.data); i += channels {
		floats.AddTo(out.data[i:i+channels], x.data[i:i+channels], b.data)
	}
	return out
}

func (biasAddOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	b := in[1]
	channels := b.Size()

	gradB := NewTensor(b.shape...)
	for i := 0; i < len(gradOut.data); i += channels {
		floats.Add(gradB.data, gradOut.data[i:i+channels])
	}
	return []*Tensor{gradOut, gradB}
}

// ---------------------------------------------------------------------------
// Rectify
// ---------------------------------------------------------------------------

type reluOp struct{}

// Rectify applies ReLU elementwise.
func Rectify(x *Node) (*Node, error) {
	return apply(reluOp{}, x)
}

func (reluOp) String() string { return "Rectify" }

func (reluOp) inferShape(in [][]int) ([]int, error) {
	return append([]int(nil), in[0]...), nil
}

func (reluOp) forward(in []*Tensor) *Tensor { return ReLU(in[0]) }

func (reluOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{ReLUBackward(in[0], gradOut)}
}

// ---------------------------------------------------------------------------
// Concat
// ---------------------------------------------------------------------------

type concatOp struct {
	axis int
}

// Concat joins xs along axis. All other dimensions must agree.
func Concat(axis int, xs ...*Node) (*Node, error) {
	return apply(concatOp{axis: axis}, xs...)
}

func (concatOp) String() string { return "Concat" }

func (op concatOp) inferShape(in [][]int) ([]int, error) {
	rank := len(in[0])
	if op.axis < 0 || op.axis >= rank {
		return nil, fmt.Errorf("%w: axis %d for rank %d", ErrInvalidShape, op.axis, rank)
	}

	out := append([]int(nil), in[0]...)
	for _, s := range in[1:] {
		if len(s) != rank {
			return nil, fmt.Errorf("%w: ranks %d and %d", ErrShapeMismatch, rank, len(s))
		}
		for d := range s {
			if d == op.axis {
				if out[d] < 0 || s[d] < 0 {
					out[d] = -1
				} else {
					out[d] += s[d]
				}
				continue
			}
			if !dimsCompatible(out[d], s[d]) {
				return nil, fmt.Errorf("%w: dim %d is %d and %d", ErrShapeMismatch, d, out[d], s[d])
			}
			if out[d] < 0 {
				out[d] = s[d]
			}
		}
	}
	return out, nil
}

// outer is the number of leading blocks; chunk is one input's block size.
func (op concatOp) layout(x []int) (outer, chunk int) {
	outer = shapeSize(x[:op.axis])
	chunk = shapeSize(x[op.axis:])
	return outer, chunk
}

func (op concatOp) forward(in []*Tensor) *Tensor {
	outShape := append([]int(nil), in[0].shape...)
	outShape[op.axis] = 0
	for _, x := range in {
		for d := range x.shape {
			if d != op.axis && x.shape[d] != outShape[d] {
				panic(fmt.Sprintf("Concat: shapes %v and %v", in[0].shape, x.shape))
			}
		}
		outShape[op.axis] += x.shape[op.axis]
	}

	out := NewTensor(outShape...)
	outer, outChunk := op.layout(outShape)
	pos := 0
	for _, x := range in {
		_, chunk := op.layout(x.shape)
		for o := 0; o < outer; o++ {
			copy(out.data[o*outChunk+pos:o*outChunk+pos+chunk], x.data[o*chunk:(o+1)*chunk])
		}
		pos += chunk
	}
	return out
}

func (op concatOp) backward(in []*Tensor, output, gradOut *Tensor) []*Tensor {
	outer, outChunk := op.layout(output.shape)
	grads := make([]*Tensor, len(in))
	pos := 0
	for i, x := range in {
		_, chunk := op.layout(x.shape)
		g := NewTensor(x.shape...)
		for o := 0; o < outer; o++ {
			copy(g.data[o*chunk:(o+1)*chunk], gradOut.data[o*outChunk+pos:o*outChunk+pos+chunk])
		}
		grads[i] = g
		pos += chunk
	}
	return grads
}

// ---------------------------------------------------------------------------
// ExpandDims, Squeeze, Flatten, ReshapeLike
// ---------------------------------------------------------------------------

type expandDimsOp struct {
	axis int
}

// ExpandDims inserts a size-1 axis at position axis.
func ExpandDims(x *Node, axis int) (*Node, error) {
	return apply(expandDimsOp{axis: axis}, x)
}

func (expandDimsOp) String() string { return "ExpandDims" }

func (op expandDimsOp) inferShape(in [][]int) ([]int, error) {
	x := in[0]
	if op.axis < 0 || op.axis > len(x) {
		return nil, fmt.Errorf("%w: axis %d for rank %d", ErrInvalidShape, op.axis, len(x))
	}
	return op.expand(x), nil
}

func (op expandDimsOp) expand(x []int) []int {
	out := make([]int, 0, len(x)+1)
	out = append(out, x[:op.axis]...)
	out = append(out, 1)
	return append(out, x[op.axis:]...)
}

func (op expandDimsOp) forward(in []*Tensor) *Tensor {
	return in[0].Reshape(op.expand(in[0].shape)...)
}

func (expandDimsOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut.Reshape(in[0].shape...)}
}

type squeezeOp struct {
	axis int
}

// Squeeze removes the size-1 axis at position axis.
func Squeeze(x *Node, axis int) (*Node, error) {
	return apply(squeezeOp{axis: axis}, x)
}

func (squeezeOp) String() string { return "Squeeze" }

func (op squeezeOp) inferShape(in [][]int) ([]int, error) {
	x := in[0]
	if op.axis < 0 || op.axis >= len(x) || len(x) < 2 {
		return nil, fmt.Errorf("%w: axis %d for rank %d", ErrInvalidShape, op.axis, len(x))
	}
	if x[op.axis] > 1 {
		return nil, fmt.Errorf("%w: cannot squeeze axis %d of size %d", ErrInvalidShape, op.axis, x[op.axis])
	}
	return op.squeeze(x), nil
}

func (op squeezeOp) squeeze(x []int) []int {
	out := make([]int, 0, len(x)-1)
	out = append(out, x[:op.axis]...)
	return append(out, x[op.axis+1:]...)
}

func (op squeezeOp) forward(in []*Tensor) *Tensor {
	x := in[0]
	if x.shape[op.axis] != 1 {
		panic(fmt.Sprintf("Squeeze: axis %d has size %d", op.axis, x.shape[op.axis]))
	}
	return x.Reshape(op.squeeze(x.shape)...)
}

func (squeezeOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut.Reshape(in[0].shape...)}
}

type flattenOp struct {
	keepLast bool
}

// Flatten collapses x to 1-D, or to 2-D (rows, last) when keepLast is set.
func Flatten(x *Node, keepLast bool) (*Node, error) {
	return apply(flattenOp{keepLast: keepLast}, x)
}

func (flattenOp) String() string { return "Flatten" }

func (op flattenOp) inferShape(in [][]int) ([]int, error) {
	x := in[0]
	lead := x
	if op.keepLast {
		if len(x) == 0 {
			return nil, fmt.Errorf("%w: cannot keep last axis of a rank-0 shape", ErrInvalidShape)
		}
		lead = x[:len(x)-1]
	}

	rows := 1
	for _, d := range lead {
		if d < 0 {
			rows = -1
			break
		}
		rows *= d
	}

	if op.keepLast {
		return []int{rows, x[len(x)-1]}, nil
	}
	return []int{rows}, nil
}

func (op flattenOp) forward(in []*Tensor) *Tensor {
	x := in[0]
	if op.keepLast {
		last := x.shape[len(x.shape)-1]
		return x.Reshape(x.Size()/last, last)
	}
	return x.Reshape(x.Size())
}

func (flattenOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut.Reshape(in[0].shape...)}
}

type reshapeLikeOp struct{}

// ReshapeLike reshapes x to the run-time shape of ref. Only x receives a gradient.
func ReshapeLike(x, ref *Node) (*Node, error) {
	return apply(reshapeLikeOp{}, x, ref)
}

func (reshapeLikeOp) String() string { return "ReshapeLike" }

func (reshapeLikeOp) inferShape(in [][]int) ([]int, error) {
	return append([]int(nil), in[1]...), nil
}

func (reshapeLikeOp) forward(in []*Tensor) *Tensor {
	return in[0].Reshape(in[1].shape...)
}

func (reshapeLikeOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut.Reshape(in[0].shape...), nil}
}

// ---------------------------------------------------------------------------
// RowSoftmax, SparseSoftmaxCrossEntropy
// ---------------------------------------------------------------------------

type rowSoftmaxOp struct{}

// RowSoftmax applies softmax to each row of a 2-D node.
func RowSoftmax(x *Node) (*Node, error) {
	return apply(rowSoftmaxOp{}, x)
}

func (rowSoftmaxOp) String() string { return "RowSoftmax" }

func (rowSoftmaxOp) inferShape(in [][]int) ([]int, error) {
	if len(in[0]) != 2 {
		return nil, fmt.Errorf("%w: RowSoftmax needs rank 2, got %d", ErrInvalidShape, len(in[0]))
	}
	return append([]int(nil), in[0]...), nil
}

func (rowSoftmaxOp) forward(in []*Tensor) *Tensor { return Softmax(in[0]) }

func (rowSoftmaxOp) backward(_ []*Tensor, output, gradOut *Tensor) []*Tensor {
	return []*Tensor{SoftmaxBackward(output, gradOut)}
}

type sparseXentOp struct{}

// SparseSoftmaxCrossEntropy computes per-row cross-entropy between 2-D
// logits (rows, classes) and 1-D labels (rows). Labels are fed as float
// values holding integer class indices.
func SparseSoftmaxCrossEntropy(logits, labels *Node) (*Node, error) {
	return apply(sparseXentOp{}, logits, labels)
}

func (sparseXentOp) String() string { return "SparseSoftmaxCrossEntropy" }

func (sparseXentOp) inferShape(in [][]int) ([]int, error) {
	logits, labels := in[0], in[1]
	if len(logits) != 2 || len(labels) != 1 {
		return nil, fmt.Errorf("%w: logits %v, labels %v", ErrInvalidShape, logits, labels)
	}
	if !dimsCompatible(logits[0], labels[0]) {
		return nil, fmt.Errorf("%w: %d logit rows, %d labels", ErrShapeMismatch, logits[0], labels[0])
	}
	rows := logits[0]
	if rows < 0 {
		rows = labels[0]
	}
	return []int{rows}, nil
}

func labelIndices(t *Tensor) []int {
	out := make([]int, len(t.data))
	for i, v := range t.data {
		if v != math.Trunc(v) {
			panic(fmt.Sprintf("SparseSoftmaxCrossEntropy: label %v is not an integer", v))
		}
		out[i] = int(v)
	}
	return out
}

func (sparseXentOp) forward(in []*Tensor) *Tensor {
	return SparseCrossEntropy(in[0], labelIndices(in[1]))
}

func (sparseXentOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{SparseCrossEntropyBackward(in[0], labelIndices(in[1]), gradOut), nil}
}

// ---------------------------------------------------------------------------
// Sub, Square, Mean, Sum
// ---------------------------------------------------------------------------

type subOp struct{}

// Sub computes a - b elementwise. Shapes must match.
func Sub(a, b *Node) (*Node, error) {
	return apply(subOp{}, a, b)
}

func (subOp) String() string { return "Sub" }

func (subOp) inferShape(in [][]int) ([]int, error) {
	a, b := in[0], in[1]
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %v and %v", ErrShapeMismatch, a, b)
	}
	out := make([]int, len(a))
	for i := range a {
		if !dimsCompatible(a[i], b[i]) {
			return nil, fmt.Errorf("%w: %v and %v", ErrShapeMismatch, a, b)
		}
		out[i] = a[i]
		if out[i] < 0 {
			out[i] = b[i]
		}
	}
	return out, nil
}

func (subOp) forward(in []*Tensor) *Tensor {
	a, b := in[0], in[1]
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("Sub: shapes %v and %v", a.shape, b.shape))
	}
	out := NewTensor(a.shape...)
	floats.SubTo(out.data, a.data, b.data)
	return out
}

func (subOp) backward(_ []*Tensor, _, gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut, Scale(gradOut, -1)}
}

type squareOp struct{}

// Square computes x*x elementwise.
func Square(x *Node) (*Node, error) {
	return apply(squareOp{}, x)
}

func (squareOp) String() string { return "Square" }

func (squareOp) inferShape(in [][]int) ([]int, error) {
	return append([]int(nil), in[0]...), nil
}

func (squareOp) forward(in []*Tensor) *Tensor {
	x := in[0]
	out := NewTensor(x.shape...)
	floats.MulTo(out.data, x.data, x.data)
	return out
}

func (squareOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	x := in[0]
	gradX := NewTensor(x.shape...)
	for i, v := range x.data {
		gradX.data[i] = 2 * v * gradOut.data[i]
	}
	return []*Tensor{gradX}
}

type reduceOp struct {
	mean bool
}

// Mean reduces x to the scalar mean of its elements.
func Mean(x *Node) (*Node, error) {
	return apply(reduceOp{mean: true}, x)
}

// Sum reduces x to the scalar sum of its elements.
func Sum(x *Node) (*Node, error) {
	return apply(reduceOp{}, x)
}

func (op reduceOp) String() string {
	if op.mean {
		return "Mean"
	}
	return "Sum"
}

func (reduceOp) inferShape([][]int) ([]int, error) {
	return []int{1}, nil
}

func (op reduceOp) forward(in []*Tensor) *Tensor {
	x := in[0]
	v := floats.Sum(x.data)
	if op.mean {
		v /= float64(len(x.data))
	}
	return NewTensorFrom([]float64{v}, 1)
}

func (op reduceOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	x := in[0]
	g := gradOut.data[0]
	if op.mean {
		g /= float64(len(x.data))
	}
	gradX := NewTensor(x.shape...)
	for i := range gradX.data {
		gradX.data[i] = g
	}
	return []*Tensor{gradX}
}
