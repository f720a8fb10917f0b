package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file holds the backward kernels shared by the graph operators in
// ops.go and conv.go.
//
// THE CHAIN RULE:
//
// Given: y = f(x) and z = g(y)
// Want: ∂z/∂x (how z changes with x)
//
// Chain rule: ∂z/∂x = ∂z/∂y · ∂y/∂x
//
// In backpropagation:
//   - Forward: Compute y = f(x), z = g(y)
//   - Backward: Given ∂L/∂z, compute ∂L/∂x = ∂L/∂z · ∂z/∂y · ∂y/∂x
//
// Session.Backward walks the graph in reverse creation order and calls one
// of these per node, so each kernel only sees its own inputs, its output and
// the gradient flowing into that output.
//
// ===========================================================================

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MatMulBackward computes gradients for matrix multiplication.
//
// Given:
//   - C = A @ B
//   - gradC = ∂L/∂C (gradient flowing back from loss)
//
// Compute:
//   - gradA = ∂L/∂A = gradC @ B^T
//   - gradB = ∂L/∂B = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// ReLUBackward computes gradient for ReLU activation.
//
//	Y[i] = max(0, X[i])
//	∂L/∂X[i] = ∂L/∂Y[i] * indicator(X[i] > 0)
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)

	for i := range x.data {
		if x.data[i] > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}

	return gradX
}

// SoftmaxBackward computes gradient for row-wise softmax.
//
// Given Y = softmax(X) and gradY = ∂L/∂Y:
//
//	∂Y[i]/∂X[j] = Y[i] * (δ[i,j] - Y[j])
//	gradX[i] = Y[i] * (gradY[i] - Σ_j gradY[j] * Y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	rows, classes := y.shape[0], y.shape[1]
	gradX := NewTensor(y.shape...)

	for r := 0; r < rows; r++ {
		yr := y.data[r*classes : (r+1)*classes]
		gr := gradY.data[r*classes : (r+1)*classes]
		dot := floats.Dot(gr, yr)

		dst := gradX.data[r*classes : (r+1)*classes]
		for c := range dst {
			dst[c] = yr[c] * (gr[c] - dot)
		}
	}

	return gradX
}

// SparseCrossEntropy computes per-row cross-entropy between logits and
// integer class labels:
//
//	loss[r] = log Σ_c exp(logits[r,c]) - logits[r, labels[r]]
//
// Labels outside [0, classes) are a programmer error and panic.
func SparseCrossEntropy(logits *Tensor, labels []int) *Tensor {
	if len(logits.shape) != 2 {
		panic("SparseCrossEntropy: requires 2D logits")
	}

	rows, classes := logits.shape[0], logits.shape[1]
	if len(labels) != rows {
		panic(fmt.Sprintf("SparseCrossEntropy: %d labels for %d rows", len(labels), rows))
	}

	out := NewTensor(rows)
	for r := 0; r < rows; r++ {
		label := labels[r]
		if label < 0 || label >= classes {
			panic(fmt.Sprintf("SparseCrossEntropy: label %d outside [0,%d)", label, classes))
		}

		row := logits.data[r*classes : (r+1)*classes]
		maxLogit := floats.Max(row)
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxLogit)
		}
		out.data[r] = maxLogit + math.Log(sumExp) - row[label]
	}

	return out
}

// SparseCrossEntropyBackward computes ∂L/∂logits for SparseCrossEntropy.
//
// For each row: gradLogits = gradLoss[r] * (softmax(logits[r]) - one_hot(label)).
func SparseCrossEntropyBackward(logits *Tensor, labels []int, gradLoss *Tensor) *Tensor {
	rows, classes := logits.shape[0], logits.shape[1]

	probs := Softmax(logits)
	gradLogits := NewTensor(rows, classes)

	for r := 0; r < rows; r++ {
		g := gradLoss.data[r]
		for c := 0; c < classes; c++ {
			p := probs.data[r*classes+c]
			if c == labels[r] {
				p -= 1.0
			}
			gradLogits.data[r*classes+c] = g * p
		}
	}

	return gradLogits
}

// AccumulateGrad adds gradient to a tensor's gradient buffer.
// Used when a tensor is used multiple times in the forward pass.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}

	floats.Add(t.grad, grad.data)
}
