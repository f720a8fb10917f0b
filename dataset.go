package main

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// AR(2) process used for synthetic series:
//
//	x[t] = arPhi1*x[t-1] + arPhi2*x[t-2] + e[t],  e ~ N(0, arNoise^2)
//
// The characteristic roots have modulus sqrt(0.7) < 1, so the process is
// stationary with a standard deviation of roughly 0.3. A one-step-ahead
// predictor cannot beat an RMSE of arNoise.
const (
	arPhi1   = 1.5
	arPhi2   = -0.7
	arNoise  = 0.1
	arBurnIn = 100
)

// GenerateAR returns nSeries independent AR series of nSamples steps as
// inputs X and one-step-ahead targets Y, both (nSeries, nSamples, 1), with
// Y[s, t] = X[s, t+1].
func GenerateAR(nSeries, nSamples int, seed int64) (x, y *Tensor) {
	noise := distuv.Normal{Mu: 0, Sigma: arNoise, Src: newSource(seed)}

	x = NewTensor(nSeries, nSamples, 1)
	y = NewTensor(nSeries, nSamples, 1)

	for s := 0; s < nSeries; s++ {
		prev1, prev2 := 0.0, 0.0
		for t := -arBurnIn; t <= nSamples; t++ {
			v := arPhi1*prev1 + arPhi2*prev2 + noise.Rand()
			prev2, prev1 = prev1, v

			if t >= 0 && t < nSamples {
				x.data[s*nSamples+t] = v
			}
			if t >= 1 {
				y.data[s*nSamples+t-1] = v
			}
		}
	}

	return x, y
}

// SliceBatch copies rows [start, end) of the first axis of t.
func SliceBatch(t *Tensor, start, end int) *Tensor {
	if start < 0 || end > t.shape[0] || start >= end {
		panic(fmt.Sprintf("SliceBatch: [%d,%d) outside first axis of %v", start, end, t.shape))
	}

	row := t.Size() / t.shape[0]
	shape := t.Shape()
	shape[0] = end - start
	return NewTensorFrom(t.data[start*row:end*row], shape...)
}

// GatherBatch copies the listed rows of the first axis of t, in order.
func GatherBatch(t *Tensor, rows []int) *Tensor {
	row := t.Size() / t.shape[0]
	shape := t.Shape()
	shape[0] = len(rows)

	out := NewTensor(shape...)
	for i, r := range rows {
		copy(out.data[i*row:(i+1)*row], t.data[r*row:(r+1)*row])
	}
	return out
}
