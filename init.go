package main

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// SeedRandom as a seed picks a time-based seed.
const SeedRandom int64 = -1

// newSource returns a PCG source for seed, or a time-based one when seed is negative.
func newSource(seed int64) rand.Source {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15)
}

// TruncatedNormal draws normal values with mean 0 and re-draws any value
// more than two standard deviations from the mean.
type TruncatedNormal struct {
	dist  distuv.Normal
	bound float64
}

// NewTruncatedNormal creates a truncated-normal initializer. All tensors it
// produces come from one stream, so a fixed seed reproduces a whole network.
func NewTruncatedNormal(stddev float64, seed int64) *TruncatedNormal {
	return &TruncatedNormal{
		dist:  distuv.Normal{Mu: 0, Sigma: stddev, Src: newSource(seed)},
		bound: 2 * stddev,
	}
}

// Tensor returns a new tensor of the given shape filled with draws.
func (tn *TruncatedNormal) Tensor(shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.data {
		t.data[i] = tn.draw()
	}
	return t
}

// Fill overwrites t with fresh draws.
func (tn *TruncatedNormal) Fill(t *Tensor) {
	for i := range t.data {
		t.data[i] = tn.draw()
	}
}

func (tn *TruncatedNormal) draw() float64 {
	for {
		v := tn.dist.Rand()
		if math.Abs(v) <= tn.bound {
			return v
		}
	}
}
