package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements parallel execution of the two kernels that dominate
// a UFCNN forward/backward pass: the matrix multiply behind every
// convolution (im2col rows @ filter matrix) and elementwise activations.
//
// INTENTION:
// Expose CPU parallelism as a configurable option. Let the user choose between
// single-threaded (deterministic, debuggable) and parallel (faster) modes at
// runtime. Rows of the output are split across goroutines; each output
// element is still computed by exactly one goroutine in a fixed order, so
// results are bit-identical in both modes.
//
// WHERE THIS SITS:
// A convolution over a batch of B series of length T with filter length K,
// C input and F output channels is a (B*T, K*C) @ (K*C, F) product. For the
// default network (K=5, C=F=10) on 50x400 series that is 20000x50 @ 50x10.
// Tall and skinny: splitting rows is the only useful axis.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
//
// This allows switching between single-threaded (deterministic, easier debugging)
// and multi-threaded (faster) execution modes.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU().
	// Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel specifies the minimum number of output rows
	// (or elements, for elementwise kernels) before parallelization is used.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0, // Use all available CPUs
		MinSizeForParallel: 1024,
	}
}

// SingleThreadedConfig returns a configuration for single-threaded execution.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

// numWorkers returns the actual number of workers to use.
func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize determines if an operation should use parallelization
// based on the problem size.
func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && size >= c.MinSizeForParallel && c.numWorkers() > 1
}

// Global compute configuration (can be overridden per operation)
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// MatMulWithConfig performs matrix multiplication with specified compute config.
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k1 := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]

	if k1 != k2 {
		panic("tensor: incompatible dimensions for matmul")
	}

	out := NewTensor(m, n)
	forEachChunk(m, cfg, func(start, end int) {
		matmulRows(a, b, out, start, end, n, k1)
	})
	return out
}

// matmulRows computes output rows [startRow, endRow).
// The i-k-j loop order walks B and C rows contiguously.
func matmulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		aRow := a.data[i*k : (i+1)*k]
		cRow := out.data[i*n : (i+1)*n]
		for kk, av := range aRow {
			if av == 0 {
				continue
			}
			bRow := b.data[kk*n : (kk+1)*n]
			for j, bv := range bRow {
				cRow[j] += av * bv
			}
		}
	}
}

// ParallelApply applies a function to each element in parallel.
// Useful for element-wise operations like activations on large tensors.
func ParallelApply(t *Tensor, fn func(float64) float64, cfg ComputeConfig) *Tensor {
	out := NewTensor(t.shape...)
	forEachChunk(len(t.data), cfg, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = fn(t.data[i])
		}
	})
	return out
}

// forEachChunk splits [0, size) into contiguous chunks, one per worker,
// and runs fn on each. Runs inline when the problem is too small.
func forEachChunk(size int, cfg ComputeConfig, fn func(start, end int)) {
	if !cfg.shouldParallelize(size) {
		fn(0, size)
		return
	}

	numWorkers := cfg.numWorkers()
	perWorker := (size + numWorkers - 1) / numWorkers // Ceiling division

	var wg sync.WaitGroup
	for start := 0; start < size; start += perWorker {
		end := start + perWorker
		if end > size {
			end = size
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}
