package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Measures how fast a UFCNN runs on this machine, single-threaded against
// the parallel compute configuration, and writes the results as JSON.
//
// WHAT WE'RE MEASURING:
//   - forward: one Run of YHat over a batch
//   - train:   one Trainer.Step (forward, backward, RMSProp update)
//
// Throughput is reported in series steps per second (batch * time / avg
// step time), the unit that stays comparable across batch shapes.
//
// Every configuration works on the same seeded weights and data, so
// single-threaded and parallel results also agree on the loss they see.
//
// ===========================================================================

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// BenchmarkResult is one (workload, compute mode, batch shape) measurement.
type BenchmarkResult struct {
	Workload        string        `json:"workload"` // "forward" or "train"
	Mode            string        `json:"mode"`     // "single" or "parallel"
	Workers         int           `json:"workers"`
	Batch           int           `json:"batch"`
	Samples         int           `json:"samples"`
	Iterations      int           `json:"iterations"`
	TotalTime       time.Duration `json:"total_time_ns"`
	AvgTime         time.Duration `json:"avg_time_ns"`
	StepsPerSecond  float64       `json:"steps_per_second"`
	SpeedupVsSingle float64       `json:"speedup_vs_single"`
}

// BenchmarkSuite is the set of results from one run.
type BenchmarkSuite struct {
	Timestamp time.Time         `json:"timestamp"`
	Hardware  HardwareInfo      `json:"hardware"`
	Model     Config            `json:"model"`
	Results   []BenchmarkResult `json:"results"`
}

// HardwareInfo describes the machine the suite ran on.
type HardwareInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
	GoVersion string `json:"go_version"`
}

// DetectHardware gathers information about the current system.
func DetectHardware() HardwareInfo {
	return HardwareInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
}

// BenchmarkOptions selects what RunBenchmarkSuite measures.
type BenchmarkOptions struct {
	Model      Config
	Batches    []int // Series per batch
	Samples    int   // Steps per series
	Iterations int
	Workers    int // Parallel workers; 0 = all CPUs
}

// RunBenchmarkSuite times forward passes and training steps for every
// batch size, first single-threaded then in parallel.
func RunBenchmarkSuite(opts BenchmarkOptions, logger *logrus.Logger) (*BenchmarkSuite, error) {
	if opts.Iterations < 1 || opts.Samples < 1 {
		return nil, fmt.Errorf("iterations and samples must be positive, got %d and %d", opts.Iterations, opts.Samples)
	}

	suite := &BenchmarkSuite{
		Timestamp: time.Now(),
		Hardware:  DetectHardware(),
		Model:     opts.Model,
	}

	parallel := DefaultComputeConfig()
	parallel.NumWorkers = opts.Workers
	parallel.MinSizeForParallel = 1
	modes := []struct {
		name string
		cfg  ComputeConfig
	}{
		{"single", SingleThreadedConfig()},
		{"parallel", parallel},
	}

	prev := GetGlobalComputeConfig()
	defer SetGlobalComputeConfig(prev)

	for _, batch := range opts.Batches {
		x, y := GenerateAR(batch, opts.Samples, opts.Model.Seed)
		rows := float64(batch * opts.Samples)

		single := map[string]time.Duration{}
		for _, mode := range modes {
			model, err := ConstructUFCNN(opts.Model)
			if err != nil {
				return nil, err
			}

			tcfg := DefaultTrainingConfig()
			tcfg.Compute = mode.cfg
			trainer, err := NewTrainer(model, tcfg, logger)
			if err != nil {
				return nil, err
			}
			session := NewSession(model.Graph, WithSessionLogger(logger.WithField("component", "benchmark")))

			SetGlobalComputeConfig(mode.cfg)
			workloads := []struct {
				name string
				run  func() error
			}{
				{"forward", func() error {
					_, err := model.Predict(session, x)
					return err
				}},
				{"train", func() error {
					_, err := trainer.Step(x, y)
					return err
				}},
			}

			for _, w := range workloads {
				start := time.Now()
				for i := 0; i < opts.Iterations; i++ {
					if err := w.run(); err != nil {
						return nil, fmt.Errorf("%s/%s batch %d: %w", w.name, mode.name, batch, err)
					}
				}
				total := time.Since(start)
				avg := total / time.Duration(opts.Iterations)

				if mode.name == "single" {
					single[w.name] = avg
				}

				r := BenchmarkResult{
					Workload:   w.name,
					Mode:       mode.name,
					Workers:    mode.cfg.numWorkers(),
					Batch:      batch,
					Samples:    opts.Samples,
					Iterations: opts.Iterations,
					TotalTime:  total,
					AvgTime:    avg,
				}
				if avg > 0 {
					r.StepsPerSecond = rows / avg.Seconds()
					r.SpeedupVsSingle = float64(single[w.name]) / float64(avg)
				}
				suite.Results = append(suite.Results, r)

				logger.WithFields(logrus.Fields{
					"workload": w.name,
					"mode":     mode.name,
					"batch":    batch,
					"avg":      avg,
				}).Debug("benchmark done")
			}
		}
	}

	return suite, nil
}

// WriteJSON writes the suite as indented JSON.
func (suite *BenchmarkSuite) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(suite); err != nil {
		return fmt.Errorf("failed to encode benchmark results: %w", err)
	}
	return nil
}

// SaveJSON writes the suite to a file.
func (suite *BenchmarkSuite) SaveJSON(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := suite.WriteJSON(f); err != nil {
		return err
	}
	return f.Close()
}

// PrintSummary prints a human-readable table of the results.
func (suite *BenchmarkSuite) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "Hardware: %s/%s, %d CPUs, %s\n",
		suite.Hardware.OS, suite.Hardware.Arch, suite.Hardware.NumCPU, suite.Hardware.GoVersion)
	fmt.Fprintf(w, "Model: %d levels, %d filters of length %d\n\n",
		suite.Model.NLevels, suite.Model.NFilters, suite.Model.FilterLength)

	fmt.Fprintf(w, "%-8s %-9s %7s %7s %12s %14s %8s\n",
		"workload", "mode", "workers", "batch", "avg", "steps/s", "speedup")
	for _, r := range suite.Results {
		fmt.Fprintf(w, "%-8s %-9s %7d %7d %12v %14.0f %7.2fx\n",
			r.Workload, r.Mode, r.Workers, r.Batch, r.AvgTime.Round(time.Microsecond), r.StepsPerSecond, r.SpeedupVsSingle)
	}
}
