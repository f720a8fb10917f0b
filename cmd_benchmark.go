package main

// ===========================================================================
// BENCHMARK CLI
// ===========================================================================
//
// Times UFCNN forward passes and training steps, single-threaded against
// parallel, for a list of batch sizes:
//
//   go run . benchmark -batches=1,5,20 -samples=400 -json=bench.json
//
// -quick cuts the run to one small batch and two iterations, enough to
// check the parallel path works on a new machine.
// ===========================================================================

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RunBenchmarkCommand implements the benchmark CLI.
func RunBenchmarkCommand(args []string) error {
	fs := flag.NewFlagSet("benchmark", flag.ExitOnError)

	batches := fs.String("batches", "1,5,20", "Series per batch to benchmark (comma-separated)")
	samples := fs.Int("samples", 400, "Steps per series")
	iterations := fs.Int("iterations", 5, "Iterations per measurement")
	levels := fs.Int("levels", 1, "Number of H/G levels")
	filters := fs.Int("filters", 10, "Filters per convolution")
	filterLength := fs.Int("filter-length", 5, "Taps per filter")
	workers := fs.Int("workers", 0, "Parallel workers (0 = all CPUs)")
	jsonPath := fs.String("json", "", "Write results as JSON to this path")
	csvPath := fs.String("csv", "", "Write results as CSV to this path")
	quick := fs.Bool("quick", false, "Quick mode (one small batch, two iterations)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	sizes, err := parseInts(*batches)
	if err != nil {
		return fmt.Errorf("parsing -batches: %w", err)
	}

	cfg := DefaultConfig()
	cfg.NLevels = *levels
	cfg.NFilters = *filters
	cfg.FilterLength = *filterLength

	opts := BenchmarkOptions{
		Model:      cfg,
		Batches:    sizes,
		Samples:    *samples,
		Iterations: *iterations,
		Workers:    *workers,
	}
	if *quick {
		opts.Batches = []int{2}
		opts.Samples = min(opts.Samples, 100)
		opts.Iterations = 2
	}

	suite, err := RunBenchmarkSuite(opts, logger)
	if err != nil {
		return err
	}
	suite.PrintSummary(os.Stdout)

	if *jsonPath != "" {
		if err := suite.SaveJSON(*jsonPath); err != nil {
			return err
		}
		fmt.Printf("\nSaved JSON results to %s\n", *jsonPath)
	}
	if *csvPath != "" {
		if err := saveBenchmarkCSV(suite, *csvPath); err != nil {
			return err
		}
		fmt.Printf("Saved CSV results to %s\n", *csvPath)
	}
	return nil
}

// parseInts parses a comma-separated list of positive integers.
func parseInts(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		if v < 1 {
			return nil, fmt.Errorf("value %d must be positive", v)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no values in %q", s)
	}
	return out, nil
}

// saveBenchmarkCSV saves benchmark results to a CSV file.
func saveBenchmarkCSV(suite *BenchmarkSuite, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"workload", "mode", "workers", "batch", "samples", "avg_ns", "steps_per_second", "speedup_vs_single"})
	for _, r := range suite.Results {
		w.Write([]string{
			r.Workload,
			r.Mode,
			strconv.Itoa(r.Workers),
			strconv.Itoa(r.Batch),
			strconv.Itoa(r.Samples),
			strconv.FormatInt(r.AvgTime.Nanoseconds(), 10),
			strconv.FormatFloat(r.StepsPerSecond, 'f', 1, 64),
			strconv.FormatFloat(r.SpeedupVsSingle, 'f', 3, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return f.Close()
}
