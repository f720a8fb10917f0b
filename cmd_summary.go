package main

import (
	"flag"
	"fmt"
)

// RunSummaryCommand prints the layer table of a network, built either from
// flags or from a saved model.
func RunSummaryCommand(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)

	modelPath := fs.String("model", "", "Saved model to describe (overrides architecture flags)")
	inputs := fs.Int("inputs", 1, "Number of input series")
	outputs := fs.Int("outputs", 1, "Number of output series")
	levels := fs.Int("levels", 1, "Number of H/G levels")
	filters := fs.Int("filters", 10, "Filters per convolution")
	filterLength := fs.Int("filter-length", 5, "Taps per filter")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		model *UFCNN
		err   error
	)
	if *modelPath != "" {
		model, err = LoadUFCNN(*modelPath)
	} else {
		cfg := DefaultConfig()
		cfg.NInputs = *inputs
		cfg.NOutputs = *outputs
		cfg.NLevels = *levels
		cfg.NFilters = *filters
		cfg.FilterLength = *filterLength
		model, err = ConstructUFCNN(cfg)
	}
	if err != nil {
		return err
	}

	printSummary(model)
	return nil
}

func printSummary(m *UFCNN) {
	fmt.Printf("%-6s %-20s %-8s %10s\n", "layer", "weights", "dilation", "params")
	for _, l := range m.Layers() {
		params := l.Weight.value.Size() + l.Bias.value.Size()
		fmt.Printf("%-6s %-20s %-8d %10d\n", l.Name, formatShape(l.Weight.shape), l.Dilation, params)
	}
	fmt.Println()
	fmt.Printf("Input:           %s\n", m.X)
	fmt.Printf("Output:          %s\n", formatShape(m.YHat.shape))
	fmt.Printf("Receptive field: %d steps\n", m.ReceptiveField())
	fmt.Printf("Parameters:      %d\n", m.NumParameters())
}
