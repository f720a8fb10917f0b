package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		var run func([]string) error
		switch cmd {
		case "train":
			run = RunTrainCommand
		case "predict":
			run = RunPredictCommand
		case "summary":
			run = RunSummaryCommand
		case "benchmark":
			run = RunBenchmarkCommand
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}

		if err := run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Default: show help
	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train       Train a UFCNN on synthetic auto-regressive series")
	fmt.Println("  predict     Evaluate a trained model on fresh series")
	fmt.Println("  summary     Print the layer table and receptive field of a network")
	fmt.Println("  benchmark   Time forward passes and training steps, single vs parallel")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run . train -levels=2 -epochs=20 -model=ufcnn.bin")
	fmt.Println("  go run . predict -model=ufcnn.bin -series=10 -samples=400")
	fmt.Println("  go run . summary -levels=3 -filters=16 -filter-length=3")
	fmt.Println("  go run . summary -model=ufcnn.bin")
	fmt.Println("  go run . benchmark -batches=1,5,20 -json=bench.json")
	fmt.Println()
}

// newLogger builds the CLI logger at the named level ("debug", "info", ...).
func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
