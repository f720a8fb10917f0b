package main

import (
	"flag"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// RunPredictCommand loads a trained model, runs it on fresh AR series and
// reports the RMSE along with the first few predictions of series 0.
func RunPredictCommand(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)

	modelPath := fs.String("model", "ufcnn.bin", "Model path")
	series := fs.Int("series", 10, "Number of series to evaluate")
	samples := fs.Int("samples", 400, "Length of every series")
	seed := fs.Int64("seed", 42, "Random seed for the evaluation data (-1 = time based)")
	show := fs.Int("show", 10, "Number of time steps of series 0 to print")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := positiveFlags(fs, "series", "samples"); err != nil {
		return err
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	model, err := LoadUFCNN(*modelPath)
	if err != nil {
		return err
	}
	if model.Config.NInputs != 1 || model.Config.NOutputs != 1 {
		return fmt.Errorf("model has %d inputs and %d outputs; AR evaluation needs 1 and 1",
			model.Config.NInputs, model.Config.NOutputs)
	}

	x, y := GenerateAR(*series, *samples, *seed)

	session := NewSession(model.Graph, WithSessionLogger(logger.WithField("component", "predict")))
	yHat, err := model.Predict(session, x)
	if err != nil {
		return fmt.Errorf("running model: %w", err)
	}

	rmse := floats.Distance(yHat.data, y.data, 2) / math.Sqrt(float64(y.Size()))
	fmt.Printf("Model: %s (%d levels, receptive field %d)\n", *modelPath, model.Config.NLevels, model.ReceptiveField())
	fmt.Printf("RMSE over %d series of %d steps: %.4f (noise floor %.4f)\n", *series, *samples, rmse, arNoise)
	fmt.Println()

	fmt.Printf("%6s %10s %10s %10s\n", "t", "input", "predicted", "actual")
	for t := 0; t < min(*show, *samples); t++ {
		fmt.Printf("%6d %10.4f %10.4f %10.4f\n", t, x.At(0, t, 0), yHat.At(0, t, 0), y.At(0, t, 0))
	}
	return nil
}
