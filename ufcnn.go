package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The Undecimated Fully Convolutional Network (Mittelman, arXiv:1508.00317).
// For 3 levels:
//
//   input -- H1 ---------------------------- G1 -- C -- output
//                |                        |
//                -- H2 -------------- G2 --
//                      |            |
//                      -- H3 -- G3 --
//
// H and G are causal convolutions followed by ReLU, C is the final causal
// convolution. Branch merges concatenate channels, so G1..G(L-1) see
// 2*NFilters inputs while the deepest G sees NFilters.
//
// "Undecimated": there is no pooling or striding. Instead the filter at
// analysis level l has 2^(l-1)-1 implicit zeros between taps, so each level
// looks twice as far into the past at the same cost. The synthesis walk
// continues from the dilation the analysis walk ended on and halves it per
// level.
//
// Causality: every convolution is left-padded by dilation*(K-1) zeros and
// run VALID, so output t only reads inputs <= t and the series length never
// changes through the network.
//
// Time series are (batch, time, channels). A singleton height axis is added
// on the way in and squeezed on the way out so the 2-D convolution applies.
//
// ===========================================================================

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a network configuration that cannot be built.
var ErrInvalidConfig = errors.New("ufcnn: invalid config")

// initStddev is the standard deviation of the truncated-normal initializer.
const initStddev = 0.1

// Config holds the architecture hyperparameters.
type Config struct {
	NInputs      int   `json:"n_inputs"`      // Number of input series
	NOutputs     int   `json:"n_outputs"`     // Number of output series
	NLevels      int   `json:"n_levels"`      // Depth of the H/G tree
	NFilters     int   `json:"n_filters"`     // Channels of every H and G layer
	FilterLength int   `json:"filter_length"` // Taps per filter
	Seed         int64 `json:"seed"`          // Initializer seed; SeedRandom for time-based
}

// DefaultConfig returns the reference architecture: one level, ten filters
// of length five, one input and one output series.
func DefaultConfig() Config {
	return Config{
		NInputs:      1,
		NOutputs:     1,
		NLevels:      1,
		NFilters:     10,
		FilterLength: 5,
		Seed:         0,
	}
}

// Validate reports whether the configuration can be built.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"n_inputs", c.NInputs},
		{"n_outputs", c.NOutputs},
		{"n_levels", c.NLevels},
		{"n_filters", c.NFilters},
		{"filter_length", c.FilterLength},
	}
	for _, chk := range checks {
		if chk.value < 1 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, chk.name, chk.value)
		}
	}
	if c.NLevels > 30 {
		return fmt.Errorf("%w: n_levels %d overflows the dilation schedule", ErrInvalidConfig, c.NLevels)
	}
	return nil
}

// LayerInfo describes one convolution of the network.
type LayerInfo struct {
	Name     string // H1..HL, GL..G1, C in evaluation order
	Dilation int
	Weight   *Node
	Bias     *Node
}

// UFCNN is a constructed network: its graph, input/output/target nodes and
// parameters.
type UFCNN struct {
	Config Config
	Graph  *Graph

	// X is the input placeholder, shape (batch, time, NInputs).
	X *Node
	// YHat is the prediction, shape (batch, time, NOutputs).
	YHat *Node
	// Y is the target placeholder, same shape as YHat.
	Y *Node

	// Weights and Biases are ordered H1..HL, G1..GL, C; each has 2*NLevels+1 entries.
	Weights []*Node
	Biases  []*Node

	layers []LayerInfo
}

// ConstructUFCNN builds the network graph for cfg.
//
// Parameters are drawn from a truncated normal (stddev 0.1) seeded by
// cfg.Seed; re-initialize them through Weights and Biases if needed.
func ConstructUFCNN(cfg Config) (*UFCNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		levels      = cfg.NLevels
		k           = cfg.FilterLength
		f           = cfg.NFilters
		initializer = NewTruncatedNormal(initStddev, cfg.Seed)
		g           = NewGraph()
	)

	hWeights := make([]*Node, levels)
	hBiases := make([]*Node, levels)
	gWeights := make([]*Node, levels)
	gBiases := make([]*Node, levels)

	for level := 0; level < levels; level++ {
		hIn := f
		if level == 0 {
			hIn = cfg.NInputs
		}
		hWeights[level] = g.Variable(fmt.Sprintf("H%d/weights", level+1), initializer.Tensor(1, k, hIn, f))
		hBiases[level] = g.Variable(fmt.Sprintf("H%d/biases", level+1), initializer.Tensor(f))

		gIn := 2 * f
		if level == levels-1 {
			gIn = f
		}
		gWeights[level] = g.Variable(fmt.Sprintf("G%d/weights", level+1), initializer.Tensor(1, k, gIn, f))
		gBiases[level] = g.Variable(fmt.Sprintf("G%d/biases", level+1), initializer.Tensor(f))
	}

	m := &UFCNN{Config: cfg, Graph: g}
	m.X = g.Placeholder("x", -1, -1, cfg.NInputs)

	// Shapes below follow from a validated Config, so builder errors are bugs.
	x := Must(ExpandDims(m.X, 1))

	hOutputs := make([]*Node, levels)
	dilation := 1
	for level := 0; level < levels; level++ {
		x = Must(Rectify(Must(CausalConv(x, hWeights[level], hBiases[level], k, dilation))))
		hOutputs[level] = x
		m.layers = append(m.layers, LayerInfo{
			Name: fmt.Sprintf("H%d", level+1), Dilation: dilation,
			Weight: hWeights[level], Bias: hBiases[level],
		})
		dilation *= 2
	}

	var prev *Node
	for level := levels - 1; level >= 0; level-- {
		x = hOutputs[level]
		if prev != nil {
			x = Must(Concat(3, prev, x))
		}
		x = Must(Rectify(Must(CausalConv(x, gWeights[level], gBiases[level], k, dilation))))
		prev = x
		m.layers = append(m.layers, LayerInfo{
			Name: fmt.Sprintf("G%d", level+1), Dilation: dilation,
			Weight: gWeights[level], Bias: gBiases[level],
		})
		dilation /= 2
	}

	cWeights := g.Variable("C/weights", initializer.Tensor(1, k, f, cfg.NOutputs))
	cBiases := g.Variable("C/biases", initializer.Tensor(cfg.NOutputs))
	m.layers = append(m.layers, LayerInfo{Name: "C", Dilation: 1, Weight: cWeights, Bias: cBiases})

	yHat := Must(CausalConv(x, cWeights, cBiases, k, 1))
	m.YHat = Must(Squeeze(yHat, 1))
	m.Y = g.Placeholder("y", -1, -1, cfg.NOutputs)

	m.Weights = append(append(hWeights, gWeights...), cWeights)
	m.Biases = append(append(hBiases, gBiases...), cBiases)

	return m, nil
}

// CausalConv left-pads the time axis (axis 2) of x by dilation*(filterLength-1)
// zeros, convolves with w (dilated when dilation > 1) and adds b.
func CausalConv(x, w, b *Node, filterLength, dilation int) (*Node, error) {
	padded, err := Pad(x, [][2]int{{0, 0}, {0, 0}, {dilation * (filterLength - 1), 0}, {0, 0}})
	if err != nil {
		return nil, err
	}

	var conv *Node
	if dilation == 1 {
		conv, err = Conv2D(padded, w)
	} else {
		conv, err = AtrousConv2D(padded, w, dilation)
	}
	if err != nil {
		return nil, err
	}

	return BiasAdd(conv, b)
}

// Layers returns the convolutions in evaluation order.
func (m *UFCNN) Layers() []LayerInfo {
	out := make([]LayerInfo, len(m.layers))
	copy(out, m.layers)
	return out
}

// Parameters returns all trainable tensors: weights, then biases.
func (m *UFCNN) Parameters() []*Tensor {
	return append(Values(m.Weights), Values(m.Biases)...)
}

// NumParameters counts trainable scalars.
func (m *UFCNN) NumParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Size()
	}
	return total
}

// ReceptiveField is the number of past samples (including the current one)
// that can influence one output.
func (m *UFCNN) ReceptiveField() int {
	span := 0
	for _, l := range m.layers {
		span += l.Dilation
	}
	return 1 + (m.Config.FilterLength-1)*span
}

// Predict runs the network on x (batch, time, NInputs).
func (m *UFCNN) Predict(s *Session, x *Tensor) (*Tensor, error) {
	out, err := s.Run(Feeds{m.X: x}, m.YHat)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
