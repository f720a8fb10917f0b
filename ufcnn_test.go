package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructUFCNNParameterLists(t *testing.T) {
	for _, levels := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("levels=%d", levels), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.NLevels = levels
			m, err := ConstructUFCNN(cfg)
			require.NoError(t, err)

			assert.Len(t, m.Weights, 2*levels+1)
			assert.Len(t, m.Biases, 2*levels+1)
			assert.Len(t, m.Layers(), 2*levels+1)
			assert.Len(t, m.Parameters(), 2*(2*levels+1))
		})
	}
}

func TestConstructUFCNNShapes(t *testing.T) {
	cfg := Config{NInputs: 2, NOutputs: 3, NLevels: 3, NFilters: 4, FilterLength: 5, Seed: 1}
	m, err := ConstructUFCNN(cfg)
	require.NoError(t, err)

	// H1, H2, H3, G1, G2, G3, C
	wantWeights := [][]int{
		{1, 5, 2, 4}, {1, 5, 4, 4}, {1, 5, 4, 4},
		{1, 5, 8, 4}, {1, 5, 8, 4}, {1, 5, 4, 4},
		{1, 5, 4, 3},
	}
	for i, w := range m.Weights {
		assert.Equal(t, wantWeights[i], w.Shape(), w.Name())
	}
	for i, b := range m.Biases {
		assert.Equal(t, []int{wantWeights[i][3]}, b.Shape(), b.Name())
	}

	assert.Equal(t, []int{-1, -1, 2}, m.X.Shape())
	assert.Equal(t, []int{-1, -1, 3}, m.YHat.Shape())
	assert.Equal(t, []int{-1, -1, 3}, m.Y.Shape())

	out, err := m.Predict(NewSession(m.Graph), randTensor(2, 2, 17, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 17, 3}, out.Shape())

	params := 0
	for _, w := range wantWeights {
		params += w[0]*w[1]*w[2]*w[3] + w[3]
	}
	assert.Equal(t, params, m.NumParameters())
}

func TestConstructUFCNNDilations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NLevels = 3
	cfg.FilterLength = 3
	m, err := ConstructUFCNN(cfg)
	require.NoError(t, err)

	var names []string
	var dilations []int
	for _, l := range m.Layers() {
		names = append(names, l.Name)
		dilations = append(dilations, l.Dilation)
	}
	assert.Equal(t, []string{"H1", "H2", "H3", "G3", "G2", "G1", "C"}, names)
	assert.Equal(t, []int{1, 2, 4, 8, 4, 2, 1}, dilations)
	assert.Equal(t, 1+2*22, m.ReceptiveField())

	layers := m.Layers()
	assert.Same(t, m.Weights[0], layers[0].Weight)
	assert.Same(t, m.Weights[3], layers[5].Weight) // G1
	assert.Same(t, m.Biases[6], layers[6].Bias)    // C
}

func TestConstructUFCNNInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{NInputs: 0, NOutputs: 1, NLevels: 1, NFilters: 10, FilterLength: 5},
		{NInputs: 1, NOutputs: 0, NLevels: 1, NFilters: 10, FilterLength: 5},
		{NInputs: 1, NOutputs: 1, NLevels: 0, NFilters: 10, FilterLength: 5},
		{NInputs: 1, NOutputs: 1, NLevels: 1, NFilters: -3, FilterLength: 5},
		{NInputs: 1, NOutputs: 1, NLevels: 1, NFilters: 10, FilterLength: 0},
		{NInputs: 1, NOutputs: 1, NLevels: 31, NFilters: 10, FilterLength: 5},
	} {
		_, err := ConstructUFCNN(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", cfg)
	}
}

func TestConstructUFCNNFilterLengthOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilterLength = 1
	cfg.NLevels = 2
	m, err := ConstructUFCNN(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ReceptiveField())

	out, err := m.Predict(NewSession(m.Graph), randTensor(1, 1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, out.Shape())
}

func TestConstructUFCNNSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NLevels = 2
	cfg.Seed = 11

	a, err := ConstructUFCNN(cfg)
	require.NoError(t, err)
	b, err := ConstructUFCNN(cfg)
	require.NoError(t, err)

	for i, p := range a.Parameters() {
		assert.Equal(t, p.Data(), b.Parameters()[i].Data())
	}

	cfg.Seed = 12
	c, err := ConstructUFCNN(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Weights[0].Value().Data(), c.Weights[0].Value().Data())

	// Layers get distinct draws from one stream.
	assert.NotEqual(t, a.Weights[1].Value().Data()[:10], a.Weights[2].Value().Data()[:10])

	for _, p := range a.Parameters() {
		for _, v := range p.Data() {
			assert.LessOrEqual(t, v*v, 4*initStddev*initStddev)
		}
	}
}

func TestCausalConv(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", -1, 1, -1, 1)
	// Channel 0 reads x[t-2] with weight 1 and x[t] with weight 10;
	// channel 1 is all bias.
	w := g.Variable("w", NewTensorFrom([]float64{1, 0, 10, 0}, 1, 2, 1, 2))
	b := g.Variable("b", NewTensorFrom([]float64{0.5, -1}, 2))

	y, err := CausalConv(x, w, b, 2, 2)
	require.NoError(t, err)

	in := NewTensorFrom([]float64{
		1, 2, 3, 4,
		0, 0, 0, 1,
	}, 2, 1, 4, 1)
	out := runOne(t, y, Feeds{x: in})

	require.Equal(t, []int{2, 1, 4, 2}, out.Shape())
	want := []float64{
		10.5, -1, 20.5, -1, 31.5, -1, 42.5, -1,
		0.5, -1, 0.5, -1, 0.5, -1, 10.5, -1,
	}
	assert.InDeltaSlice(t, want, out.Data(), 1e-12)
}

func TestUFCNNIsCausal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NLevels = 2
	cfg.FilterLength = 3
	m, err := ConstructUFCNN(cfg)
	require.NoError(t, err)
	s := NewSession(m.Graph)

	x := randTensor(5, 2, 32, 1)
	base, err := m.Predict(s, x)
	require.NoError(t, err)

	const t0 = 20
	perturbed := x.Clone()
	perturbed.Set(perturbed.At(0, t0, 0)+1, 0, t0, 0)
	perturbed.Set(perturbed.At(1, t0, 0)-1, 1, t0, 0)
	out, err := m.Predict(s, perturbed)
	require.NoError(t, err)

	for b := 0; b < 2; b++ {
		for step := 0; step < t0; step++ {
			assert.Equal(t, base.At(b, step, 0), out.At(b, step, 0), "series %d step %d", b, step)
		}
	}
}

func TestUFCNNReceptiveField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilterLength = 3
	m, err := ConstructUFCNN(cfg)
	require.NoError(t, err)
	s := NewSession(m.Graph)

	rf := m.ReceptiveField()
	require.Equal(t, 9, rf) // 1 + 2*(1 + 2 + 1)

	x := randTensor(6, 1, 32, 1)
	base, err := m.Predict(s, x)
	require.NoError(t, err)

	const t0 = 5
	perturbed := x.Clone()
	perturbed.Set(perturbed.At(0, t0, 0)+1, 0, t0, 0)
	out, err := m.Predict(s, perturbed)
	require.NoError(t, err)

	for step := t0 + rf; step < 32; step++ {
		assert.Equal(t, base.At(0, step, 0), out.At(0, step, 0), "step %d", step)
	}
	assert.NotEqual(t, base.At(0, t0+rf-1, 0), out.At(0, t0+rf-1, 0),
		"oldest sample inside the receptive field should reach the output")
}

func TestUFCNNGradients(t *testing.T) {
	cfg := Config{NInputs: 1, NOutputs: 1, NLevels: 2, NFilters: 2, FilterLength: 2, Seed: 3}
	m, err := ConstructUFCNN(cfg)
	require.NoError(t, err)

	// Larger weights keep most units away from the ReLU kink.
	tn := NewTruncatedNormal(1, 4)
	for _, p := range m.Parameters() {
		tn.Fill(p)
	}

	loss := Must(MSELoss(m.YHat, m.Y))
	feeds := Feeds{m.X: randTensor(5, 2, 6, 1), m.Y: randTensor(6, 2, 6, 1)}
	checkGradients(t, loss, feeds, append(m.Weights, m.Biases...)...)
}
