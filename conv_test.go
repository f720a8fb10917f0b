package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naiveConv evaluates a VALID dilated convolution directly from its definition.
func naiveConv(x, w *Tensor, dilation int) *Tensor {
	n, h, wd, c := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	kh, kw, f := w.shape[0], w.shape[1], w.shape[3]
	oh, ow := h-(kh-1)*dilation, wd-(kw-1)*dilation

	out := NewTensor(n, oh, ow, f)
	for b := 0; b < n; b++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				for o := 0; o < f; o++ {
					sum := 0.0
					for p := 0; p < kh; p++ {
						for q := 0; q < kw; q++ {
							for ch := 0; ch < c; ch++ {
								sum += x.At(b, i+p*dilation, j+q*dilation, ch) * w.At(p, q, ch, o)
							}
						}
					}
					out.Set(sum, b, i, j, o)
				}
			}
		}
	}
	return out
}

func TestConv2DMatchesDefinition(t *testing.T) {
	tests := []struct {
		xShape   []int
		wShape   []int
		dilation int
	}{
		{[]int{1, 1, 8, 1}, []int{1, 3, 1, 2}, 1},
		{[]int{2, 1, 9, 3}, []int{1, 3, 3, 4}, 2},
		{[]int{1, 4, 5, 2}, []int{2, 3, 2, 3}, 1},
		{[]int{2, 5, 7, 2}, []int{2, 2, 2, 1}, 3},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("case%d", i), func(t *testing.T) {
			g := NewGraph()
			x := g.Variable("x", randTensor(int64(2*i), tt.xShape...))
			w := g.Variable("w", randTensor(int64(2*i+1), tt.wShape...))

			var y *Node
			if tt.dilation == 1 {
				y = Must(Conv2D(x, w))
			} else {
				y = Must(AtrousConv2D(x, w, tt.dilation))
			}

			want := naiveConv(x.Value(), w.Value(), tt.dilation)
			assert.Equal(t, want.Shape(), y.Shape())

			got := runOne(t, y, nil)
			assert.True(t, tensorsEqual(want, got, 1e-12), "conv output differs from definition")
		})
	}
}

func TestConv2DGradients(t *testing.T) {
	g := NewGraph()
	x := g.Variable("x", randTensor(1, 2, 1, 7, 3))
	w := g.Variable("w", randTensor(2, 1, 3, 3, 2))
	checkGradients(t, sumSquares(Must(AtrousConv2D(x, w, 2))), nil, x, w)

	x2 := g.Variable("x2", randTensor(3, 1, 4, 5, 2))
	w2 := g.Variable("w2", randTensor(4, 2, 3, 2, 3))
	checkGradients(t, sumSquares(Must(Conv2D(x2, w2))), nil, x2, w2)
}

func TestConv2DShapeErrors(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("x", -1, 1, -1, 3)

	_, err := Conv2D(x, g.Variable("w", NewTensor(1, 3, 2, 4)))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Conv2D(g.Placeholder("flat", -1, 3), g.Variable("w2", NewTensor(1, 3, 3, 4)))
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = AtrousConv2D(x, g.Variable("w3", NewTensor(1, 3, 3, 4)), 0)
	assert.ErrorIs(t, err, ErrInvalidShape)

	short := g.Placeholder("short", 1, 1, 4, 3)
	_, err = AtrousConv2D(short, g.Variable("w4", NewTensor(1, 3, 3, 4)), 2)
	assert.ErrorIs(t, err, ErrInvalidShape)

	// Unknown time dimension: the static check passes and Run fails on short data.
	y, err := AtrousConv2D(x, g.Variable("w5", NewTensor(1, 3, 3, 4)), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 1, -1, 4}, y.Shape())

	_, err = NewSession(g).Run(Feeds{x: NewTensor(1, 1, 4, 3)}, y)
	assert.ErrorIs(t, err, ErrExecution)
}
