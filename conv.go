package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// 2-D convolution in NHWC layout with VALID padding, stride 1 and an
// optional dilation ("atrous") rate, lowered to a matrix multiply:
//
//   input  x: (N, H, W, C)
//   filter w: (KH, KW, C, F)
//   output y: (N, H - (KH-1)*d, W - (KW-1)*d, F)
//
// im2col gathers, for every output position, the KH*KW*C input values the
// filter touches into one row. With the filter viewed as a
// (KH*KW*C, F) matrix the convolution is a single product:
//
//   cols (N*Ho*Wo, KH*KW*C) @ wmat (KH*KW*C, F) = y (N*Ho*Wo, F)
//
// Dilation only changes which input positions land in a row: tap (kh, kw)
// reads (oh + kh*d, ow + kw*d). Zeros are never materialised between taps.
//
// The UFCNN uses height-1 inputs and 1xK filters, so this is a 1-D dilated
// convolution over time expressed with 2-D shapes.
//
// Backward reuses MatMulBackward on the same product and scatters the
// column gradient back to input positions (col2im). cols is rebuilt in
// backward instead of being cached between passes.
//
// ===========================================================================

import "fmt"

type conv2DOp struct {
	dilation int
}

// Conv2D applies a stride-1 VALID convolution of x (N,H,W,C) with filter w (KH,KW,C,F).
func Conv2D(x, w *Node) (*Node, error) {
	return apply(conv2DOp{dilation: 1}, x, w)
}

// AtrousConv2D is Conv2D with the filter taps spread rate positions apart.
func AtrousConv2D(x, w *Node, rate int) (*Node, error) {
	if rate < 1 {
		return nil, fmt.Errorf("%w: atrous rate %d", ErrInvalidShape, rate)
	}
	return apply(conv2DOp{dilation: rate}, x, w)
}

func (op conv2DOp) String() string {
	if op.dilation == 1 {
		return "Conv2D"
	}
	return "AtrousConv2D"
}

func (op conv2DOp) inferShape(in [][]int) ([]int, error) {
	x, w := in[0], in[1]
	if len(x) != 4 || len(w) != 4 {
		return nil, fmt.Errorf("%w: input %v, filter %v must both be rank 4", ErrInvalidShape, x, w)
	}
	if w[0] < 0 || w[1] < 0 || w[3] < 0 {
		return nil, fmt.Errorf("%w: filter shape %v must be known", ErrInvalidShape, w)
	}
	if !dimsCompatible(x[3], w[2]) {
		return nil, fmt.Errorf("%w: input has %d channels, filter expects %d", ErrShapeMismatch, x[3], w[2])
	}

	out := []int{x[0], -1, -1, w[3]}
	for i, k := range []int{w[0], w[1]} {
		d := x[1+i]
		if d < 0 {
			continue
		}
		o := d - (k-1)*op.dilation
		if o <= 0 {
			return nil, fmt.Errorf("%w: spatial size %d too small for filter %d at dilation %d",
				ErrInvalidShape, d, k, op.dilation)
		}
		out[1+i] = o
	}
	return out, nil
}

// convGeometry holds the sizes shared by forward and backward.
type convGeometry struct {
	n, h, w, c     int
	kh, kw, f      int
	oh, ow         int
	dilation, cols int
}

func (op conv2DOp) geometry(x, w *Tensor) convGeometry {
	if len(x.shape) != 4 || len(w.shape) != 4 {
		panic(fmt.Sprintf("Conv2D: input %v, filter %v", x.shape, w.shape))
	}
	if x.shape[3] != w.shape[2] {
		panic(fmt.Sprintf("Conv2D: input has %d channels, filter expects %d", x.shape[3], w.shape[2]))
	}

	g := convGeometry{
		n: x.shape[0], h: x.shape[1], w: x.shape[2], c: x.shape[3],
		kh: w.shape[0], kw: w.shape[1], f: w.shape[3],
		dilation: op.dilation,
	}
	g.oh = g.h - (g.kh-1)*g.dilation
	g.ow = g.w - (g.kw-1)*g.dilation
	g.cols = g.kh * g.kw * g.c
	if g.oh <= 0 || g.ow <= 0 {
		panic(fmt.Sprintf("Conv2D: input %v too small for filter %v at dilation %d", x.shape, w.shape, g.dilation))
	}
	return g
}

// im2col builds the (N*Ho*Wo, KH*KW*C) patch matrix.
func im2col(x *Tensor, g convGeometry) *Tensor {
	cols := NewTensor(g.n*g.oh*g.ow, g.cols)
	row := 0
	for n := 0; n < g.n; n++ {
		for oh := 0; oh < g.oh; oh++ {
			for ow := 0; ow < g.ow; ow++ {
				dst := cols.data[row*g.cols : (row+1)*g.cols]
				pos := 0
				for kh := 0; kh < g.kh; kh++ {
					ih := oh + kh*g.dilation
					for kw := 0; kw < g.kw; kw++ {
						iw := ow + kw*g.dilation
						base := ((n*g.h+ih)*g.w + iw) * g.c
						copy(dst[pos:pos+g.c], x.data[base:base+g.c])
						pos += g.c
					}
				}
				row++
			}
		}
	}
	return cols
}

// col2im scatter-adds a patch-matrix gradient back onto input positions.
func col2im(gradCols *Tensor, g convGeometry) *Tensor {
	gradX := NewTensor(g.n, g.h, g.w, g.c)
	row := 0
	for n := 0; n < g.n; n++ {
		for oh := 0; oh < g.oh; oh++ {
			for ow := 0; ow < g.ow; ow++ {
				src := gradCols.data[row*g.cols : (row+1)*g.cols]
				pos := 0
				for kh := 0; kh < g.kh; kh++ {
					ih := oh + kh*g.dilation
					for kw := 0; kw < g.kw; kw++ {
						iw := ow + kw*g.dilation
						base := ((n*g.h+ih)*g.w + iw) * g.c
						dst := gradX.data[base : base+g.c]
						for ch := range dst {
							dst[ch] += src[pos+ch]
						}
						pos += g.c
					}
				}
				row++
			}
		}
	}
	return gradX
}

func (op conv2DOp) forward(in []*Tensor) *Tensor {
	x, w := in[0], in[1]
	g := op.geometry(x, w)

	out := MatMul(im2col(x, g), w.Reshape(g.cols, g.f))
	return out.Reshape(g.n, g.oh, g.ow, g.f)
}

func (op conv2DOp) backward(in []*Tensor, _, gradOut *Tensor) []*Tensor {
	x, w := in[0], in[1]
	g := op.geometry(x, w)

	cols := im2col(x, g)
	wmat := w.Reshape(g.cols, g.f)
	gradCols, gradW := MatMulBackward(cols, wmat, gradOut.Reshape(g.n*g.oh*g.ow, g.f))

	return []*Tensor{col2im(gradCols, g), gradW.Reshape(w.shape...)}
}
