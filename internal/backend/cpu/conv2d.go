package cpu

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/parallel"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// convGeometry holds the dimensions of one Conv2D call.
type convGeometry struct {
	N, CIn, H, W     int
	COut, KH, KW     int
	HOut, WOut       int
	stride           int
	padTop, padLeft  int
	colRows, colCols int // im2col matrix: [HOut*WOut, CIn*KH*KW]
}

func newConvGeometry(op string, input, kernel *tensor.RawTensor, stride int, padding tensor.Padding) convGeometry {
	requireFloat32(op, input, kernel)
	requireRank(op, "input [N,C,H,W]", input, 4)
	requireRank(op, "kernel [C_out,C_in,K_h,K_w]", kernel, 4)
	if stride <= 0 {
		panic(fmt.Sprintf("%s: invalid stride %d", op, stride))
	}

	in, k := input.Shape(), kernel.Shape()
	if in[1] != k[1] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, in[1], k[1]))
	}

	g := convGeometry{
		N: in[0], CIn: in[1], H: in[2], W: in[3],
		COut: k[0], KH: k[2], KW: k[3],
		stride: stride,
	}
	g.HOut, g.padTop = padding.Window(g.H, g.KH, stride)
	g.WOut, g.padLeft = padding.Window(g.W, g.KW, stride)
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions %dx%d for input %v, kernel %v", op, g.HOut, g.WOut, in, k))
	}
	g.colRows = g.HOut * g.WOut
	g.colCols = g.CIn * g.KH * g.KW
	return g
}

// Conv2D performs 2D convolution (cross-correlation) using im2col.
//
// Input: [N, C_in, H, W], kernel: [C_out, C_in, K_h, K_w],
// output: [N, C_out, H_out, W_out]. Padded positions read as zero.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride int, padding tensor.Padding) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input, kernel, stride, padding)
	output := cpu.newFloat32("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut})

	in := input.AsFloat32()
	kd := kernel.AsFloat32()
	out := output.AsFloat32()
	inPlane := g.CIn * g.H * g.W
	outPlane := g.COut * g.colRows

	parallel.For(g.N, func(n int) {
		col := make([]float32, g.colRows*g.colCols)
		im2col(col, in[n*inPlane:(n+1)*inPlane], g)

		dst := out[n*outPlane : (n+1)*outPlane]
		for c := 0; c < g.COut; c++ {
			kRow := kd[c*g.colCols : (c+1)*g.colCols]
			for p := 0; p < g.colRows; p++ {
				cRow := col[p*g.colCols : (p+1)*g.colCols]
				var sum float32
				for k, kv := range kRow {
					sum += kv * cRow[k]
				}
				dst[c*g.colRows+p] = sum
			}
		}
	}, cpu.parallel)

	return output
}

// im2col unfolds one image [C, H, W] into rows of receptive fields:
// col[p, (c*KH+kh)*KW+kw] for output position p.
func im2col(col, img []float32, g convGeometry) {
	for oh := 0; oh < g.HOut; oh++ {
		for ow := 0; ow < g.WOut; ow++ {
			row := col[(oh*g.WOut+ow)*g.colCols:]
			hStart := oh*g.stride - g.padTop
			wStart := ow*g.stride - g.padLeft
			idx := 0
			for c := 0; c < g.CIn; c++ {
				plane := img[c*g.H*g.W:]
				for kh := 0; kh < g.KH; kh++ {
					h := hStart + kh
					for kw := 0; kw < g.KW; kw++ {
						w := wStart + kw
						if h >= 0 && h < g.H && w >= 0 && w < g.W {
							row[idx] = plane[h*g.W+w]
						} else {
							row[idx] = 0
						}
						idx++
					}
				}
			}
		}
	}
}

// col2im scatters (accumulates) an im2col matrix back into an image [C, H, W].
func col2im(img, col []float32, g convGeometry) {
	for oh := 0; oh < g.HOut; oh++ {
		for ow := 0; ow < g.WOut; ow++ {
			row := col[(oh*g.WOut+ow)*g.colCols:]
			hStart := oh*g.stride - g.padTop
			wStart := ow*g.stride - g.padLeft
			idx := 0
			for c := 0; c < g.CIn; c++ {
				plane := img[c*g.H*g.W:]
				for kh := 0; kh < g.KH; kh++ {
					h := hStart + kh
					for kw := 0; kw < g.KW; kw++ {
						w := wStart + kw
						if h >= 0 && h < g.H && w >= 0 && w < g.W {
							plane[h*g.W+w] += row[idx]
						}
						idx++
					}
				}
			}
		}
	}
}
