package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/mnist-estimator/internal/parallel"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// MaxPool2D performs 2D max pooling over [N, C, H, W].
//
// Padded positions never win: a window only considers the input elements it
// covers. The second return value holds, for each output element, the flat
// input index of its maximum; MaxPool2DBackward uses it to route gradients.
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int, padding tensor.Padding) (*tensor.RawTensor, []int) {
	requireFloat32("maxpool2d", input)
	requireRank("maxpool2d", "input [N,C,H,W]", input, 4)
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d or stride %d", kernelSize, stride))
	}

	shape := input.Shape()
	N, C, H, W := shape[0], shape[1], shape[2], shape[3]
	HOut, padTop := padding.Window(H, kernelSize, stride)
	WOut, padLeft := padding.Window(W, kernelSize, stride)
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid output dimensions %dx%d for input %v", HOut, WOut, shape))
	}

	output := cpu.newFloat32("maxpool2d", tensor.Shape{N, C, HOut, WOut})
	maxIndices := make([]int, N*C*HOut*WOut)
	in := input.AsFloat32()
	out := output.AsFloat32()

	parallel.ForBatch(N, C, func(n, c int) {
		plane := (n*C + c) * H * W
		outBase := (n*C + c) * HOut * WOut
		for oh := 0; oh < HOut; oh++ {
			h0 := max(oh*stride-padTop, 0)
			h1 := min(oh*stride-padTop+kernelSize, H)
			for ow := 0; ow < WOut; ow++ {
				w0 := max(ow*stride-padLeft, 0)
				w1 := min(ow*stride-padLeft+kernelSize, W)

				best := float32(math.Inf(-1))
				bestIdx := plane + h0*W + w0
				for h := h0; h < h1; h++ {
					for w := w0; w < w1; w++ {
						idx := plane + h*W + w
						if v := in[idx]; v > best {
							best, bestIdx = v, idx
						}
					}
				}
				out[outBase+oh*WOut+ow] = best
				maxIndices[outBase+oh*WOut+ow] = bestIdx
			}
		}
	}, cpu.parallel)

	return output, maxIndices
}

// MaxPool2DBackward routes each output gradient to the input position that
// held the maximum. Other positions receive zero.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int) *tensor.RawTensor {
	requireFloat32("maxpool2d_backward", input, grad)
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d_backward: maxIndices length %d != grad elements %d", len(maxIndices), grad.NumElements()))
	}

	inputGrad := cpu.newFloat32("maxpool2d_backward", input.Shape())
	dst := inputGrad.AsFloat32()
	for i, g := range grad.AsFloat32() {
		dst[maxIndices[i]] += g
	}
	return inputGrad
}
