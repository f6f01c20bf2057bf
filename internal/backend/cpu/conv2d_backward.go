package cpu

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/parallel"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Conv2DInputBackward computes ∂L/∂input for Conv2D.
//
// For each image: dcol[p, k] = Σ_c grad[c, p] * kernel[c, k], then col2im
// accumulates dcol into the input gradient.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride int, padding tensor.Padding) *tensor.RawTensor {
	g := newConvGeometry("conv2d_input_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_input_backward", grad, g)

	inputGrad := cpu.newFloat32("conv2d_input_backward", input.Shape())
	dIn := inputGrad.AsFloat32()
	kd := kernel.AsFloat32()
	gd := grad.AsFloat32()
	inPlane := g.CIn * g.H * g.W
	outPlane := g.COut * g.colRows

	parallel.For(g.N, func(n int) {
		dcol := make([]float32, g.colRows*g.colCols)
		gn := gd[n*outPlane : (n+1)*outPlane]
		for c := 0; c < g.COut; c++ {
			kRow := kd[c*g.colCols : (c+1)*g.colCols]
			for p := 0; p < g.colRows; p++ {
				gv := gn[c*g.colRows+p]
				if gv == 0 {
					continue
				}
				dRow := dcol[p*g.colCols : (p+1)*g.colCols]
				for k, kv := range kRow {
					dRow[k] += gv * kv
				}
			}
		}
		col2im(dIn[n*inPlane:(n+1)*inPlane], dcol, g)
	}, cpu.parallel)

	return inputGrad
}

// Conv2DKernelBackward computes ∂L/∂kernel for Conv2D.
//
//	dK[c, k] = Σ_n Σ_p grad[n, c, p] * col_n[p, k]
//
// The batch is split into one chunk per worker; each chunk accumulates into
// its own buffer and the buffers are summed at the end.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride int, padding tensor.Padding) *tensor.RawTensor {
	g := newConvGeometry("conv2d_kernel_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_kernel_backward", grad, g)

	kernelGrad := cpu.newFloat32("conv2d_kernel_backward", kernel.Shape())
	in := input.AsFloat32()
	gd := grad.AsFloat32()
	inPlane := g.CIn * g.H * g.W
	outPlane := g.COut * g.colRows

	chunks := 1
	if cpu.parallel.Enabled {
		chunks = max(1, min(cpu.parallel.NumWorkers, g.N))
	}
	chunkSize := (g.N + chunks - 1) / chunks
	partials := make([][]float32, chunks)

	parallel.For(chunks, func(ci int) {
		acc := make([]float32, g.COut*g.colCols)
		col := make([]float32, g.colRows*g.colCols)
		for n := ci * chunkSize; n < min((ci+1)*chunkSize, g.N); n++ {
			im2col(col, in[n*inPlane:(n+1)*inPlane], g)
			gn := gd[n*outPlane : (n+1)*outPlane]
			for c := 0; c < g.COut; c++ {
				aRow := acc[c*g.colCols : (c+1)*g.colCols]
				for p := 0; p < g.colRows; p++ {
					gv := gn[c*g.colRows+p]
					if gv == 0 {
						continue
					}
					cRow := col[p*g.colCols : (p+1)*g.colCols]
					for k, cv := range cRow {
						aRow[k] += gv * cv
					}
				}
			}
		}
		partials[ci] = acc
	}, parallel.Config{Enabled: chunks > 1, NumWorkers: chunks, MinChunkSize: 1})

	dK := kernelGrad.AsFloat32()
	for _, acc := range partials {
		for i, v := range acc {
			dK[i] += v
		}
	}
	return kernelGrad
}

func checkConvGrad(op string, grad *tensor.RawTensor, g convGeometry) {
	requireFloat32(op, grad)
	want := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: grad shape %v, expected %v", op, grad.Shape(), want))
	}
}
