package cpu

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// SumDim sums x along dim.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	requireFloat32("sum_dim", x)
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sum_dim: dim %d out of range for shape %v", dim, shape))
	}

	outer, inner := splitAround(shape, dim)
	size := shape[dim]

	outShape := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			outShape = append(outShape, d)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}

	result := cpu.newFloat32("sum_dim", outShape)
	src := x.AsFloat32()
	dst := result.AsFloat32()
	for o := 0; o < outer; o++ {
		for k := 0; k < size; k++ {
			base := (o*size + k) * inner
			for i := 0; i < inner; i++ {
				dst[o*inner+i] += src[base+i]
			}
		}
	}
	return result
}

// Argmax returns int32 indices of the maximum along dim. Ties resolve to the
// lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("argmax", x)
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("argmax: dim %d out of range for shape %v", dim, shape))
	}

	outer, inner := splitAround(shape, dim)
	size := shape[dim]

	outShape := make(tensor.Shape, 0, len(shape)-1)
	outShape = append(outShape, shape[:dim]...)
	outShape = append(outShape, shape[dim+1:]...)

	result, err := tensor.NewRaw(outShape, tensor.Int32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("argmax: failed to create result tensor: %v", err))
	}

	src := x.AsFloat32()
	dst := result.AsInt32()
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := src[o*size*inner+i]
			for k := 1; k < size; k++ {
				if v := src[(o*size+k)*inner+i]; v > bestVal {
					best, bestVal = k, v
				}
			}
			dst[o*inner+i] = int32(best) //nolint:gosec // class dimension is small
		}
	}
	return result
}

// splitAround returns the product of dimensions before and after dim.
func splitAround(shape tensor.Shape, dim int) (outer, inner int) {
	outer, inner = 1, 1
	for i, d := range shape {
		switch {
		case i < dim:
			outer *= d
		case i > dim:
			inner *= d
		}
	}
	return outer, inner
}
