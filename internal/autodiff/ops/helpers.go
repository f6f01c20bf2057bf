package ops

import (
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// reduceBroadcast sums a gradient down to targetShape, undoing broadcasting
// from the forward pass.
//
//	Forward:  a[1,32,1,1] + b[N,32,H,W] -> c[N,32,H,W]
//	Backward: grad_c[N,32,H,W] -> grad_a[1,32,1,1]
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(targetShape) {
		return grad
	}

	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, dim := range targetShape {
		if dim == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}
