// Package ops defines the differentiable operations recorded on the tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and computes input gradients from the output gradient:
//   - AddOp, SubOp, MulOp, MulScalarOp: element-wise, with broadcast reduction
//   - MatMulOp: d(A@B)/dA = grad@B^T, d(A@B)/dB = A^T@grad
//   - ReshapeOp, TransposeOp: shape bookkeeping
//   - Conv2DOp, MaxPool2DOp: spatial layers, delegated to the backend
//   - ReLUOp, SoftmaxOp, SoftmaxCrossEntropyOp: activations and loss
package ops

import "github.com/born-ml/mnist-estimator/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The result is aligned with Inputs(); a nil entry means no gradient.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
