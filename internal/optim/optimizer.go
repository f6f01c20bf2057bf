// Package optim implements optimization algorithms for training the network.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-3}, backend)
//
//	backend.Tape().StartRecording()
//	loss := nn.SoftmaxCrossEntropy(model.Forward(x), y)
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	backend.Tape().Clear()
package optim

import (
	"github.com/born-ml/mnist-estimator/internal/nn"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all trainable parameters in place.
	// grads is the map returned by autodiff.Backward.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// getGradient looks up a parameter's gradient and records it on the
// parameter. Frozen parameters and parameters that did not take part in
// the forward pass get nil.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor, backend B) *tensor.RawTensor {
	if !param.Trainable() {
		return nil
	}
	grad, ok := grads[param.Tensor().Raw()]
	if !ok {
		return nil
	}
	param.SetGrad(tensor.New[float32](grad, backend))
	return grad
}
