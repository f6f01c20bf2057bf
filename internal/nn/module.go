// Package nn implements the neural network building blocks of the classifier.
//
//   - Module: base interface for all layers
//   - Parameter: trainable tensor with gradient and freeze flag
//   - Conv2D, MaxPool2D, Linear: spatial and dense layers
//   - ReLU, Dropout, Flatten, Permute: parameter-free layers
//   - Sequential: container that chains modules
//   - SoftmaxCrossEntropy, Accuracy: loss and metric
//   - Checkpoint: save and restore model plus optimizer state
//
// Spatial layers operate on channels-first [N, C, H, W] tensors.
package nn

import (
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module, or nil
	// for parameter-free modules.
	Parameters() []*Parameter[B]
}

// TrainingAware is implemented by modules that behave differently during
// training, such as Dropout.
type TrainingAware interface {
	SetTraining(training bool)
}
