package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs y = x @ K + b where:
//   - x has shape [batch_size, in_features]
//   - K (kernel) has shape [in_features, out_features]
//   - b has shape [out_features]
//
// The kernel is Xavier-initialized and the bias starts at zero.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	kernel      *Parameter[B]
	bias        *Parameter[B]
	backend     B
}

// NewLinear creates a new Linear layer. Parameters are named
// name+".kernel" and name+".bias".
func NewLinear[B tensor.Backend](name string, inFeatures, outFeatures int, rng *rand.Rand, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	kernel := Xavier(inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures}, rng, backend)

	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		kernel:      NewParameter(name+".kernel", kernel),
		bias:        NewParameter(name+".bias", Zeros(tensor.Shape{outFeatures}, backend)),
		backend:     backend,
	}
}

// Forward computes x @ K + b.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", inputShape))
	}
	if inputShape[1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, inputShape[1]))
	}

	out := input.MatMul(l.kernel.Tensor())
	return out.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
}

// Parameters returns [kernel, bias].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.kernel, l.bias}
}

// String returns a string representation of the layer.
func (l *Linear[B]) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d)", l.inFeatures, l.outFeatures)
}
