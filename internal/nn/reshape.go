package nn

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Flatten collapses all dimensions after the batch dimension:
// [N, d1, d2, ...] -> [N, d1*d2*...].
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten module.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward reshapes the input to 2D.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got shape %v", shape))
	}
	return input.Reshape(shape[0], shape[1:].NumElements())
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return nil
}

// Permute reorders the input axes.
//
// Example:
//
//	toNCHW := nn.NewPermute[B](0, 3, 1, 2) // [N, H, W, C] -> [N, C, H, W]
type Permute[B tensor.Backend] struct {
	axes []int
}

// NewPermute creates a Permute module for the given axis order.
func NewPermute[B tensor.Backend](axes ...int) *Permute[B] {
	return &Permute[B]{axes: axes}
}

// Forward transposes the input.
func (p *Permute[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.Transpose(p.axes...)
}

// Parameters returns nil.
func (p *Permute[B]) Parameters() []*Parameter[B] {
	return nil
}
