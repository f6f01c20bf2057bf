package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Dropout zeroes each element with probability rate during training and
// scales the survivors by 1/(1-rate). Outside training it is the identity.
//
// The mask is applied with an element-wise Mul, so the backward pass
// routes gradients only through kept units.
type Dropout[B tensor.Backend] struct {
	rate     float32
	training bool
	rng      *rand.Rand
}

// NewDropout creates a Dropout layer. rate must be in [0, 1).
func NewDropout[B tensor.Backend](rate float32, rng *rand.Rand) *Dropout[B] {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("dropout: rate must be in [0, 1), got %v", rate))
	}
	return &Dropout[B]{rate: rate, rng: rng}
}

// SetTraining enables or disables dropout.
func (d *Dropout[B]) SetTraining(training bool) {
	d.training = training
}

// Training reports whether dropout is active.
func (d *Dropout[B]) Training() bool {
	return d.training
}

// Forward applies the dropout mask when training.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !d.training || d.rate == 0 {
		return input
	}

	mask := tensor.Zeros[float32](input.Shape(), input.Backend())
	keep := 1 / (1 - d.rate)
	data := mask.Data()
	for i := range data {
		if d.rng.Float32() >= d.rate {
			data[i] = keep
		}
	}
	return input.Mul(mask)
}

// Parameters returns nil.
func (d *Dropout[B]) Parameters() []*Parameter[B] {
	return nil
}

// String returns a string representation of the layer.
func (d *Dropout[B]) String() string {
	return fmt.Sprintf("Dropout(rate=%v)", d.rate)
}
