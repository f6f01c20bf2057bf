package nn

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer.
//
// Input:  [batch, channels, height, width]
// Output: [batch, channels, out_h, out_w]
//
// Example:
//
//	pool := nn.NewMaxPool2D(2, 2, tensor.PaddingSame, backend)
//	out := pool.Forward(x) // [N, 32, 28, 28] -> [N, 32, 14, 14]
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	padding    tensor.Padding
	backend    B
}

// NewMaxPool2D creates a new max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, padding tensor.Padding, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel %d or stride %d", kernelSize, stride))
	}
	return &MaxPool2D[B]{
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
		backend:    backend,
	}
}

// Forward applies max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(input.Shape()) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(input.Shape())))
	}
	out, _ := m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride, m.padding)
	return tensor.New[float32](out, m.backend)
}

// Parameters returns nil (max pooling has no trainable parameters).
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// String returns a string representation of the layer.
func (m *MaxPool2D[B]) String() string {
	return fmt.Sprintf("MaxPool2D(kernel_size=%d, stride=%d, padding=%s)", m.kernelSize, m.stride, m.padding)
}

// OutputSize computes the spatial output size for an input of h x w.
func (m *MaxPool2D[B]) OutputSize(h, w int) (int, int) {
	outH, _ := m.padding.Window(h, m.kernelSize, m.stride)
	outW, _ := m.padding.Window(w, m.kernelSize, m.stride)
	return outH, outW
}
