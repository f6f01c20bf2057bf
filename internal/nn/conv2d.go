package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Conv2D is a 2D convolutional layer with bias.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// With PaddingSame and stride 1 the spatial size is preserved.
//
// Example:
//
//	conv := nn.NewConv2D("conv1", 1, 32, 5, 1, tensor.PaddingSame, rng, backend)
//	out := conv.Forward(x) // [N, 1, 28, 28] -> [N, 32, 28, 28]
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     tensor.Padding

	kernel *Parameter[B]
	bias   *Parameter[B]

	backend B
}

// NewConv2D creates a convolution with Xavier-initialized kernel and zero bias.
// Parameters are named name+".kernel" and name+".bias".
func NewConv2D[B tensor.Backend](
	name string,
	inChannels, outChannels int,
	kernelSize, stride int,
	padding tensor.Padding,
	rng *rand.Rand,
	backend B,
) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel %d or stride %d", kernelSize, stride))
	}

	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	kernel := Xavier(fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, rng, backend)

	return &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		kernel:      NewParameter(name+".kernel", kernel),
		bias:        NewParameter(name+".bias", Zeros(tensor.Shape{outChannels}, backend)),
		backend:     backend,
	}
}

// Forward performs the convolution and adds the per-channel bias.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	out := c.backend.Conv2D(input.Raw(), c.kernel.Tensor().Raw(), c.stride, c.padding)
	output := tensor.New[float32](out, c.backend)

	// [C] -> [1, C, 1, 1] so the reshape is recorded and the gradient
	// flows back to the bias parameter.
	return output.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
}

// Parameters returns [kernel, bias].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{c.kernel, c.bias}
}

// String returns a string representation of the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=%d, stride=%d, padding=%s)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding)
}

// OutputSize computes the spatial output size for an input of h x w.
func (c *Conv2D[B]) OutputSize(h, w int) (int, int) {
	outH, _ := c.padding.Window(h, c.kernelSize, c.stride)
	outW, _ := c.padding.Window(w, c.kernelSize, c.stride)
	return outH, outW
}
