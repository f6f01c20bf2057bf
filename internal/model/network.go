package model

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/born-ml/mnist-estimator/internal/nn"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Network is a built layer stack.
//
// Spatial layers run channels-first, so Build inserts layout changes
// around them: NHWC -> NCHW before the first Conv/MaxPool, and back to
// NHWC before Flatten so flattened features follow the channels-last
// order of the declared stack.
type Network[B tensor.Backend] struct {
	specs  []LayerSpec
	shapes []tensor.Shape
	seq    *nn.Sequential[B]
}

// Build instantiates specs for channels-last image input. Weights are
// Xavier-initialized from rng.
func Build[B tensor.Backend](specs []LayerSpec, rng *rand.Rand, backend B) (*Network[B], error) {
	shapes, err := InferShapes(specs, InputShape(1))
	if err != nil {
		return nil, err
	}

	seq := nn.NewSequential[B]()
	channelsFirst := false
	in := InputShape(1)

	for i, s := range specs {
		switch s.Kind {
		case KindConv, KindMaxPool:
			if !channelsFirst {
				seq.Add(&toChannelsFirst[B]{})
				channelsFirst = true
			}
			if s.Kind == KindConv {
				seq.Add(nn.NewConv2D(s.Name, in[3], s.Filters, s.Kernel, s.Stride, s.Padding, rng, backend))
			} else {
				seq.Add(nn.NewMaxPool2D(s.Kernel, s.Stride, s.Padding, backend))
			}
		case KindFlatten:
			if channelsFirst {
				seq.Add(nn.NewPermute[B](0, 2, 3, 1))
				channelsFirst = false
			}
			seq.Add(nn.NewFlatten[B]())
		case KindDense:
			seq.Add(nn.NewLinear(s.Name, in[1], s.Units, rng, backend))
		case KindDropout:
			seq.Add(nn.NewDropout[B](s.Rate, rng))
		}

		if s.Activation == ReLU {
			seq.Add(nn.NewReLU[B]())
		}
		in = shapes[i]
	}
	if channelsFirst {
		seq.Add(nn.NewPermute[B](0, 2, 3, 1))
	}

	return &Network[B]{specs: specs, shapes: shapes, seq: seq}, nil
}

// Forward maps images [B, 28, 28, 1] to logits [B, 10]. Dropout is active
// only when training is true.
func (n *Network[B]) Forward(images *tensor.Tensor[float32, B], training bool) *tensor.Tensor[float32, B] {
	want := InputShape(0)
	got := images.Shape()
	if len(got) != len(want) || !got[1:].Equal(want[1:]) {
		panic(fmt.Sprintf("model: expected input [B, %d, %d, %d], got %v", want[1], want[2], want[3], got))
	}
	n.seq.SetTraining(training)
	return n.seq.Forward(images)
}

// SetTrainable marks every parameter as trainable or frozen.
func (n *Network[B]) SetTrainable(trainable bool) {
	for _, p := range n.seq.Parameters() {
		p.SetTrainable(trainable)
	}
}

// Parameters returns the weights in layer order.
func (n *Network[B]) Parameters() []*nn.Parameter[B] {
	return n.seq.Parameters()
}

// StateDict returns the weights keyed by parameter name.
func (n *Network[B]) StateDict() map[string]*tensor.RawTensor {
	return n.seq.StateDict()
}

// LoadStateDict copies weights into the network.
func (n *Network[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return n.seq.LoadStateDict(stateDict)
}

// Specs returns the layer stack the network was built from.
func (n *Network[B]) Specs() []LayerSpec {
	return n.specs
}

// String lists every layer with its output shape for batch size 1.
func (n *Network[B]) String() string {
	var sb strings.Builder
	for i, s := range n.specs {
		fmt.Fprintf(&sb, "%-8s %-9s %v\n", s.Name, s.Kind, n.shapes[i])
	}
	return sb.String()
}

// toChannelsFirst converts [N, H, W, C] to [N, C, H, W]. Single-channel
// input only needs a reshape.
type toChannelsFirst[B tensor.Backend] struct{}

func (toChannelsFirst[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := input.Shape()
	if s[3] == 1 {
		return input.Reshape(s[0], 1, s[1], s[2])
	}
	return input.Transpose(0, 3, 1, 2)
}

func (toChannelsFirst[B]) Parameters() []*nn.Parameter[B] {
	return nil
}
