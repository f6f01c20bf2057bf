// Package model defines the digit classifier: a declarative layer stack,
// shape inference over it, and a Network built from it.
//
// Images enter channels-last as [B, 28, 28, 1] and leave as logits [B, 10].
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/mnist-estimator/internal/dataset"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Kind identifies a layer type.
type Kind int

const (
	KindConv Kind = iota + 1
	KindMaxPool
	KindFlatten
	KindDense
	KindDropout
)

func (k Kind) String() string {
	switch k {
	case KindConv:
		return "conv"
	case KindMaxPool:
		return "max_pool"
	case KindFlatten:
		return "flatten"
	case KindDense:
		return "dense"
	case KindDropout:
		return "dropout"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Activation is applied after a Conv or Dense layer.
type Activation int

const (
	Linear Activation = iota
	ReLU
)

// LayerSpec describes one layer. Only the fields relevant to Kind are read.
type LayerSpec struct {
	Name       string
	Kind       Kind
	Filters    int // Conv
	Units      int // Dense
	Kernel     int // Conv, MaxPool
	Stride     int // Conv, MaxPool
	Padding    tensor.Padding
	Activation Activation
	Rate       float32 // Dropout
}

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid model parameters")

// Params are the model hyperparameters.
type Params struct {
	LearningRate float32 `yaml:"learning_rate"`
	DropoutRate  float32 `yaml:"dropout_rate"`
}

// DefaultParams returns the training defaults.
func DefaultParams() Params {
	return Params{LearningRate: 1e-3, DropoutRate: 0.4}
}

// Validate checks LearningRate > 0 and DropoutRate in [0, 1).
func (p Params) Validate() error {
	lr := float64(p.LearningRate)
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return fmt.Errorf("%w: learning rate must be positive, got %v", ErrInvalidParams, p.LearningRate)
	}
	if p.DropoutRate < 0 || p.DropoutRate >= 1 || math.IsNaN(float64(p.DropoutRate)) {
		return fmt.Errorf("%w: dropout rate must be in [0, 1), got %v", ErrInvalidParams, p.DropoutRate)
	}
	return nil
}

// Layers returns the classifier's layer stack.
func Layers(p Params) []LayerSpec {
	return []LayerSpec{
		{Name: "conv1", Kind: KindConv, Filters: 32, Kernel: 5, Stride: 1, Padding: tensor.PaddingSame, Activation: ReLU},
		{Name: "pool1", Kind: KindMaxPool, Kernel: 2, Stride: 2, Padding: tensor.PaddingSame},
		{Name: "conv2", Kind: KindConv, Filters: 64, Kernel: 5, Stride: 1, Padding: tensor.PaddingSame, Activation: ReLU},
		{Name: "pool2", Kind: KindMaxPool, Kernel: 2, Stride: 2, Padding: tensor.PaddingSame},
		{Name: "flatten", Kind: KindFlatten},
		{Name: "dense", Kind: KindDense, Units: 1024, Activation: ReLU},
		{Name: "dropout", Kind: KindDropout, Rate: p.DropoutRate},
		{Name: "logits", Kind: KindDense, Units: dataset.NumClasses},
	}
}

// InputShape is the channels-last image batch shape the network accepts.
func InputShape(batch int) tensor.Shape {
	return tensor.Shape{batch, dataset.ImageHeight, dataset.ImageWidth, dataset.ImageChannels}
}

// OutputShape returns the layer's output shape for a channels-last input.
func (s LayerSpec) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	switch s.Kind {
	case KindConv, KindMaxPool:
		if len(in) != 4 {
			return nil, fmt.Errorf("%s: expected [B, H, W, C] input, got %v", s.Name, in)
		}
		if s.Kernel <= 0 || s.Stride <= 0 {
			return nil, fmt.Errorf("%s: kernel %d and stride %d must be positive", s.Name, s.Kernel, s.Stride)
		}
		h, _ := s.Padding.Window(in[1], s.Kernel, s.Stride)
		w, _ := s.Padding.Window(in[2], s.Kernel, s.Stride)
		if h <= 0 || w <= 0 {
			return nil, fmt.Errorf("%s: %dx%d window does not fit input %v", s.Name, s.Kernel, s.Kernel, in)
		}
		channels := in[3]
		if s.Kind == KindConv {
			if s.Filters <= 0 {
				return nil, fmt.Errorf("%s: filters must be positive, got %d", s.Name, s.Filters)
			}
			channels = s.Filters
		}
		return tensor.Shape{in[0], h, w, channels}, nil

	case KindFlatten:
		if len(in) < 2 {
			return nil, fmt.Errorf("%s: expected at least 2D input, got %v", s.Name, in)
		}
		return tensor.Shape{in[0], in[1:].NumElements()}, nil

	case KindDense:
		if len(in) != 2 {
			return nil, fmt.Errorf("%s: expected [B, features] input, got %v", s.Name, in)
		}
		if s.Units <= 0 {
			return nil, fmt.Errorf("%s: units must be positive, got %d", s.Name, s.Units)
		}
		return tensor.Shape{in[0], s.Units}, nil

	case KindDropout:
		if s.Rate < 0 || s.Rate >= 1 {
			return nil, fmt.Errorf("%s: rate must be in [0, 1), got %v", s.Name, s.Rate)
		}
		return in.Clone(), nil

	default:
		return nil, fmt.Errorf("%s: unknown layer kind %v", s.Name, s.Kind)
	}
}

// InferShapes returns the output shape of every layer in order.
func InferShapes(specs []LayerSpec, in tensor.Shape) ([]tensor.Shape, error) {
	shapes := make([]tensor.Shape, 0, len(specs))
	cur := in
	for _, s := range specs {
		out, err := s.OutputShape(cur)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, out)
		cur = out
	}
	return shapes, nil
}
