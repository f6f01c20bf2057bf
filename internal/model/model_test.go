package model_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mnist-estimator/internal/autodiff"
	"github.com/born-ml/mnist-estimator/internal/backend/cpu"
	"github.com/born-ml/mnist-estimator/internal/model"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() Backend {
	return autodiff.New(cpu.New())
}

func TestInferShapes(t *testing.T) {
	shapes, err := model.InferShapes(model.Layers(model.DefaultParams()), model.InputShape(8))
	require.NoError(t, err)

	want := []tensor.Shape{
		{8, 28, 28, 32},
		{8, 14, 14, 32},
		{8, 14, 14, 64},
		{8, 7, 7, 64},
		{8, 3136},
		{8, 1024},
		{8, 1024},
		{8, 10},
	}
	require.Len(t, shapes, len(want))
	for i := range want {
		if !want[i].Equal(shapes[i]) {
			t.Errorf("layer %d: expected shape %v, got %v", i, want[i], shapes[i])
		}
	}
}

func TestLayersUseDropoutRate(t *testing.T) {
	specs := model.Layers(model.Params{LearningRate: 1e-3, DropoutRate: 0.25})
	require.Len(t, specs, 8)

	kinds := make([]model.Kind, len(specs))
	for i, s := range specs {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []model.Kind{
		model.KindConv, model.KindMaxPool, model.KindConv, model.KindMaxPool,
		model.KindFlatten, model.KindDense, model.KindDropout, model.KindDense,
	}, kinds)
	assert.Equal(t, float32(0.25), specs[6].Rate)
	assert.Equal(t, model.Linear, specs[7].Activation)
}

func TestOutputShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		spec model.LayerSpec
		in   tensor.Shape
	}{
		{"conv on 2D", model.LayerSpec{Name: "c", Kind: model.KindConv, Filters: 4, Kernel: 3, Stride: 1}, tensor.Shape{1, 10}},
		{"conv without filters", model.LayerSpec{Name: "c", Kind: model.KindConv, Kernel: 3, Stride: 1}, tensor.Shape{1, 8, 8, 1}},
		{"valid window too large", model.LayerSpec{Name: "p", Kind: model.KindMaxPool, Kernel: 9, Stride: 1, Padding: tensor.PaddingValid}, tensor.Shape{1, 8, 8, 1}},
		{"dense on 4D", model.LayerSpec{Name: "d", Kind: model.KindDense, Units: 3}, tensor.Shape{1, 2, 2, 1}},
		{"dropout rate 1", model.LayerSpec{Name: "x", Kind: model.KindDropout, Rate: 1}, tensor.Shape{1, 4}},
		{"unknown kind", model.LayerSpec{Name: "?"}, tensor.Shape{1, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.OutputShape(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		params  model.Params
		wantErr bool
	}{
		{model.DefaultParams(), false},
		{model.Params{LearningRate: 0.1, DropoutRate: 0}, false},
		{model.Params{LearningRate: 0, DropoutRate: 0.4}, true},
		{model.Params{LearningRate: -1e-3, DropoutRate: 0.4}, true},
		{model.Params{LearningRate: float32(math.Inf(1)), DropoutRate: 0.4}, true},
		{model.Params{LearningRate: 1e-3, DropoutRate: 1}, true},
		{model.Params{LearningRate: 1e-3, DropoutRate: -0.1}, true},
	}

	for _, tt := range tests {
		err := tt.params.Validate()
		if tt.wantErr != (err != nil) {
			t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.params, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, model.ErrInvalidParams) {
			t.Errorf("Validate(%+v) error %v is not ErrInvalidParams", tt.params, err)
		}
	}
}

func TestNetworkForwardShape(t *testing.T) {
	backend := newBackend()
	rng := rand.New(rand.NewSource(1))
	net, err := model.Build(model.Layers(model.DefaultParams()), rng, backend)
	require.NoError(t, err)

	for _, batch := range []int{1, 3} {
		images := tensor.Uniform(model.InputShape(batch), 0, 1, rng, backend)
		logits := net.Forward(images, false)
		assert.Equal(t, tensor.Shape{batch, 10}, logits.Shape())
	}

	// Eval mode is deterministic.
	images := tensor.Uniform(model.InputShape(2), 0, 1, rng, backend)
	assert.Equal(t, net.Forward(images, false).Data(), net.Forward(images, false).Data())

	assert.Contains(t, net.String(), "logits")
	assert.Panics(t, func() {
		net.Forward(tensor.Zeros[float32](tensor.Shape{2, 784}, backend), false)
	})
}

func TestNetworkParameters(t *testing.T) {
	backend := newBackend()
	net, err := model.Build(model.Layers(model.DefaultParams()), rand.New(rand.NewSource(2)), backend)
	require.NoError(t, err)

	shapes := make(map[string]tensor.Shape)
	for _, p := range net.Parameters() {
		shapes[p.Name()] = p.Tensor().Shape()
	}
	assert.Equal(t, map[string]tensor.Shape{
		"conv1.kernel":  {32, 1, 5, 5},
		"conv1.bias":    {32},
		"conv2.kernel":  {64, 32, 5, 5},
		"conv2.bias":    {64},
		"dense.kernel":  {3136, 1024},
		"dense.bias":    {1024},
		"logits.kernel": {1024, 10},
		"logits.bias":   {10},
	}, shapes)

	net.SetTrainable(false)
	for _, p := range net.Parameters() {
		assert.False(t, p.Trainable(), p.Name())
	}
	net.SetTrainable(true)
	for _, p := range net.Parameters() {
		assert.True(t, p.Trainable(), p.Name())
	}
}

func TestNetworkFlattensChannelsLast(t *testing.T) {
	backend := newBackend()
	specs := []model.LayerSpec{
		{Name: "conv", Kind: model.KindConv, Filters: 2, Kernel: 1, Stride: 1, Padding: tensor.PaddingSame},
		{Name: "pool", Kind: model.KindMaxPool, Kernel: 1, Stride: 1, Padding: tensor.PaddingSame},
		{Name: "flatten", Kind: model.KindFlatten},
	}
	net, err := model.Build(specs, rand.New(rand.NewSource(3)), backend)
	require.NoError(t, err)

	// Channel 0 copies the pixel, channel 1 doubles it.
	kernel, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2, 1, 1, 1}, backend)
	require.NoError(t, err)
	bias := tensor.Zeros[float32](tensor.Shape{2}, backend)
	require.NoError(t, net.LoadStateDict(map[string]*tensor.RawTensor{
		"conv.kernel": kernel.Raw(),
		"conv.bias":   bias.Raw(),
	}))

	images := tensor.Zeros[float32](model.InputShape(1), backend)
	images.Set(3, 0, 0, 1, 0)
	out := net.Forward(images, false)
	require.Equal(t, tensor.Shape{1, 1568}, out.Shape())

	data := out.Data()
	// Pixel (0, 1) lands at feature index 2*1 + channel.
	assert.Equal(t, float32(3), data[2])
	assert.Equal(t, float32(6), data[3])
	assert.Equal(t, float32(0), data[0])
	assert.Equal(t, float32(0), data[1])
}
