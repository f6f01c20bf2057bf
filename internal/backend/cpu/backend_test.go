package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mnist-estimator/internal/parallel"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

func newTestBackend() *CPUBackend {
	return New()
}

func rawFrom(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), values)
	return raw
}

func randomRaw(t *testing.T, rng *rand.Rand, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range raw.AsFloat32() {
		raw.AsFloat32()[i] = rng.Float32()*2 - 1
	}
	return raw
}

func float32SliceEqual(a, b []float32) bool {
	const epsilon = 1e-5
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > epsilon {
			return false
		}
	}
	return true
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend.Name() != "CPU" {
		t.Errorf("Expected name 'CPU', got '%s'", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Expected device CPU, got %v", backend.Device())
	}
}

func TestCPUBackend_AddBroadcast(t *testing.T) {
	backend := newTestBackend()

	a := rawFrom(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	bias := rawFrom(t, tensor.Shape{1, 3}, 10, 20, 30)

	result := backend.Add(a, bias)
	assert.Equal(t, tensor.Shape{2, 3}, result.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, result.AsFloat32())

	// Inputs are never modified.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, a.AsFloat32())
}

func TestCPUBackend_SubMul(t *testing.T) {
	backend := newTestBackend()
	a := rawFrom(t, tensor.Shape{4}, 1, 2, 3, 4)
	b := rawFrom(t, tensor.Shape{4}, 4, 3, 2, 1)

	assert.Equal(t, []float32{-3, -1, 1, 3}, backend.Sub(a, b).AsFloat32())
	assert.Equal(t, []float32{4, 6, 6, 4}, backend.Mul(a, b).AsFloat32())
	assert.Equal(t, []float32{0.5, 1, 1.5, 2}, backend.MulScalar(a, 0.5).AsFloat32())
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})

	a := rawFrom(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := rawFrom(t, tensor.Shape{3, 2}, 7, 8, 9, 10, 11, 12)

	result := backend.MatMul(a, b)
	assert.Equal(t, tensor.Shape{2, 2}, result.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, result.AsFloat32())

	assert.Panics(t, func() { backend.MatMul(a, a) })
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := newTestBackend()

	t.Run("2D", func(t *testing.T) {
		a := rawFrom(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
		result := backend.Transpose(a)
		assert.Equal(t, tensor.Shape{3, 2}, result.Shape())
		assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, result.AsFloat32())
	})

	t.Run("NHWCToNCHW", func(t *testing.T) {
		// [1, 2, 2, 2] with channel as the fastest axis.
		a := rawFrom(t, tensor.Shape{1, 2, 2, 2}, 1, 10, 2, 20, 3, 30, 4, 40)
		result := backend.Transpose(a, 0, 3, 1, 2)
		assert.Equal(t, tensor.Shape{1, 2, 2, 2}, result.Shape())
		assert.Equal(t, []float32{1, 2, 3, 4, 10, 20, 30, 40}, result.AsFloat32())
	})
}

func TestCPUBackend_ReshapeSharesData(t *testing.T) {
	backend := newTestBackend()
	a := rawFrom(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	r := backend.Reshape(a, tensor.Shape{4})
	assert.Equal(t, tensor.Shape{4}, r.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, r.AsFloat32())
	assert.Panics(t, func() { backend.Reshape(a, tensor.Shape{3}) })
}

func TestCPUBackend_SumDimArgmax(t *testing.T) {
	backend := newTestBackend()
	a := rawFrom(t, tensor.Shape{2, 3}, 1, 5, 3, 9, 2, 9)

	sum0 := backend.SumDim(a, 0, false)
	assert.Equal(t, tensor.Shape{3}, sum0.Shape())
	assert.Equal(t, []float32{10, 7, 12}, sum0.AsFloat32())

	sum1 := backend.SumDim(a, 1, true)
	assert.Equal(t, tensor.Shape{2, 1}, sum1.Shape())
	assert.Equal(t, []float32{9, 20}, sum1.AsFloat32())

	arg := backend.Argmax(a, 1)
	assert.Equal(t, tensor.Int32, arg.DType())
	// Ties resolve to the lowest index.
	assert.Equal(t, []int32{1, 0}, arg.AsInt32())
}

func TestCPUBackend_ReLU(t *testing.T) {
	backend := newTestBackend()
	a := rawFrom(t, tensor.Shape{4}, -1, 0, 0.5, 2)
	assert.Equal(t, []float32{0, 0, 0.5, 2}, backend.ReLU(a).AsFloat32())
}

func TestCPUBackend_Softmax(t *testing.T) {
	backend := newTestBackend()
	a := rawFrom(t, tensor.Shape{2, 3}, 1, 2, 3, 1000, 1000, 1000)

	result := backend.Softmax(a).AsFloat32()
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += result[r*3+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	// Large logits do not overflow.
	assert.InDelta(t, 1.0/3.0, result[3], 1e-5)
	assert.True(t, result[2] > result[1] && result[1] > result[0])
}

func TestCPUBackend_SoftmaxCrossEntropy(t *testing.T) {
	backend := newTestBackend()

	logits := rawFrom(t, tensor.Shape{2, 10})
	labels := rawFrom(t, tensor.Shape{2, 10})
	labels.AsFloat32()[3] = 1
	labels.AsFloat32()[10+7] = 1

	loss := backend.SoftmaxCrossEntropy(logits, labels)
	assert.Equal(t, 0, len(loss.Shape()))
	assert.InDelta(t, math.Log(10), float64(loss.AsFloat32()[0]), 1e-5)

	// A confident correct prediction has near-zero loss.
	logits.AsFloat32()[3] = 50
	logits.AsFloat32()[10+7] = 50
	loss = backend.SoftmaxCrossEntropy(logits, labels)
	assert.InDelta(t, 0.0, float64(loss.AsFloat32()[0]), 1e-5)
}

func TestCPUBackend_Conv2DSamePadding(t *testing.T) {
	backend := newTestBackend()

	input := rawFrom(t, tensor.Shape{1, 1, 3, 3}, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	kernel := rawFrom(t, tensor.Shape{1, 1, 3, 3}, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	out := backend.Conv2D(input, kernel, 1, tensor.PaddingSame)
	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, out.Shape())
	assert.Equal(t, []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}, out.AsFloat32())

	valid := backend.Conv2D(input, kernel, 1, tensor.PaddingValid)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, valid.Shape())
	assert.Equal(t, []float32{9}, valid.AsFloat32())
}

func TestCPUBackend_Conv2DMultiChannel(t *testing.T) {
	backend := newTestBackend()

	// Two input channels, two filters: filter 0 picks channel 0, filter 1 sums both.
	input := rawFrom(t, tensor.Shape{1, 2, 2, 2}, 1, 2, 3, 4, 10, 20, 30, 40)
	kernel := rawFrom(t, tensor.Shape{2, 2, 1, 1}, 1, 0, 1, 1)

	out := backend.Conv2D(input, kernel, 1, tensor.PaddingSame)
	assert.Equal(t, tensor.Shape{1, 2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 11, 22, 33, 44}, out.AsFloat32())
}

// TestCPUBackend_Conv2DBackwardNumerical checks the analytic conv gradients of
// L = Σ conv(input, kernel) * weights against central differences.
func TestCPUBackend_Conv2DBackwardNumerical(t *testing.T) {
	backend := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 3, MinChunkSize: 1})
	rng := rand.New(rand.NewSource(7))

	for _, padding := range []tensor.Padding{tensor.PaddingSame, tensor.PaddingValid} {
		for _, stride := range []int{1, 2} {
			input := randomRaw(t, rng, tensor.Shape{3, 2, 5, 5})
			kernel := randomRaw(t, rng, tensor.Shape{4, 2, 3, 3})
			out := backend.Conv2D(input, kernel, stride, padding)
			weights := randomRaw(t, rng, out.Shape())

			loss := func() float64 {
				o := backend.Conv2D(input, kernel, stride, padding).AsFloat32()
				var s float64
				for i, v := range o {
					s += float64(v) * float64(weights.AsFloat32()[i])
				}
				return s
			}

			dIn := backend.Conv2DInputBackward(input, kernel, weights, stride, padding)
			dK := backend.Conv2DKernelBackward(input, kernel, weights, stride, padding)

			checkNumerical(t, input.AsFloat32(), dIn.AsFloat32(), loss)
			checkNumerical(t, kernel.AsFloat32(), dK.AsFloat32(), loss)
		}
	}
}

func checkNumerical(t *testing.T, param, grad []float32, loss func() float64) {
	t.Helper()
	const eps = 1e-2
	for _, i := range []int{0, len(param) / 3, len(param) / 2, len(param) - 1} {
		orig := param[i]
		param[i] = orig + eps
		plus := loss()
		param[i] = orig - eps
		minus := loss()
		param[i] = orig

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, float64(grad[i]), 1e-2, "index %d", i)
	}
}

func TestCPUBackend_MaxPool2D(t *testing.T) {
	backend := newTestBackend()

	input := rawFrom(t, tensor.Shape{1, 1, 4, 4},
		1, 2, 5, 6,
		3, 4, 7, 8,
		9, 10, 13, 14,
		11, 12, 15, 16,
	)

	out, idx := backend.MaxPool2D(input, 2, 2, tensor.PaddingSame)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{4, 8, 12, 16}, out.AsFloat32())
	assert.Equal(t, []int{5, 7, 13, 15}, idx)

	grad := rawFrom(t, tensor.Shape{1, 1, 2, 2}, 1, 2, 3, 4)
	dIn := backend.MaxPool2DBackward(input, grad, idx)
	expected := []float32{
		0, 0, 0, 0,
		0, 1, 0, 2,
		0, 0, 0, 0,
		0, 3, 0, 4,
	}
	if !float32SliceEqual(expected, dIn.AsFloat32()) {
		t.Errorf("Expected %v, got %v", expected, dIn.AsFloat32())
	}
}

func TestCPUBackend_MaxPool2DSameOddInput(t *testing.T) {
	backend := newTestBackend()

	// 3x3 input pooled 2x2/2 with same padding: the last row and column are
	// partial windows that ignore the padding.
	input := rawFrom(t, tensor.Shape{1, 1, 3, 3},
		-5, -4, -3,
		-2, -1, -9,
		-8, -7, -6,
	)
	out, idx := backend.MaxPool2D(input, 2, 2, tensor.PaddingSame)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{-1, -3, -7, -6}, out.AsFloat32())
	assert.Equal(t, []int{4, 2, 7, 8}, idx)
}
