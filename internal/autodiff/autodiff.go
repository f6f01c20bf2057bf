// Package autodiff implements reverse-mode automatic differentiation using
// the decorator pattern.
//
// AutodiffBackend wraps a compute backend and, while its GradientTape is
// recording, appends an ops.Operation for every differentiable call. The
// tape is then walked in reverse to produce gradients.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := model(x)
//	grads := autodiff.Backward(loss, backend)
//	backend.Tape().Clear()
package autodiff

import (
	"github.com/born-ml/mnist-estimator/internal/autodiff/ops"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// AutodiffBackend wraps a Backend and records operations in a GradientTape.
//
// Type parameter B must satisfy the tensor.Backend interface.
type AutodiffBackend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Add(a, c)
	b.tape.Record(ops.NewAddOp(a, c, out))
	return out
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Sub(a, c)
	b.tape.Record(ops.NewSubOp(a, c, out))
	return out
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Mul(a, c)
	b.tape.Record(ops.NewMulOp(a, c, out))
	return out
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	out := b.inner.MulScalar(x, scalar)
	b.tape.Record(ops.NewMulScalarOp(x, out, scalar))
	return out
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(a, c *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.MatMul(a, c)
	b.tape.Record(ops.NewMatMulOp(a, c, out))
	return out
}

// Reshape reshapes and records the operation.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	out := b.inner.Reshape(t, newShape)
	b.tape.Record(ops.NewReshapeOp(t, out))
	return out
}

// Transpose permutes axes and records the operation.
func (b *AutodiffBackend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	if len(axes) == 0 {
		n := len(t.Shape())
		axes = make([]int, n)
		for i := range axes {
			axes[i] = n - 1 - i
		}
	}
	out := b.inner.Transpose(t, axes...)
	b.tape.Record(ops.NewTransposeOp(t, out, axes))
	return out
}

// SumDim sums along dim and records the operation.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	out := b.inner.SumDim(x, dim, keepDim)
	b.tape.Record(ops.NewSumDimOp(x, out, dim))
	return out
}

// Conv2D performs 2D convolution and records the operation.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, stride int, padding tensor.Padding) *tensor.RawTensor {
	out := b.inner.Conv2D(input, kernel, stride, padding)
	b.tape.Record(ops.NewConv2DOp(input, kernel, out, stride, padding))
	return out
}

// Conv2DInputBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride int, padding tensor.Padding) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, stride, padding)
}

// Conv2DKernelBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride int, padding tensor.Padding) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, stride, padding)
}

// MaxPool2D performs max pooling and records the operation with its argmax
// positions.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int, padding tensor.Padding) (*tensor.RawTensor, []int) {
	out, maxIndices := b.inner.MaxPool2D(input, kernelSize, stride, padding)
	b.tape.Record(ops.NewMaxPool2DOp(input, out, maxIndices))
	return out, maxIndices
}

// MaxPool2DBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, grad, maxIndices)
}

// ReLU applies max(0, x) and records the operation.
func (b *AutodiffBackend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.ReLU(x)
	b.tape.Record(ops.NewReLUOp(x, out))
	return out
}

// Softmax applies softmax over the last dimension and records the operation.
func (b *AutodiffBackend[B]) Softmax(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Softmax(x)
	b.tape.Record(ops.NewSoftmaxOp(x, out))
	return out
}

// SoftmaxCrossEntropy computes the mean loss and records the operation.
func (b *AutodiffBackend[B]) SoftmaxCrossEntropy(logits, labels *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.SoftmaxCrossEntropy(logits, labels)
	b.tape.Record(ops.NewSoftmaxCrossEntropyOp(logits, labels, out))
	return out
}

// Argmax is not differentiable and is never recorded.
func (b *AutodiffBackend[B]) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Argmax(x, dim)
}
