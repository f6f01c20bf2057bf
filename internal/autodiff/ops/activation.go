package ops

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// ReLUOp records y = max(0, x). The gradient passes where x > 0.
type ReLUOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Backward computes grad * 1[x > 0].
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask, err := tensor.NewRaw(op.input.Shape(), tensor.Float32, backend.Device())
	if err != nil {
		panic(fmt.Sprintf("relu backward: %v", err))
	}
	m := mask.AsFloat32()
	for i, v := range op.input.AsFloat32() {
		if v > 0 {
			m[i] = 1
		}
	}
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// Inputs returns x.
func (op *ReLUOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns max(0, x).
func (op *ReLUOp) Output() *tensor.RawTensor { return op.output }

// SoftmaxOp records y = softmax(x) over the last dimension of a 2D tensor.
//
//	∂L/∂x = y * (∂L/∂y - sum(∂L/∂y * y, dim=-1))
type SoftmaxOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSoftmaxOp creates a new SoftmaxOp.
func NewSoftmaxOp(input, output *tensor.RawTensor) *SoftmaxOp {
	return &SoftmaxOp{input: input, output: output}
}

// Backward computes the softmax Jacobian-vector product.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	dot := backend.SumDim(backend.Mul(outputGrad, y), 1, true)
	return []*tensor.RawTensor{backend.Mul(y, backend.Sub(outputGrad, dot))}
}

// Inputs returns x.
func (op *SoftmaxOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns softmax(x).
func (op *SoftmaxOp) Output() *tensor.RawTensor { return op.output }

// SoftmaxCrossEntropyOp records the mean softmax cross-entropy of logits
// [B, K] against one-hot labels [B, K]. Labels receive no gradient.
//
//	∂L/∂logits = (softmax(logits) - labels) / B
type SoftmaxCrossEntropyOp struct {
	logits *tensor.RawTensor
	labels *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSoftmaxCrossEntropyOp creates a new SoftmaxCrossEntropyOp.
func NewSoftmaxCrossEntropyOp(logits, labels, output *tensor.RawTensor) *SoftmaxCrossEntropyOp {
	return &SoftmaxCrossEntropyOp{logits: logits, labels: labels, output: output}
}

// Backward computes the logits gradient scaled by the scalar output gradient.
func (op *SoftmaxCrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	batch := op.logits.Shape()[0]
	scale := outputGrad.AsFloat32()[0] / float32(batch)

	diff := backend.Sub(backend.Softmax(op.logits), op.labels)
	return []*tensor.RawTensor{backend.MulScalar(diff, scale), nil}
}

// Inputs returns [logits, labels].
func (op *SoftmaxCrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits, op.labels}
}

// Output returns the scalar loss.
func (op *SoftmaxCrossEntropyOp) Output() *tensor.RawTensor { return op.output }
