package ops

import "github.com/born-ml/mnist-estimator/internal/tensor"

// MatMulOp records C = A @ B.
//
//	∂L/∂A = ∂L/∂C @ B^T
//	∂L/∂B = A^T @ ∂L/∂C
type MatMulOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

// Backward computes input gradients for matrix multiplication.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	gradA := backend.MatMul(outputGrad, backend.Transpose(b, 1, 0))
	gradB := backend.MatMul(backend.Transpose(a, 1, 0), outputGrad)
	return []*tensor.RawTensor{gradA, gradB}
}

// Inputs returns [A, B].
func (op *MatMulOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns A @ B.
func (op *MatMulOp) Output() *tensor.RawTensor { return op.output }
