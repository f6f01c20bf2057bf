package tensor

// Backend defines the operations a compute backend provides.
//
// All spatial operations use the channels-first layout [N, C, H, W] and
// kernels shaped [C_out, C_in, K_h, K_w]. Operations panic on shape or dtype
// errors: those are programming errors, not data errors.
type Backend interface {
	// Element-wise binary operations (with broadcasting).
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	MulScalar(x *RawTensor, scalar float32) *RawTensor

	// MatMul multiplies two 2D tensors: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// SumDim sums along one dimension.
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Convolution and its gradients with respect to input and kernel.
	Conv2D(input, kernel *RawTensor, stride int, padding Padding) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride int, padding Padding) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride int, padding Padding) *RawTensor

	// MaxPool2D returns the pooled tensor and, for every output element, the
	// flat input index that held the maximum. MaxPool2DBackward routes the
	// output gradient back through those indices.
	MaxPool2D(input *RawTensor, kernelSize, stride int, padding Padding) (*RawTensor, []int)
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int) *RawTensor

	// Activations over [batch, classes] for Softmax.
	ReLU(x *RawTensor) *RawTensor
	Softmax(x *RawTensor) *RawTensor

	// SoftmaxCrossEntropy returns the scalar mean of
	// -sum(labels * log_softmax(logits)) over the batch.
	SoftmaxCrossEntropy(logits, labels *RawTensor) *RawTensor

	// Argmax returns int32 indices of the maximum along dim.
	Argmax(x *RawTensor, dim int) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
