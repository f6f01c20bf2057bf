package nn

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// SoftmaxCrossEntropy returns the scalar mean over the batch of
// -sum(labels * log_softmax(logits)). logits and labels are [batch, classes]
// with one-hot labels.
//
// The log-sum-exp form keeps the loss finite for large logits.
func SoftmaxCrossEntropy[B tensor.Backend](logits, labels *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !logits.Shape().Equal(labels.Shape()) || len(logits.Shape()) != 2 {
		panic(fmt.Sprintf("softmax cross-entropy: logits %v and labels %v must be the same 2D shape",
			logits.Shape(), labels.Shape()))
	}
	backend := logits.Backend()
	return tensor.New[float32](backend.SoftmaxCrossEntropy(logits.Raw(), labels.Raw()), backend)
}

// Accuracy returns the fraction of rows where argmax(logits) equals
// argmax(labels).
func Accuracy[B tensor.Backend](logits, labels *tensor.Tensor[float32, B]) float64 {
	predicted := logits.Argmax(1).Data()
	expected := labels.Argmax(1).Data()
	if len(predicted) == 0 {
		return 0
	}

	correct := 0
	for i := range predicted {
		if predicted[i] == expected[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(predicted))
}
