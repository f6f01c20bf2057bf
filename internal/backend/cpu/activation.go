package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("relu", x)
	result := cpu.newFloat32("relu", x.Shape())
	dst := result.AsFloat32()
	for i, v := range x.AsFloat32() {
		if v > 0 {
			dst[i] = v
		}
	}
	return result
}

// Softmax applies softmax over the last dimension of a 2D tensor.
//
//	softmax(x)_i = exp(x_i - max(x)) / Σ_j exp(x_j - max(x))
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("softmax", x)
	requireRank("softmax", "input", x, 2)

	rows, cols := x.Shape()[0], x.Shape()[1]
	result := cpu.newFloat32("softmax", x.Shape())
	src := x.AsFloat32()
	dst := result.AsFloat32()

	for r := 0; r < rows; r++ {
		row := src[r*cols : (r+1)*cols]
		out := dst[r*cols : (r+1)*cols]
		maxVal := rowMax(row)
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - maxVal))
			out[j] = float32(e)
			sum += e
		}
		for j := range out {
			out[j] = float32(float64(out[j]) / sum)
		}
	}
	return result
}

// SoftmaxCrossEntropy computes mean over the batch of
// -Σ_c labels[b,c] * log_softmax(logits)[b,c], using log-sum-exp.
func (cpu *CPUBackend) SoftmaxCrossEntropy(logits, labels *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("softmax_cross_entropy", logits, labels)
	requireRank("softmax_cross_entropy", "logits", logits, 2)
	if !logits.Shape().Equal(labels.Shape()) {
		panic(fmt.Sprintf("softmax_cross_entropy: logits %v and labels %v differ", logits.Shape(), labels.Shape()))
	}

	rows, cols := logits.Shape()[0], logits.Shape()[1]
	lg := logits.AsFloat32()
	lb := labels.AsFloat32()

	var total float64
	for r := 0; r < rows; r++ {
		row := lg[r*cols : (r+1)*cols]
		maxVal := rowMax(row)
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxVal))
		}
		logSumExp := float64(maxVal) + math.Log(sum)
		for c, v := range row {
			if y := lb[r*cols+c]; y != 0 {
				total -= float64(y) * (float64(v) - logSumExp)
			}
		}
	}

	result := cpu.newFloat32("softmax_cross_entropy", tensor.Shape{})
	result.AsFloat32()[0] = float32(total / float64(rows))
	return result
}

func rowMax(row []float32) float32 {
	m := row[0]
	for _, v := range row[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
