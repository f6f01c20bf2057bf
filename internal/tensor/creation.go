package tensor

import (
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	raw, err := NewRaw(shape, inferDataType[T](), b.Device())
	if err != nil {
		panic(err)
	}
	return New[T, B](raw, b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, T(1), b)
}

// Uniform creates a float32 tensor with values drawn uniformly from
// [low, high) using rng.
func Uniform[B Backend](shape Shape, low, high float32, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	span := high - low
	for i := range data {
		data[i] = low + span*rng.Float32()
	}
	return t
}
