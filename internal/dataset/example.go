// Package dataset turns TFRecord files of MNIST tf.Examples into batches.
//
// Each record carries two features: "label" (int64_list with one value in
// [0, 10)) and "image_raw" (bytes_list with one value holding 784
// little-endian float32 pixels).
package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/mnist-estimator/internal/tfrecord"
)

// Image geometry and label space.
const (
	ImageHeight   = 28
	ImageWidth    = 28
	ImageChannels = 1
	ImagePixels   = ImageHeight * ImageWidth * ImageChannels
	NumClasses    = 10
)

// Feature keys.
const (
	LabelFeature = "label"
	ImageFeature = "image_raw"
)

// Sentinel errors.
var (
	ErrSchemaMismatch = errors.New("record does not match the label/image_raw schema")
	ErrFileNotFound   = errors.New("input file not found")
	ErrShapeMismatch  = errors.New("image does not have 784 float32 pixels")
)

// Example is one decoded record.
type Example struct {
	Label int32
	Image []float32
}

// DecodeExample parses one serialized tf.Example.
func DecodeExample(record []byte) (Example, error) {
	ex, err := tfrecord.ParseExample(record)
	if err != nil {
		return Example{}, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}

	label, ok := ex.Features[LabelFeature]
	if !ok || label.Kind != tfrecord.KindInt64List || len(label.Int64s) != 1 {
		return Example{}, fmt.Errorf("%w: feature %q must be an int64_list with one value", ErrSchemaMismatch, LabelFeature)
	}
	image, ok := ex.Features[ImageFeature]
	if !ok || image.Kind != tfrecord.KindBytesList || len(image.Bytes) != 1 {
		return Example{}, fmt.Errorf("%w: feature %q must be a bytes_list with one value", ErrSchemaMismatch, ImageFeature)
	}

	class := label.Int64s[0]
	if class < 0 || class >= NumClasses {
		return Example{}, fmt.Errorf("%w: label %d outside [0, %d)", ErrSchemaMismatch, class, NumClasses)
	}

	raw := image.Bytes[0]
	if len(raw)%4 != 0 || len(raw)/4 != ImagePixels {
		return Example{}, fmt.Errorf("%w: got %d bytes", ErrShapeMismatch, len(raw))
	}
	pixels := make([]float32, ImagePixels)
	for i := range pixels {
		pixels[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}

	return Example{Label: int32(class), Image: pixels}, nil
}

// EncodeExample serializes ex as a tf.Example with the same schema
// DecodeExample reads.
func EncodeExample(ex Example) []byte {
	raw := make([]byte, 4*len(ex.Image))
	for i, v := range ex.Image {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	msg := &tfrecord.Example{Features: map[string]tfrecord.Feature{
		LabelFeature: tfrecord.Int64Feature(int64(ex.Label)),
		ImageFeature: tfrecord.BytesFeature(raw),
	}}
	return msg.Marshal()
}
