package serialization

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

func testStateDict(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	w, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(w.AsFloat32(), []float32{1, 2, 3, 4, 5, 6})

	step, err := tensor.NewRaw(tensor.Shape{1}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	step.AsInt64()[0] = 42

	return map[string]*tensor.RawTensor{"dense.weight": w, "adam.t": step}
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.born")
	header := Header{
		ModelType: "MNISTClassifier",
		CheckpointMeta: &CheckpointMeta{
			Step:          20,
			Loss:          0.5,
			RunID:         "run-1",
			OptimizerType: "Adam",
		},
	}

	require.NoError(t, WriteFile(path, testStateDict(t), header))

	file, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, file.Header.FormatVersion)
	assert.Equal(t, Producer, file.Header.Producer)
	require.NotNil(t, file.Header.CheckpointMeta)
	assert.Equal(t, int64(20), file.Header.CheckpointMeta.Step)
	assert.Equal(t, "run-1", file.Header.CheckpointMeta.RunID)

	w, err := file.Tensor("dense.weight")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.AsFloat32())

	step, err := file.Tensor("adam.t")
	require.NoError(t, err)
	assert.Equal(t, int64(42), step.AsInt64()[0])

	_, err = file.Tensor("missing")
	assert.ErrorIs(t, err, ErrTensorNotFound)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEncodeIsDeterministic(t *testing.T) {
	dict := testStateDict(t)
	header := Header{ModelType: "m", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}

	var a, b bytes.Buffer
	require.NoError(t, Encode(&a, dict, header))
	require.NoError(t, Encode(&b, dict, header))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestDecodeDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testStateDict(t), Header{}))

	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF

	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := make([]byte, FixedHeaderSize)
	copy(data, "NOPE")
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testStateDict(t), Header{}))

	_, err := Decode(bytes.NewReader(buf.Bytes()[:buf.Len()-4]))
	if err == nil {
		t.Fatal("expected error for truncated data")
	}
}

func TestValidateTensorName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"conv1.kernel", false},
		{"adam.m.dense1.weight", false},
		{"", true},
		{"../etc/passwd", true},
		{"a/b", true},
	}
	for _, tt := range tests {
		err := ValidateTensorName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTensorName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidateTensorOffsetsOverlap(t *testing.T) {
	tensors := []TensorMeta{
		{Name: "a", Offset: 0, Size: 16},
		{Name: "b", Offset: 8, Size: 16},
	}
	err := ValidateTensorOffsets(tensors, 64)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "offset_overlap", vErr.Type)

	err = ValidateTensorOffsets([]TensorMeta{{Name: "a", Offset: 0, Size: 128}}, 64)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "out_of_bounds", vErr.Type)
}
