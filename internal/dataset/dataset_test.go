package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mnist-estimator/internal/tfrecord"
)

// makeExamples returns n examples whose first pixel is their index.
func makeExamples(start, n int) []Example {
	out := make([]Example, n)
	for i := range out {
		img := make([]float32, ImagePixels)
		img[0] = float32(start + i)
		img[ImagePixels-1] = 0.5
		out[i] = Example{Label: int32((start + i) % NumClasses), Image: img}
	}
	return out
}

func writeFixture(t *testing.T, dir, name string, examples []Example) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, WriteFile(path, examples))
	return path
}

func writeRawRecords(t *testing.T, path string, records ...[]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := tfrecord.NewWriter(f)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Flush())
}

// firstPixels extracts the example ids of a batch.
func firstPixels(b Batch) []float32 {
	data := b.Images.AsFloat32()
	out := make([]float32, b.Size())
	for i := range out {
		out[i] = data[i*ImagePixels]
	}
	return out
}

func TestDecodeExampleRoundTrip(t *testing.T) {
	for _, ex := range makeExamples(0, NumClasses) {
		got, err := DecodeExample(EncodeExample(ex))
		require.NoError(t, err)
		assert.Equal(t, ex.Label, got.Label)
		assert.Len(t, got.Image, ImagePixels)
		assert.Equal(t, ex.Image, got.Image)
	}
}

func TestDecodeExampleErrors(t *testing.T) {
	image := EncodeExample(makeExamples(0, 1)[0])
	parsed, err := tfrecord.ParseExample(image)
	require.NoError(t, err)
	rawImage := parsed.Features[ImageFeature].Bytes[0]

	encode := func(features map[string]tfrecord.Feature) []byte {
		return (&tfrecord.Example{Features: features}).Marshal()
	}

	tests := []struct {
		name   string
		record []byte
		want   error
	}{
		{"missing image", encode(map[string]tfrecord.Feature{
			LabelFeature: tfrecord.Int64Feature(3),
		}), ErrSchemaMismatch},
		{"missing label", encode(map[string]tfrecord.Feature{
			ImageFeature: tfrecord.BytesFeature(rawImage),
		}), ErrSchemaMismatch},
		{"label as float", encode(map[string]tfrecord.Feature{
			LabelFeature: tfrecord.FloatFeature(3),
			ImageFeature: tfrecord.BytesFeature(rawImage),
		}), ErrSchemaMismatch},
		{"two labels", encode(map[string]tfrecord.Feature{
			LabelFeature: tfrecord.Int64Feature(3, 4),
			ImageFeature: tfrecord.BytesFeature(rawImage),
		}), ErrSchemaMismatch},
		{"label out of range", encode(map[string]tfrecord.Feature{
			LabelFeature: tfrecord.Int64Feature(10),
			ImageFeature: tfrecord.BytesFeature(rawImage),
		}), ErrSchemaMismatch},
		{"short image", encode(map[string]tfrecord.Feature{
			LabelFeature: tfrecord.Int64Feature(3),
			ImageFeature: tfrecord.BytesFeature(rawImage[:len(rawImage)-4]),
		}), ErrShapeMismatch},
		{"ragged image", encode(map[string]tfrecord.Feature{
			LabelFeature: tfrecord.Int64Feature(3),
			ImageFeature: tfrecord.BytesFeature(rawImage[:len(rawImage)-1]),
		}), ErrShapeMismatch},
		{"not a protobuf", []byte{0x0a, 0xff, 0xff}, ErrSchemaMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeExample(tt.record)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeExample() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "train-2.tfrecords", makeExamples(0, 1))
	writeFixture(t, dir, "train-1.tfrecords", makeExamples(0, 1))
	single := writeFixture(t, dir, "validation.tfrecords", makeExamples(0, 1))

	files, err := ResolveFiles(filepath.Join(dir, "train-*.tfrecords"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "train-1.tfrecords"),
		filepath.Join(dir, "train-2.tfrecords"),
	}, files)

	files, err = ResolveFiles(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, files)

	_, err = ResolveFiles(filepath.Join(dir, "test-*.tfrecords"))
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = ResolveFiles(filepath.Join(dir, "missing.tfrecords"))
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = ResolveFiles(dir)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLiteralPathsWithGlobCharacters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnist[v1]")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	validation := writeFixture(t, dir, "validation.tfrecords", makeExamples(0, 1))
	writeFixture(t, dir, "train-1.tfrecords", makeExamples(0, 1))
	writeFixture(t, dir, "train-0.tfrecords", makeExamples(0, 1))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "train-dir.tfrecords"), 0o755))

	require.NoError(t, RequireFile(validation))
	assert.ErrorIs(t, RequireFile(filepath.Join(dir, "test.tfrecords")), ErrFileNotFound)
	assert.ErrorIs(t, RequireFile(dir), ErrFileNotFound)

	files, err := GlobDir(dir, "train-*.tfrecords")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "train-0.tfrecords"),
		filepath.Join(dir, "train-1.tfrecords"),
	}, files)

	_, err = GlobDir(dir, "eval-*.tfrecords")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = GlobDir(filepath.Join(dir, "missing"), "train-*.tfrecords")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = GlobDir(dir, "[")
	assert.Error(t, err)

	p, err := NewPipeline([]string{validation}, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{validation}, p.Files())
}

func TestNewPipelineValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.tfrecords", makeExamples(0, 2))

	_, err := NewPipeline([]string{path}, 0, false)
	assert.Error(t, err)

	_, err = NewPipeline([]string{path, filepath.Join(dir, "nope.tfrecords")}, 1, false)
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = NewPipeline(nil, 1, false)
	assert.ErrorIs(t, err, ErrFileNotFound)

	p, err := NewPipeline([]string{path}, 4, false)
	require.NoError(t, err)
	assert.Equal(t, 4, p.BatchSize())
	assert.Equal(t, []string{path}, p.Files())
}

func TestPipelineBatchLayout(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.tfrecords", makeExamples(0, 4))

	p, err := NewPipeline([]string{path}, 4, false)
	require.NoError(t, err)
	it := p.Iterator()
	defer it.Close()

	b, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 28, 28, 1}, []int(b.Images.Shape()))
	assert.Equal(t, []int{4, 10}, []int(b.Labels.Shape()))
	assert.Equal(t, []int32{0, 1, 2, 3}, b.Classes())

	labels := b.Labels.AsFloat32()
	for row := 0; row < 4; row++ {
		var sum float32
		for c := 0; c < NumClasses; c++ {
			sum += labels[row*NumClasses+c]
		}
		assert.Equal(t, float32(1), sum, "row %d is one-hot", row)
	}
}

func TestPipelineRepeatsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFixture(t, dir, "train-0.tfrecords", makeExamples(0, 3))
	b := writeFixture(t, dir, "train-1.tfrecords", makeExamples(3, 2))

	p, err := NewPipeline([]string{a, b}, 2, false)
	require.NoError(t, err)
	it := p.Iterator()
	defer it.Close()

	var got []float32
	for i := 0; i < 5; i++ {
		batch, err := it.Next()
		require.NoError(t, err)
		got = append(got, firstPixels(batch)...)
	}
	// Two passes over five examples; the third batch spans the boundary.
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 0, 1, 2, 3, 4}, got)
	assert.Equal(t, 1, it.Epoch())
}

func TestPipelineDeterministicPasses(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFixture(t, dir, "train-0.tfrecords", makeExamples(0, 7)),
		writeFixture(t, dir, "train-1.tfrecords", makeExamples(7, 6)),
	}

	p, err := NewPipeline(files, 4, false)
	require.NoError(t, err)

	collect := func() ([]float32, []int32) {
		it := p.Iterator()
		defer it.Close()
		var ids []float32
		var labels []int32
		for i := 0; i < 13; i++ { // 52 examples, four passes
			batch, err := it.Next()
			require.NoError(t, err)
			ids = append(ids, firstPixels(batch)...)
			labels = append(labels, batch.Classes()...)
		}
		return ids, labels
	}

	ids1, labels1 := collect()
	ids2, labels2 := collect()
	assert.Equal(t, ids1, ids2)
	assert.Equal(t, labels1, labels2)
}

func TestPipelineShuffleIsPermutationPerPass(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "train.tfrecords", makeExamples(0, 20))

	p, err := NewPipeline([]string{path}, 20, true, WithSeed(42), WithShuffleBuffer(8))
	require.NoError(t, err)

	it := p.Iterator()
	defer it.Close()

	inOrder := make([]float32, 20)
	for i := range inOrder {
		inOrder[i] = float32(i)
	}

	var firstPass []float32
	for pass := 0; pass < 3; pass++ {
		batch, err := it.Next()
		require.NoError(t, err)
		ids := firstPixels(batch)
		if pass == 0 {
			firstPass = append([]float32(nil), ids...)
		}

		sorted := append([]float32(nil), ids...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		assert.Equal(t, inOrder, sorted, "pass %d is a permutation", pass)
	}
	assert.NotEqual(t, inOrder, firstPass, "shuffled order differs from file order")

	// Same seed, same order.
	again := p.Iterator()
	defer again.Close()
	batch, err := again.Next()
	require.NoError(t, err)
	assert.Equal(t, firstPass, firstPixels(batch))
}

func TestPipelineMalformedRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tfrecords")
	good := EncodeExample(makeExamples(0, 1)[0])
	bad := (&tfrecord.Example{Features: map[string]tfrecord.Feature{
		LabelFeature: tfrecord.Int64Feature(1),
	}}).Marshal()
	writeRawRecords(t, path, good, bad, good)

	p, err := NewPipeline([]string{path}, 3, false)
	require.NoError(t, err)
	it := p.Iterator()
	defer it.Close()

	batch, err := it.Next()
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Nil(t, batch.Images, "no partial batch is emitted")
}

func TestPipelineEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.tfrecords")
	writeRawRecords(t, path)

	p, err := NewPipeline([]string{path}, 1, false)
	require.NoError(t, err)
	it := p.Iterator()
	defer it.Close()

	_, err = it.Next()
	assert.ErrorIs(t, err, ErrFileNotFound)
}
