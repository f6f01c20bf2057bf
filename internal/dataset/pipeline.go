package dataset

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/born-ml/mnist-estimator/internal/tensor"
	"github.com/born-ml/mnist-estimator/internal/tfrecord"
)

// ShuffleBufferSize is the default reservoir capacity for shuffled pipelines.
const ShuffleBufferSize = 10_000

// Batch is a fixed-size group of examples.
//
//	Images: float32 [B, 28, 28, 1]
//	Labels: float32 [B, 10], one-hot
type Batch struct {
	Images *tensor.RawTensor
	Labels *tensor.RawTensor
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return b.Images.Shape()[0]
}

// Classes returns the integer label of every example.
func (b Batch) Classes() []int32 {
	labels := b.Labels.AsFloat32()
	out := make([]int32, b.Size())
	for i := range out {
		for c := 0; c < NumClasses; c++ {
			if labels[i*NumClasses+c] == 1 {
				out[i] = int32(c)
			}
		}
	}
	return out
}

// Pipeline describes a repeating, optionally shuffled batch stream over
// a set of TFRecord files. It holds no open files; each Iterator does.
type Pipeline struct {
	files      []string
	batchSize  int
	shuffle    bool
	seed       int64
	bufferSize int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSeed fixes the shuffle seed.
func WithSeed(seed int64) Option {
	return func(p *Pipeline) { p.seed = seed }
}

// WithShuffleBuffer overrides the reservoir capacity.
func WithShuffleBuffer(size int) Option {
	return func(p *Pipeline) { p.bufferSize = size }
}

// NewPipeline validates the inputs and returns a Pipeline. Files are read
// in the order given.
func NewPipeline(files []string, batchSize int, shuffle bool, opts ...Option) (*Pipeline, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: empty file list", ErrFileNotFound)
	}
	for _, f := range files {
		if err := RequireFile(f); err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		files:      append([]string(nil), files...),
		batchSize:  batchSize,
		shuffle:    shuffle,
		seed:       time.Now().UnixNano(),
		bufferSize: ShuffleBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize <= 0 {
		return nil, fmt.Errorf("shuffle buffer must be positive, got %d", p.bufferSize)
	}
	return p, nil
}

// BatchSize returns the pipeline's batch size.
func (p *Pipeline) BatchSize() int {
	return p.batchSize
}

// Files returns the input files in read order.
func (p *Pipeline) Files() []string {
	return append([]string(nil), p.files...)
}

// Iterator starts a new pass over the data. Iterators are independent and
// not safe for concurrent use.
func (p *Pipeline) Iterator() *Iterator {
	return &Iterator{
		p:   p,
		src: &source{files: p.files},
		rng: rand.New(rand.NewSource(p.seed)), //nolint:gosec // shuffling, not security
	}
}

// Iterator pulls batches from a Pipeline. The stream never ends: after the
// last record of the last file it starts again from the first file.
// Batches may span two passes.
type Iterator struct {
	p   *Pipeline
	src *source
	rng *rand.Rand

	buffer      []Example
	drained     bool // current pass fully read into the buffer
	passRecords int
	epoch       int
}

// Epoch returns the number of completed passes over the files.
func (it *Iterator) Epoch() int {
	return it.epoch
}

// Next decodes and returns the next batch. On error no batch is returned
// and the iterator should be closed.
func (it *Iterator) Next() (Batch, error) {
	n := it.p.batchSize
	images, err := tensor.NewRaw(tensor.Shape{n, ImageHeight, ImageWidth, ImageChannels}, tensor.Float32, tensor.CPU)
	if err != nil {
		return Batch{}, err
	}
	labels, err := tensor.NewRaw(tensor.Shape{n, NumClasses}, tensor.Float32, tensor.CPU)
	if err != nil {
		return Batch{}, err
	}

	imageData := images.AsFloat32()
	labelData := labels.AsFloat32()
	for i := 0; i < n; i++ {
		ex, err := it.nextExample()
		if err != nil {
			return Batch{}, err
		}
		copy(imageData[i*ImagePixels:(i+1)*ImagePixels], ex.Image)
		labelData[i*NumClasses+int(ex.Label)] = 1
	}

	return Batch{Images: images, Labels: labels}, nil
}

// Close releases the open file, if any.
func (it *Iterator) Close() error {
	return it.src.close()
}

func (it *Iterator) nextExample() (Example, error) {
	for {
		var ex Example
		var err error
		if it.p.shuffle {
			ex, err = it.nextShuffled()
		} else {
			ex, err = it.read()
		}
		if !errors.Is(err, io.EOF) {
			return ex, err
		}

		if it.passRecords == 0 {
			return Example{}, fmt.Errorf("%w: no records in %v", ErrFileNotFound, it.p.files)
		}
		if err := it.src.rewind(); err != nil {
			return Example{}, err
		}
		it.passRecords = 0
		it.drained = false
		it.epoch++
	}
}

// nextShuffled draws uniformly from the reservoir and refills the drawn
// slot from the stream. It returns io.EOF once the pass is exhausted and
// the reservoir is empty.
func (it *Iterator) nextShuffled() (Example, error) {
	for !it.drained && len(it.buffer) < it.p.bufferSize {
		ex, err := it.read()
		if errors.Is(err, io.EOF) {
			it.drained = true
			break
		}
		if err != nil {
			return Example{}, err
		}
		it.buffer = append(it.buffer, ex)
	}
	if len(it.buffer) == 0 {
		return Example{}, io.EOF
	}

	i := it.rng.Intn(len(it.buffer))
	ex := it.buffer[i]
	if !it.drained {
		next, err := it.read()
		switch {
		case err == nil:
			it.buffer[i] = next
			return ex, nil
		case errors.Is(err, io.EOF):
			it.drained = true
		default:
			return Example{}, err
		}
	}

	last := len(it.buffer) - 1
	it.buffer[i] = it.buffer[last]
	it.buffer = it.buffer[:last]
	return ex, nil
}

func (it *Iterator) read() (Example, error) {
	record, err := it.src.next()
	if err != nil {
		return Example{}, err
	}
	ex, err := DecodeExample(record)
	if err != nil {
		return Example{}, fmt.Errorf("%s record %d: %w", it.src.current(), it.src.index, err)
	}
	it.passRecords++
	return ex, nil
}

// source reads the records of one pass, file by file, and returns io.EOF
// at the end of the last file.
type source struct {
	files  []string
	pos    int
	index  int // record index within the current file
	file   *os.File
	reader *tfrecord.Reader
}

func (s *source) current() string {
	if s.pos < len(s.files) {
		return s.files[s.pos]
	}
	return ""
}

func (s *source) next() ([]byte, error) {
	for s.pos < len(s.files) {
		if s.reader == nil {
			f, err := os.Open(s.files[s.pos])
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
			}
			s.file = f
			s.reader = tfrecord.NewReader(f)
			s.index = 0
		}

		record, err := s.reader.Next()
		if err == nil {
			s.index++
			return record, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", s.files[s.pos], err)
		}
		if err := s.close(); err != nil {
			return nil, err
		}
		s.pos++
	}
	return nil, io.EOF
}

func (s *source) rewind() error {
	err := s.close()
	s.pos = 0
	return err
}

func (s *source) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.reader = nil
	return err
}
