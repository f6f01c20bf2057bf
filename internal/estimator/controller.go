// Package estimator drives the classifier: a Controller that runs one
// batch in train, eval or predict mode, and Run, which loops training
// with periodic checkpoints, summaries and evaluation.
package estimator

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/born-ml/mnist-estimator/internal/autodiff"
	"github.com/born-ml/mnist-estimator/internal/backend/cpu"
	"github.com/born-ml/mnist-estimator/internal/dataset"
	"github.com/born-ml/mnist-estimator/internal/model"
	"github.com/born-ml/mnist-estimator/internal/nn"
	"github.com/born-ml/mnist-estimator/internal/optim"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Backend is the CPU backend with gradient recording.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// ModelType is stored in checkpoint headers.
const ModelType = "mnist-cnn"

// Mode selects what Call computes.
type Mode int

const (
	Train Mode = iota
	Eval
	Predict
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Eval:
		return "eval"
	case Predict:
		return "predict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ErrLabelsRequired is returned when a train or eval batch has no labels.
var ErrLabelsRequired = errors.New("labels are required in train and eval mode")

// Predictions are computed in every mode.
type Predictions struct {
	Classes       []int32     // argmax of the logits, per example
	Probabilities [][]float32 // softmax of the logits, [B][10]
}

// ClassificationOutput is the serving signature: per-class scores and
// the class label each score belongs to.
type ClassificationOutput struct {
	Scores  [][]float32
	Classes [][]string
}

// Result is either PredictResult or TrainEvalResult.
type Result interface {
	result()
}

// PredictResult is returned in Predict mode.
type PredictResult struct {
	Predictions Predictions
	Export      ClassificationOutput
}

// TrainEvalResult is returned in Train and Eval mode.
type TrainEvalResult struct {
	Predictions Predictions
	Export      ClassificationOutput
	Loss        float64
	Accuracy    float64
	Stepped     bool // an optimizer step was applied
	GlobalStep  int64
}

func (PredictResult) result()   {}
func (TrainEvalResult) result() {}

// Controller owns the network, its optimizer and the global step.
// It is not safe for concurrent use.
type Controller struct {
	backend    Backend
	network    *model.Network[Backend]
	optimizer  *optim.Adam[Backend]
	params     model.Params
	globalStep int64
}

// NewController validates params and builds a freshly initialized network.
func NewController(params model.Params, rng *rand.Rand) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	backend := autodiff.New(cpu.New())
	network, err := model.Build(model.Layers(params), rng, backend)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	adam := optim.NewAdam(network.Parameters(), optim.AdamConfig{LR: params.LearningRate}, backend)

	return &Controller{
		backend:   backend,
		network:   network,
		optimizer: adam,
		params:    params,
	}, nil
}

// GlobalStep returns the number of training steps applied so far.
func (c *Controller) GlobalStep() int64 {
	return c.globalStep
}

// Network returns the underlying network.
func (c *Controller) Network() *model.Network[Backend] {
	return c.network
}

// Call runs one batch. Train applies exactly one optimizer step; Eval and
// Predict leave the weights untouched. Labels may be nil only in Predict.
func (c *Controller) Call(batch dataset.Batch, mode Mode) (Result, error) {
	if mode != Train && mode != Eval && mode != Predict {
		return nil, fmt.Errorf("unknown mode %v", mode)
	}
	if batch.Images == nil {
		return nil, fmt.Errorf("%w: batch has no images", dataset.ErrShapeMismatch)
	}
	shape := batch.Images.Shape()
	if len(shape) != 4 || !shape[1:].Equal(model.InputShape(0)[1:]) {
		return nil, fmt.Errorf("%w: images must be [B, 28, 28, 1], got %v", dataset.ErrShapeMismatch, shape)
	}
	if mode != Predict {
		if batch.Labels == nil {
			return nil, ErrLabelsRequired
		}
		if want := (tensor.Shape{shape[0], dataset.NumClasses}); !batch.Labels.Shape().Equal(want) {
			return nil, fmt.Errorf("%w: labels must be %v, got %v", dataset.ErrShapeMismatch, want, batch.Labels.Shape())
		}
	}

	training := mode == Train
	c.network.SetTrainable(training)

	tape := c.backend.Tape()
	if training {
		tape.Clear()
		tape.StartRecording()
	}

	images := tensor.New[float32](batch.Images, c.backend)
	logits := c.network.Forward(images, training)

	var loss *tensor.Tensor[float32, Backend]
	var labels *tensor.Tensor[float32, Backend]
	if mode != Predict {
		labels = tensor.New[float32](batch.Labels, c.backend)
		loss = nn.SoftmaxCrossEntropy(logits, labels)
	}

	if training {
		grads := autodiff.Backward(loss, c.backend)
		tape.StopRecording()
		c.optimizer.Step(grads)
		c.optimizer.ZeroGrad()
		tape.Clear()
		c.globalStep++
	}

	predictions := predict(logits)
	export := classificationOutput(predictions)
	if mode == Predict {
		return PredictResult{Predictions: predictions, Export: export}, nil
	}

	return TrainEvalResult{
		Predictions: predictions,
		Export:      export,
		Loss:        float64(loss.Item()),
		Accuracy:    nn.Accuracy(logits, labels),
		Stepped:     training,
		GlobalStep:  c.globalStep,
	}, nil
}

func predict(logits *tensor.Tensor[float32, Backend]) Predictions {
	classes := logits.Argmax(1).Data()
	probs := logits.Softmax().Data()
	n := logits.Shape()[0]

	out := Predictions{
		Classes:       append([]int32(nil), classes...),
		Probabilities: make([][]float32, n),
	}
	for i := 0; i < n; i++ {
		out.Probabilities[i] = append([]float32(nil), probs[i*dataset.NumClasses:(i+1)*dataset.NumClasses]...)
	}
	return out
}

var classLabels = func() []string {
	labels := make([]string, dataset.NumClasses)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}
	return labels
}()

func classificationOutput(p Predictions) ClassificationOutput {
	out := ClassificationOutput{
		Scores:  p.Probabilities,
		Classes: make([][]string, len(p.Probabilities)),
	}
	for i := range out.Classes {
		out.Classes[i] = classLabels
	}
	return out
}

// Save writes a checkpoint of the weights, optimizer state and global step.
func (c *Controller) Save(path string, loss float64, runID string) error {
	ckpt := &nn.Checkpoint{
		Model:     c.network,
		Optimizer: c.optimizer,
		Step:      c.globalStep,
		Loss:      loss,
		RunID:     runID,
		ModelType: ModelType,
		Metadata: map[string]string{
			"learning_rate": strconv.FormatFloat(float64(c.params.LearningRate), 'g', -1, 32),
			"dropout_rate":  strconv.FormatFloat(float64(c.params.DropoutRate), 'g', -1, 32),
		},
	}
	return ckpt.Save(path)
}

// Restore loads a checkpoint written by Save and resumes its global step.
func (c *Controller) Restore(path string) (*nn.Checkpoint, error) {
	ckpt, err := nn.LoadCheckpoint(path, c.network, c.optimizer)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", path, err)
	}
	c.globalStep = ckpt.Step
	return ckpt, nil
}
