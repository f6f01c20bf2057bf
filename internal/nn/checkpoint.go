package nn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/mnist-estimator/internal/serialization"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

const optimizerPrefix = "optimizer."

// StateDictModule is a model whose parameters can be saved and restored.
type StateDictModule interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// OptimizerState represents an optimizer that can save/load its state.
//
// Optimizers from the optim package implement this interface; it lives here
// to avoid an import cycle.
type OptimizerState interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
	Name() string
	Config() map[string]any
}

// Checkpoint is a resumable training snapshot: model parameters, optimizer
// state, global step, and the last training loss.
//
// Example:
//
//	ckpt := &nn.Checkpoint{Model: net, Optimizer: adam, Step: 20, Loss: 0.31, RunID: id}
//	err := ckpt.Save(filepath.Join(modelDir, "checkpoint.born"))
type Checkpoint struct {
	Model     StateDictModule
	Optimizer OptimizerState // optional
	Step      int64
	Loss      float64
	RunID     string
	ModelType string
	Metadata  map[string]string
}

// Save atomically writes the checkpoint to path.
func (c *Checkpoint) Save(path string) error {
	combined := make(map[string]*tensor.RawTensor)
	for name, raw := range c.Model.StateDict() {
		combined[name] = raw
	}

	meta := &serialization.CheckpointMeta{
		Step:  c.Step,
		Loss:  c.Loss,
		RunID: c.RunID,
	}
	if c.Optimizer != nil {
		for name, raw := range c.Optimizer.StateDict() {
			combined[optimizerPrefix+name] = raw
		}
		meta.OptimizerType = c.Optimizer.Name()
		meta.OptimizerConfig = c.Optimizer.Config()
	}

	header := serialization.Header{
		ModelType:      c.ModelType,
		Metadata:       c.Metadata,
		CheckpointMeta: meta,
	}
	if err := serialization.WriteFile(path, combined, header); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// ErrNotCheckpoint is returned when a .born file carries no training state.
var ErrNotCheckpoint = errors.New("file is not a checkpoint")

// LoadCheckpoint restores model (and optimizer, if non-nil) from path.
//
// The model and optimizer must be constructed with the same architecture
// as when the checkpoint was saved.
func LoadCheckpoint(path string, model StateDictModule, optimizer OptimizerState) (*Checkpoint, error) {
	file, err := serialization.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta := file.Header.CheckpointMeta
	if meta == nil {
		return nil, ErrNotCheckpoint
	}

	modelDict := make(map[string]*tensor.RawTensor)
	optimizerDict := make(map[string]*tensor.RawTensor)
	for name, raw := range file.Tensors {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optimizerDict[rest] = raw
		} else {
			modelDict[name] = raw
		}
	}

	if err := model.LoadStateDict(modelDict); err != nil {
		return nil, fmt.Errorf("failed to load model state: %w", err)
	}
	if optimizer != nil && len(optimizerDict) > 0 {
		if err := optimizer.LoadStateDict(optimizerDict); err != nil {
			return nil, fmt.Errorf("failed to load optimizer state: %w", err)
		}
	}

	return &Checkpoint{
		Model:     model,
		Optimizer: optimizer,
		Step:      meta.Step,
		Loss:      meta.Loss,
		RunID:     meta.RunID,
		ModelType: file.Header.ModelType,
		Metadata:  file.Header.Metadata,
	}, nil
}
