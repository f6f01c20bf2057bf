package estimator

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/mnist-estimator/internal/model"
)

// Files written into the model directory.
const (
	CheckpointFile = "checkpoint.born"
	SummaryFile    = "summaries.sqlite3"
	HParamsFile    = "hparams.yaml"
	ImageDir       = "images"
)

// TrainExamples is the size of the MNIST training split.
const TrainExamples = 55_000

// RunConfig configures Run.
type RunConfig struct {
	DataDirectory  string       `yaml:"data_directory"`
	ModelDirectory string       `yaml:"model_directory"`
	Params         model.Params `yaml:"params"`

	TrainBatchSize int   `yaml:"train_batch_size"`
	EvalBatchSize  int   `yaml:"eval_batch_size"`
	TrainSteps     int64 `yaml:"train_steps"`
	EvalSteps      int   `yaml:"eval_steps"` // batches per evaluation

	SaveCheckpointsSteps int64 `yaml:"save_checkpoints_steps"`
	SaveSummarySteps     int64 `yaml:"save_summary_steps"`
	ImageSummaryCount    int   `yaml:"image_summary_count"`

	Shuffle bool  `yaml:"shuffle"`
	Seed    int64 `yaml:"seed"`

	Logger *log.Logger `yaml:"-"` // nil means log.Default()
}

// DefaultRunConfig returns the standard training setup.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		DataDirectory:        "~/data/mnist",
		ModelDirectory:       "/tmp/mnisttraining",
		Params:               model.DefaultParams(),
		TrainBatchSize:       1_000,
		EvalBatchSize:        100,
		TrainSteps:           TrainExamples / 1_000,
		EvalSteps:            100,
		SaveCheckpointsSteps: 20,
		SaveSummarySteps:     20,
		ImageSummaryCount:    3,
		Seed:                 time.Now().UnixNano(),
	}
}

// Validate reports the first invalid field.
func (c RunConfig) Validate() error {
	switch {
	case c.DataDirectory == "":
		return errors.New("invalid run config: data directory is required")
	case c.ModelDirectory == "":
		return errors.New("invalid run config: model directory is required")
	case c.TrainBatchSize <= 0 || c.EvalBatchSize <= 0:
		return fmt.Errorf("invalid run config: batch sizes must be positive, got train=%d eval=%d",
			c.TrainBatchSize, c.EvalBatchSize)
	case c.TrainSteps < 0 || c.EvalSteps <= 0:
		return fmt.Errorf("invalid run config: step counts train=%d eval=%d", c.TrainSteps, c.EvalSteps)
	case c.SaveCheckpointsSteps <= 0 || c.SaveSummarySteps <= 0:
		return fmt.Errorf("invalid run config: checkpoint and summary intervals must be positive, got %d and %d",
			c.SaveCheckpointsSteps, c.SaveSummarySteps)
	case c.ImageSummaryCount < 0:
		return fmt.Errorf("invalid run config: negative image summary count %d", c.ImageSummaryCount)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}
	return nil
}

func (c RunConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}

// HParams is the hparams.yaml document.
type HParams struct {
	RunID   string    `yaml:"run_id"`
	Created time.Time `yaml:"created"`
	Config  RunConfig `yaml:",inline"`
}

// WriteHParams writes h to path as YAML.
func WriteHParams(path string, h HParams) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal hparams: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadHParams reads a file written by WriteHParams.
func ReadHParams(path string) (HParams, error) {
	var h HParams
	data, err := os.ReadFile(path) //nolint:gosec // path inside the model directory
	if err != nil {
		return h, err
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse %s: %w", path, err)
	}
	return h, nil
}
