package estimator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/mnist-estimator/internal/dataset"
	"github.com/born-ml/mnist-estimator/internal/summary"
)

// EvalMetrics are averaged over EvalSteps batches.
type EvalMetrics struct {
	Loss       float64
	Accuracy   float64
	GlobalStep int64
}

// Run trains until the global step reaches cfg.TrainSteps. Every
// SaveSummarySteps it logs and records training scalars; every
// SaveCheckpointsSteps it writes a checkpoint and evaluates on the
// validation file. A final checkpoint and evaluation follow the loop.
//
// An existing checkpoint in the model directory is resumed. Cancelling
// ctx stops the loop between steps and returns ctx.Err().
func Run(ctx context.Context, cfg RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.logger()

	dataDir, err := ExpandHome(cfg.DataDirectory)
	if err != nil {
		return err
	}
	modelDir, err := ExpandHome(cfg.ModelDirectory)
	if err != nil {
		return err
	}

	trainFiles, err := dataset.GlobDir(dataDir, "train-*.tfrecords")
	if err != nil {
		return fmt.Errorf("train files: %w", err)
	}
	evalFile := filepath.Join(dataDir, "validation.tfrecords")
	if err := dataset.RequireFile(evalFile); err != nil {
		return fmt.Errorf("eval files: %w", err)
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	ctrl, err := NewController(cfg.Params, rand.New(rand.NewSource(cfg.Seed))) //nolint:gosec // weight init
	if err != nil {
		return err
	}

	checkpointPath := filepath.Join(modelDir, CheckpointFile)
	runID := uuid.NewString()
	restoredStep, restoredLoss := int64(-1), 0.0
	if _, statErr := os.Stat(checkpointPath); statErr == nil {
		ckpt, err := ctrl.Restore(checkpointPath)
		if err != nil {
			return err
		}
		if ckpt.RunID != "" {
			runID = ckpt.RunID
		}
		restoredStep, restoredLoss = ckpt.Step, ckpt.Loss
		logger.Printf("Restored checkpoint %s at step %d (loss %.4f)", checkpointPath, ckpt.Step, ckpt.Loss)
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf("stat checkpoint: %w", statErr)
	}

	if err := WriteHParams(filepath.Join(modelDir, HParamsFile), HParams{
		RunID:   runID,
		Created: time.Now().UTC(),
		Config:  cfg,
	}); err != nil {
		return err
	}

	store, err := summary.Open(filepath.Join(modelDir, SummaryFile))
	if err != nil {
		return err
	}
	defer store.Close()

	trainPipeline, err := dataset.NewPipeline(trainFiles, cfg.TrainBatchSize, cfg.Shuffle, dataset.WithSeed(cfg.Seed))
	if err != nil {
		return err
	}
	evalPipeline, err := dataset.NewPipeline([]string{evalFile}, cfg.EvalBatchSize, false)
	if err != nil {
		return err
	}

	r := &runner{
		cfg:            cfg,
		ctrl:           ctrl,
		store:          store,
		evalPipeline:   evalPipeline,
		runID:          runID,
		modelDir:       modelDir,
		checkpointPath: checkpointPath,
		logger:         logger,
		lastLoss:       restoredLoss,
		lastSaved:      restoredStep,
		lastEval:       -1,
	}
	logger.Printf("Run %s: training to step %d from step %d", runID, cfg.TrainSteps, ctrl.GlobalStep())

	it := trainPipeline.Iterator()
	defer it.Close()
	if err := r.train(ctx, it); err != nil {
		return err
	}
	return r.finish(ctx)
}

type runner struct {
	cfg            RunConfig
	ctrl           *Controller
	store          *summary.Store
	evalPipeline   *dataset.Pipeline
	runID          string
	modelDir       string
	checkpointPath string
	logger         *log.Logger

	lastLoss  float64
	lastSaved int64
	lastEval  int64
}

func (r *runner) train(ctx context.Context, it *dataset.Iterator) error {
	lastTime := time.Now()
	lastStep := r.ctrl.GlobalStep()

	for r.ctrl.GlobalStep() < r.cfg.TrainSteps {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.Next()
		if err != nil {
			return fmt.Errorf("train input: %w", err)
		}
		res, err := r.ctrl.Call(batch, Train)
		if err != nil {
			return err
		}
		tr, ok := res.(TrainEvalResult)
		if !ok {
			return fmt.Errorf("train step returned %T", res)
		}
		r.lastLoss = tr.Loss
		step := tr.GlobalStep

		if step%r.cfg.SaveSummarySteps == 0 {
			var rate float64
			if elapsed := time.Since(lastTime).Seconds(); elapsed > 0 {
				rate = float64(step-lastStep) / elapsed
			}
			lastTime, lastStep = time.Now(), step

			r.logger.Printf("step = %d, loss = %.5f, accuracy = %.4f (%.3f global_step/sec)", step, tr.Loss, tr.Accuracy, rate)
			if err := r.store.WriteScalars(r.runID, step, map[string]float64{
				"loss":            tr.Loss,
				"accuracy":        tr.Accuracy,
				"global_step/sec": rate,
			}); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			if err := r.writeImageSummary(batch, step); err != nil {
				return err
			}
		}

		if step%r.cfg.SaveCheckpointsSteps == 0 {
			if err := r.checkpointAndEvaluate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *runner) finish(ctx context.Context) error {
	step := r.ctrl.GlobalStep()
	if r.lastSaved == step && r.lastEval == step {
		return nil
	}
	return r.checkpointAndEvaluate(ctx)
}

func (r *runner) checkpointAndEvaluate(ctx context.Context) error {
	step := r.ctrl.GlobalStep()
	if r.lastSaved != step {
		if err := r.ctrl.Save(r.checkpointPath, r.lastLoss, r.runID); err != nil {
			return err
		}
		r.lastSaved = step
		r.logger.Printf("Saved checkpoint for step %d into %s", step, r.checkpointPath)
	}

	metrics, err := Evaluate(ctx, r.ctrl, r.evalPipeline, r.cfg.EvalSteps)
	if err != nil {
		return err
	}
	r.lastEval = step
	r.logger.Printf("Saving dict for global step %d: accuracy = %.4f, global_step = %d, loss = %.5f",
		step, metrics.Accuracy, metrics.GlobalStep, metrics.Loss)
	return r.store.WriteScalars(r.runID, step, map[string]float64{
		"eval/loss":     metrics.Loss,
		"eval/accuracy": metrics.Accuracy,
	})
}

func (r *runner) writeImageSummary(batch dataset.Batch, step int64) error {
	count := min(r.cfg.ImageSummaryCount, batch.Size())
	if count == 0 {
		return nil
	}
	classes := batch.Classes()
	captions := make([]string, count)
	for i := range captions {
		captions[i] = strconv.Itoa(int(classes[i]))
	}

	img, err := summary.ImageGrid(batch.Images.AsFloat32(), count, dataset.ImageWidth, dataset.ImageHeight, captions)
	if err != nil {
		return err
	}
	path := filepath.Join(r.modelDir, ImageDir, fmt.Sprintf("input-%d.png", step))
	if err := summary.WritePNG(path, img); err != nil {
		return fmt.Errorf("write image summary: %w", err)
	}
	return nil
}

// Evaluate runs steps Eval batches from a fresh pass over p and averages
// loss and accuracy.
func Evaluate(ctx context.Context, ctrl *Controller, p *dataset.Pipeline, steps int) (EvalMetrics, error) {
	it := p.Iterator()
	defer it.Close()

	var loss, accuracy float64
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return EvalMetrics{}, err
		}
		batch, err := it.Next()
		if err != nil {
			return EvalMetrics{}, fmt.Errorf("eval input: %w", err)
		}
		res, err := ctrl.Call(batch, Eval)
		if err != nil {
			return EvalMetrics{}, err
		}
		ev := res.(TrainEvalResult)
		loss += ev.Loss
		accuracy += ev.Accuracy
	}

	return EvalMetrics{
		Loss:       loss / float64(steps),
		Accuracy:   accuracy / float64(steps),
		GlobalStep: ctrl.GlobalStep(),
	}, nil
}
