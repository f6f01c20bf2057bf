// Package serving exposes a trained classifier over HTTP.
//
// Routes:
//
//	POST /v1/models/mnist:predict  {"instances": [[784 floats], ...]}
//	GET  /v1/models/mnist          checkpoint status
//	POST /v1/models/mnist:reload   reload the checkpoint from disk
package serving

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	// The reload handler swaps the model while predictions may be running.
	sync "github.com/sasha-s/go-deadlock"

	"github.com/born-ml/mnist-estimator/internal/dataset"
	"github.com/born-ml/mnist-estimator/internal/estimator"
	"github.com/born-ml/mnist-estimator/internal/model"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// ModelName is the name used in every route.
const ModelName = "mnist"

// MaxInstances bounds the batch size of one predict request.
const MaxInstances = 1000

// PredictRequest is the body of a predict call.
type PredictRequest struct {
	Instances [][]float32 `json:"instances"`
}

// Prediction is one instance's result.
type Prediction struct {
	Classes       int32     `json:"classes"`
	Probabilities []float32 `json:"probabilities"`
}

// PredictResponse is the body returned by a predict call.
type PredictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// Status describes the loaded checkpoint.
type Status struct {
	Model      string    `json:"model"`
	GlobalStep int64     `json:"global_step"`
	RunID      string    `json:"run_id"`
	Loss       float64   `json:"loss"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// Server serves predictions from the checkpoint in a model directory.
type Server struct {
	checkpointPath string
	logger         *log.Logger

	mu     sync.Mutex
	ctrl   *estimator.Controller
	status Status
}

// NewServer loads the checkpoint from modelDir. logger may be nil.
func NewServer(modelDir string, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		checkpointPath: filepath.Join(modelDir, estimator.CheckpointFile),
		logger:         logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload reads the checkpoint again and swaps it in.
func (s *Server) Reload() error {
	ctrl, err := estimator.NewController(model.DefaultParams(), rand.New(rand.NewSource(0))) //nolint:gosec // overwritten by the checkpoint
	if err != nil {
		return err
	}
	ckpt, err := ctrl.Restore(s.checkpointPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
	s.status = Status{
		Model:      ModelName,
		GlobalStep: ckpt.Step,
		RunID:      ckpt.RunID,
		Loss:       ckpt.Loss,
		LoadedAt:   time.Now().UTC(),
	}
	s.logger.Printf("Loaded %s at step %d (run %s)", s.checkpointPath, ckpt.Step, ckpt.RunID)
	return nil
}

// Status returns the loaded checkpoint's status.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

var errBadInstances = errors.New("bad instances")

// Predict classifies flattened 28x28 images.
func (s *Server) Predict(instances [][]float32) ([]Prediction, error) {
	if len(instances) == 0 || len(instances) > MaxInstances {
		return nil, fmt.Errorf("%w: need 1 to %d instances, got %d", errBadInstances, MaxInstances, len(instances))
	}
	images, err := tensor.NewRaw(model.InputShape(len(instances)), tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	data := images.AsFloat32()
	for i, inst := range instances {
		if len(inst) != dataset.ImagePixels {
			return nil, fmt.Errorf("%w: instance %d has %d values, want %d", errBadInstances, i, len(inst), dataset.ImagePixels)
		}
		copy(data[i*dataset.ImagePixels:], inst)
	}

	s.mu.Lock()
	res, err := s.ctrl.Call(dataset.Batch{Images: images}, estimator.Predict)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pred := res.(estimator.PredictResult).Predictions
	out := make([]Prediction, len(instances))
	for i := range out {
		out[i] = Prediction{Classes: pred.Classes[i], Probabilities: pred.Probabilities[i]}
	}
	return out, nil
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	base := "/v1/models/" + ModelName

	r.HandleFunc(base+":predict", func(w http.ResponseWriter, r *http.Request) {
		var request PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, fmt.Sprintf("json decode error: %v", err), http.StatusBadRequest)
			return
		}
		predictions, err := s.Predict(request.Instances)
		if errors.Is(err, errBadInstances) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		} else if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResponse(w, PredictResponse{Predictions: predictions})
	}).Methods("POST")

	r.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, s.Status())
	}).Methods("GET")

	r.HandleFunc(base+":reload", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Reload(); err != nil {
			s.logger.Printf("reload failed: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResponse(w, s.Status())
	}).Methods("POST")

	return r
}

func jsonResponse(w http.ResponseWriter, x any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(x); err != nil {
		log.Printf("write response: %v", err)
	}
}
