package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/mnist-estimator/internal/nn"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Frozen parameters (Parameter.Trainable() == false) are never touched and
// their moments are left as they were.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[B tensor.Backend] struct {
	params  []*nn.Parameter[B]
	lr      float32
	beta1   float32
	beta2   float32
	eps     float32
	t       int64
	m       map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	v       map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend B
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // default 0.001
	Betas [2]float32 // default [0.9, 0.999]
	Eps   float32    // default 1e-8
}

// NewAdam creates a new Adam optimizer, filling zero config fields with
// the defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:  params,
		lr:      config.LR,
		beta1:   config.Betas[0],
		beta2:   config.Betas[1],
		eps:     config.Eps,
		m:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		v:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend: backend,
	}
}

// Step performs a single optimization step.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads, a.backend)
		if grad == nil {
			continue
		}
		m, v := a.moments(param)
		a.updateParameter(param, grad.AsFloat32(), m.Data(), v.Data(), biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[B]) moments(param *nn.Parameter[B]) (m, v *tensor.Tensor[float32, B]) {
	m, ok := a.m[param]
	if !ok {
		m = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
		a.m[param] = m
	}
	v, ok = a.v[param]
	if !ok {
		v = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
		a.v[param] = v
	}
	return m, v
}

func (a *Adam[B]) updateParameter(
	param *nn.Parameter[B],
	gradData, mData, vData []float32,
	biasCorrection1, biasCorrection2 float32,
) {
	paramData := param.Tensor().Data()
	for i := range paramData {
		g := gradData[i]
		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2
		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int64 {
	return a.t
}

// Name returns "Adam".
func (a *Adam[B]) Name() string {
	return "Adam"
}

// Config returns the hyperparameters for checkpoint metadata.
func (a *Adam[B]) Config() map[string]any {
	return map[string]any{
		"lr":    a.lr,
		"beta1": a.beta1,
		"beta2": a.beta2,
		"eps":   a.eps,
	}
}

// StateDict returns the timestep and both moment tensors, keyed "t",
// "m.<param>", and "v.<param>".
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor, 2*len(a.params)+1)

	step, err := tensor.NewRaw(tensor.Shape{1}, tensor.Int64, a.backend.Device())
	if err != nil {
		panic(err)
	}
	step.AsInt64()[0] = a.t
	dict["t"] = step

	for _, param := range a.params {
		if m, ok := a.m[param]; ok {
			dict["m."+param.Name()] = m.Raw()
		}
		if v, ok := a.v[param]; ok {
			dict["v."+param.Name()] = v.Raw()
		}
	}
	return dict
}

// LoadStateDict restores the timestep and moments saved by StateDict.
func (a *Adam[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	step, ok := stateDict["t"]
	if !ok || step.DType() != tensor.Int64 || step.NumElements() != 1 {
		return fmt.Errorf("adam: missing or invalid timestep")
	}

	for _, param := range a.params {
		for prefix, moments := range map[string]map[*nn.Parameter[B]]*tensor.Tensor[float32, B]{"m.": a.m, "v.": a.v} {
			raw, ok := stateDict[prefix+param.Name()]
			if !ok {
				continue
			}
			if !raw.Shape().Equal(param.Tensor().Shape()) || raw.DType() != tensor.Float32 {
				return fmt.Errorf("adam: %s%s has shape %v, expected %v", prefix, param.Name(), raw.Shape(), param.Tensor().Shape())
			}
			moments[param] = tensor.New[float32](raw.Clone(), a.backend)
		}
	}

	a.t = step.AsInt64()[0]
	return nil
}
