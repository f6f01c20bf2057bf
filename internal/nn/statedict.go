package nn

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// StateDict maps parameter names to their raw tensors. The tensors are
// shared, not copied.
func StateDict[B tensor.Backend](params []*Parameter[B]) map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		dict[p.Name()] = p.Tensor().Raw()
	}
	return dict
}

// LoadStateDict copies every parameter's value from stateDict. Every
// parameter must be present with a matching shape and dtype; extra entries
// are ignored.
func LoadStateDict[B tensor.Backend](params []*Parameter[B], stateDict map[string]*tensor.RawTensor) error {
	for _, p := range params {
		src, ok := stateDict[p.Name()]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name())
		}
		dst := p.Tensor().Raw()
		if !src.Shape().Equal(dst.Shape()) {
			return fmt.Errorf("parameter %q: shape mismatch, expected %v, got %v", p.Name(), dst.Shape(), src.Shape())
		}
		if src.DType() != dst.DType() {
			return fmt.Errorf("parameter %q: dtype mismatch, expected %s, got %s", p.Name(), dst.DType(), src.DType())
		}
		copy(dst.Data(), src.Data())
	}
	return nil
}
