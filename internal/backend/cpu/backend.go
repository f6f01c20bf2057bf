// Package cpu implements the float32 compute backend on the host CPU.
//
// Kernels are written in pure Go. Large loops (matrix rows, convolution
// batches, pooling planes) are split across goroutines with the parallel
// package.
package cpu

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/parallel"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// CPUBackend implements tensor.Backend for float32 tensors.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a CPU backend using parallel.DefaultConfig.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallel configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Parallel returns the backend's parallel configuration.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.parallel
}

func (cpu *CPUBackend) newFloat32(op string, shape tensor.Shape) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}

func requireFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: unsupported dtype %s", op, t.DType()))
		}
	}
}

func requireRank(op, what string, t *tensor.RawTensor, rank int) {
	if len(t.Shape()) != rank {
		panic(fmt.Sprintf("%s: %s must be %dD, got shape %v", op, what, rank, t.Shape()))
	}
}
