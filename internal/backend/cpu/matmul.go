package cpu

import (
	"fmt"

	"github.com/born-ml/mnist-estimator/internal/parallel"
	"github.com/born-ml/mnist-estimator/internal/tensor"
)

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a, b)
	requireRank("matmul", "lhs", a, 2)
	requireRank("matmul", "rhs", b, 2)

	m, k := a.Shape()[0], a.Shape()[1]
	kAlt, n := b.Shape()[0], b.Shape()[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := cpu.newFloat32("matmul", tensor.Shape{m, n})
	matmulFloat32(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.parallel)
	return result
}

// matmulFloat32 computes c = a @ b row by row. The inner loop walks b and c
// contiguously (i-k-j order).
func matmulFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.For(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			bRow := b[p*n : (p+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, cfg)
}
