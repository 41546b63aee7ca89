package outerprod

import (
	"testing"

	"github.com/samcharles93/weft/internal/matrix"
)

func benchInputs(m, n, k int, density float64) *Inputs {
	a := matrix.RandSparse(m, n, density, 9)
	u := matrix.NewDense(m, k)
	v := matrix.NewDense(n, k)
	matrix.FillRand(u, 1)
	matrix.FillRand(v, 2)
	return &Inputs{A: a, U: u, V: v}
}

func BenchmarkLeftSparse(b *testing.B) {
	in := benchInputs(1024, 768, 16, 0.05)
	e := &Executor{Mode: Left, Kernel: FactorScaleKernel{}}
	out := matrix.NewDense(0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.ExecuteMatrix(in, out, 1); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAggregateSparseParallel(b *testing.B) {
	in := benchInputs(2048, 1024, 16, 0.05)
	e := &Executor{Mode: Aggregate, Kernel: SigmoidKernel{}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ExecuteScalar(in, 4); err != nil {
			b.Fatal(err)
		}
	}
}
