package outerprod

import "math"

// Operands carries the call-invariant inputs every kernel invocation sees:
// auxiliary dense matrices and scalars passed through verbatim, plus the
// guide dimensions and rank.
type Operands struct {
	// Side holds zero or more auxiliary dense matrices of kernel-agreed
	// shape, opaque to the executor.
	Side [][]float64
	// Scalars holds zero or more scalar operands.
	Scalars []float64

	// M and N are the guide matrix dimensions, K the factor rank.
	M, N, K int
}

// Kernel is the per-element program injected by the caller, normally
// produced by an operator code generator. The executor treats it as an
// opaque computational hook.
//
// Both methods receive one visited non-zero a = A[i,j] together with the
// factor rows u = U[i,:] and v = V[j,:] (each of length K).
type Kernel interface {
	// EvalRow accumulates a K-length update into c, the output row the
	// current mode maps (i, j) to. Implementations must add into c, not
	// overwrite it: multiple visited cells share one target row.
	EvalRow(a float64, u, v []float64, op *Operands, c []float64, i, j int)

	// EvalCell returns one scalar for the visited cell.
	EvalCell(a float64, u, v []float64, op *Operands, i, j int) float64
}

// FactorScaleKernel is the plain weighted outer product: each visited cell
// contributes a times one factor row, and the cellwise value is
// a * dot(u, v). Left-mode operators scale U rows, right-mode operators
// scale V rows; generated code bakes that choice in, so the reference
// kernel carries it as a flag.
type FactorScaleKernel struct {
	// Right selects the V row as the scaled factor.
	Right bool
}

func (kn FactorScaleKernel) EvalRow(a float64, u, v []float64, _ *Operands, c []float64, _, _ int) {
	f := u
	if kn.Right {
		f = v
	}
	for t := range c {
		c[t] += a * f[t]
	}
}

func (kn FactorScaleKernel) EvalCell(a float64, u, v []float64, _ *Operands, _, _ int) float64 {
	return a * dot(u, v)
}

// WeightKernel passes the guide value through untouched. Its aggregate
// reduces to sum(A), which makes it a closed-form oracle in tests.
type WeightKernel struct{}

func (WeightKernel) EvalRow(a float64, _, _ []float64, _ *Operands, c []float64, _, _ int) {
	for t := range c {
		c[t] += a
	}
}

func (WeightKernel) EvalCell(a float64, _, _ []float64, _ *Operands, _, _ int) float64 {
	return a
}

// SigmoidKernel weights each visited cell by the sigmoid of the factor
// product, the shape of weighted-sigmoid loss operators.
type SigmoidKernel struct{}

func (SigmoidKernel) EvalRow(a float64, u, v []float64, _ *Operands, c []float64, _, _ int) {
	w := a * sigmoid(dot(u, v))
	for t := range c {
		c[t] += w * u[t]
	}
}

func (SigmoidKernel) EvalCell(a float64, u, v []float64, _ *Operands, _, _ int) float64 {
	return a * sigmoid(dot(u, v))
}

func dot(u, v []float64) float64 {
	var s float64
	for t := range u {
		s += u[t] * v[t]
	}
	return s
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
