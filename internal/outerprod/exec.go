package outerprod

import (
	"fmt"

	"github.com/samcharles93/weft/internal/matrix"
)

// Inputs bundles the caller-owned operands of one invocation. Nothing is
// retained across calls; all blocks are read-only for the duration of the
// call except the output.
//
// Shape contract (validated by the caller, not re-checked on the hot
// path): U has A.Rows rows, V has A.Cols rows, and U.Cols == V.Cols == K
// with K >= 1. U and V must be dense.
type Inputs struct {
	// A is the guide matrix whose non-zero pattern selects the visited
	// cells. Its stored non-zero count must reflect the pattern exactly.
	A *matrix.Block
	// U and V are the dense factor matrices.
	U, V *matrix.Block

	// Side and Scalars are passed through verbatim to the kernel.
	Side    [][]float64
	Scalars []float64
}

// Executor runs one fused outer-product operator. The zero value of
// Tuning selects the defaults; Mode and Kernel must be set.
type Executor struct {
	Mode   Mode
	Kernel Kernel
	Tuning Tuning
}

// ExecuteScalar evaluates an Aggregate-mode operator and returns the sum
// of the scalar kernel over every visited cell. threads <= 1 selects
// sequential execution; parallel runs may sum partial results in any
// order, so the result is algebraically but not bitwise reproducible.
func (e *Executor) ExecuteScalar(in *Inputs, threads int) (float64, error) {
	if err := e.validate(in); err != nil {
		return 0, err
	}
	if e.Mode != Aggregate {
		return 0, fmt.Errorf("%w: %s produces a matrix, use ExecuteMatrix", ErrModeMismatch, e.Mode)
	}
	if in.A.IsEmpty() {
		return 0, nil
	}

	op := e.operands(in)
	tn := e.Tuning.withDefaults()
	if threads > 1 {
		return e.executeScalarParallel(in, op, tn, threads)
	}

	u, v := in.U.Dense(), in.V.Dense()
	if !in.A.IsSparse() {
		return e.denseCellBlock(in.A.Dense(), u, v, op, nil, tn, 0, op.M, 0, op.N), nil
	}
	return e.sparseCellBlock(in.A, u, v, op, nil, tn, 0, op.M), nil
}

// ExecuteMatrix evaluates a Left, Right, or Cellwise operator into out,
// resolving out's shape and layout from the mode first. On a structurally
// empty relevant operand the call resets out to an empty sparse block of
// the resolved shape and returns without computing. After a failed
// parallel run the contents of out are undefined.
func (e *Executor) ExecuteMatrix(in *Inputs, out *matrix.Block, threads int) error {
	if err := e.validate(in); err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("%w: nil output block", ErrInvalidInputs)
	}
	if e.Mode == Aggregate {
		return fmt.Errorf("%w: aggregate produces a scalar, use ExecuteScalar", ErrModeMismatch)
	}

	a := in.A
	k := in.U.Cols
	if e.relevantOperandEmpty(in) {
		r, c := e.outputShape(a, k)
		out.Reset(r, c, true)
		return nil
	}

	e.resolveOutput(a, k, out)
	op := e.operands(in)
	tn := e.Tuning.withDefaults()
	if threads > 1 {
		return e.executeMatrixParallel(in, op, out, tn, threads)
	}

	u, v := in.U.Dense(), in.V.Dense()
	switch e.Mode {
	case Left, Right:
		if !a.IsSparse() {
			e.denseRowBlock(a.Dense(), u, v, op, out.Dense(), tn, 0, op.M, 0, op.N)
		} else {
			e.sparseRowBlock(a, u, v, op, out.Dense(), tn, 0, op.M, 0, op.N)
		}
	case Cellwise:
		if !a.IsSparse() {
			e.denseCellBlock(a.Dense(), u, v, op, out.Dense(), tn, 0, op.M, 0, op.N)
		} else {
			e.sparseCellBlock(a, u, v, op, out, tn, 0, op.M)
		}
	}

	e.finishMatrix(a, out)
	return nil
}

func (e *Executor) validate(in *Inputs) error {
	if in == nil || in.A == nil || in.U == nil || in.V == nil {
		return fmt.Errorf("%w: guide and both factors are required", ErrInvalidInputs)
	}
	if e.Kernel == nil {
		return fmt.Errorf("%w: nil kernel", ErrInvalidInputs)
	}
	if in.U.IsSparse() || in.V.IsSparse() {
		return fmt.Errorf("%w: factor matrices must be dense", ErrInvalidInputs)
	}
	if in.U.Cols < 1 {
		return fmt.Errorf("%w: factor rank must be at least 1", ErrInvalidInputs)
	}
	return nil
}

// relevantOperandEmpty implements the empty-input short circuit: the
// operand whose emptiness forces a zero result depends on the mode. An
// empty guide yields a zero result in every mode and would break the
// density-derived block sizing, so it short-circuits too.
func (e *Executor) relevantOperandEmpty(in *Inputs) bool {
	if in.A.IsEmpty() {
		return true
	}
	switch e.Mode {
	case Left:
		return in.U.IsEmpty()
	case Right:
		return in.V.IsEmpty()
	case Cellwise:
		return false // A already checked
	default:
		return false
	}
}

// outputShape resolves the output dimensions from mode and guide shape.
func (e *Executor) outputShape(a *matrix.Block, k int) (int, int) {
	switch e.Mode {
	case Left:
		return a.Cols, k
	case Right:
		return a.Rows, k
	default: // Cellwise
		return a.Rows, a.Cols
	}
}

// resolveOutput allocates the output backing storage. Left and Right
// results densify under accumulation and are always dense; Cellwise
// inherits the guide's layout because its cell count equals the guide's
// non-zero count.
func (e *Executor) resolveOutput(a *matrix.Block, k int, out *matrix.Block) {
	r, c := e.outputShape(a, k)
	sparse := e.Mode == Cellwise && a.IsSparse()
	out.Reset(r, c, sparse)
}

func (e *Executor) operands(in *Inputs) *Operands {
	return &Operands{
		Side:    in.Side,
		Scalars: in.Scalars,
		M:       in.A.Rows,
		N:       in.A.Cols,
		K:       in.U.Cols,
	}
}

// finishMatrix refreshes the output's non-zero count and re-evaluates its
// physical layout. Cellwise preserves structural sparsity: every visited
// cell counts as stored regardless of the kernel value, so the count
// comes from the guide, not from rescanning the written values — and the
// output keeps the guide's layout, because a value-scanning conversion
// would drop kernel-produced zeros and lose that count.
func (e *Executor) finishMatrix(a, out *matrix.Block) {
	if e.Mode == Cellwise {
		out.SetNonZeros(a.CountNonZerosRange(0, a.Rows))
		return
	}
	out.RecomputeNonZeros()
	out.MaybeSparsify()
}
