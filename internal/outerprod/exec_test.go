package outerprod

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/weft/internal/matrix"
)

// naiveMatrix evaluates a vector- or cellwise-mode operator cell by cell
// without blocking or threading, as the correctness oracle.
func naiveMatrix(mode Mode, kn Kernel, in *Inputs) *matrix.Block {
	a, u, v := in.A, in.U.Dense(), in.V.Dense()
	k := in.U.Cols
	op := &Operands{Side: in.Side, Scalars: in.Scalars, M: a.Rows, N: a.Cols, K: k}

	var out *matrix.Block
	switch mode {
	case Left:
		out = matrix.NewDense(a.Cols, k)
	case Right:
		out = matrix.NewDense(a.Rows, k)
	case Cellwise:
		out = matrix.NewDense(a.Rows, a.Cols)
	}

	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			aij := a.Get(i, j)
			if aij == 0 {
				continue
			}
			urow := u[i*k : (i+1)*k]
			vrow := v[j*k : (j+1)*k]
			switch mode {
			case Left:
				kn.EvalRow(aij, urow, vrow, op, out.Dense()[j*k:(j+1)*k], i, j)
			case Right:
				kn.EvalRow(aij, urow, vrow, op, out.Dense()[i*k:(i+1)*k], i, j)
			case Cellwise:
				out.Set(i, j, kn.EvalCell(aij, urow, vrow, op, i, j))
			}
		}
	}
	return out
}

func naiveScalar(kn Kernel, in *Inputs) float64 {
	a, u, v := in.A, in.U.Dense(), in.V.Dense()
	k := in.U.Cols
	op := &Operands{M: a.Rows, N: a.Cols, K: k}
	var sum float64
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			if aij := a.Get(i, j); aij != 0 {
				sum += kn.EvalCell(aij, u[i*k:(i+1)*k], v[j*k:(j+1)*k], op, i, j)
			}
		}
	}
	return sum
}

func randInputs(t *testing.T, m, n, k int, density float64, sparseGuide bool) *Inputs {
	t.Helper()
	var a *matrix.Block
	if sparseGuide {
		a = matrix.RandSparse(m, n, density, 11)
	} else {
		s := matrix.RandSparse(m, n, density, 11)
		s.ToDense()
		a = s
	}
	u := matrix.NewDense(m, k)
	v := matrix.NewDense(n, k)
	matrix.FillRand(u, 21)
	matrix.FillRand(v, 22)
	return &Inputs{A: a, U: u, V: v}
}

func assertBlocksEqual(t *testing.T, got, want *matrix.Block, tol float64) {
	t.Helper()
	if got.Rows != want.Rows || got.Cols != want.Cols {
		t.Fatalf("shape %dx%d, want %dx%d", got.Rows, got.Cols, want.Rows, want.Cols)
	}
	for i := 0; i < want.Rows; i++ {
		for j := 0; j < want.Cols; j++ {
			g, w := got.Get(i, j), want.Get(i, j)
			if math.Abs(g-w) > tol {
				t.Fatalf("cell (%d,%d): got %g, want %g", i, j, g, w)
			}
		}
	}
}

func TestMatrixModesMatchNaive(t *testing.T) {
	kernels := map[string]Kernel{
		"factor-left":  FactorScaleKernel{},
		"factor-right": FactorScaleKernel{Right: true},
		"sigmoid":      SigmoidKernel{},
	}
	for _, sparse := range []bool{false, true} {
		for _, mode := range []Mode{Left, Right, Cellwise} {
			for name, kn := range kernels {
				in := randInputs(t, 37, 29, 6, 0.25, sparse)
				want := naiveMatrix(mode, kn, in)

				for _, threads := range []int{1, 2, 5} {
					e := &Executor{Mode: mode, Kernel: kn}
					out := matrix.NewDense(0, 0)
					if err := e.ExecuteMatrix(in, out, threads); err != nil {
						t.Fatalf("%v/%s sparse=%v threads=%d: %v", mode, name, sparse, threads, err)
					}
					assertBlocksEqual(t, out, want, 1e-12)
				}
			}
		}
	}
}

func TestAggregateMatchesNaive(t *testing.T) {
	for _, sparse := range []bool{false, true} {
		in := randInputs(t, 41, 23, 5, 0.3, sparse)
		kn := SigmoidKernel{}
		want := naiveScalar(kn, in)

		for _, threads := range []int{1, 3, 8} {
			e := &Executor{Mode: Aggregate, Kernel: kn}
			got, err := e.ExecuteScalar(in, threads)
			if err != nil {
				t.Fatalf("sparse=%v threads=%d: %v", sparse, threads, err)
			}
			if math.Abs(got-want) > 1e-9 {
				t.Fatalf("sparse=%v threads=%d: got %g, want %g", sparse, threads, got, want)
			}
		}
	}
}

func TestAggregateWeightKernelIsSumOfGuide(t *testing.T) {
	in := randInputs(t, 30, 30, 4, 0.2, true)
	var want float64
	for i := 0; i < in.A.Rows; i++ {
		for _, v := range in.A.RowValues(i) {
			want += v
		}
	}
	e := &Executor{Mode: Aggregate, Kernel: WeightKernel{}}
	got, err := e.ExecuteScalar(in, 4)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-want) > 1e-10 {
		t.Fatalf("got %g, want sum(A) = %g", got, want)
	}
}

func TestCellwisePreservesStructuralNonZeros(t *testing.T) {
	// A kernel that returns zero for every cell: the output must still
	// store one entry per guide non-zero and keep the guide's layout.
	// The dense case is sized so a value-based density check would want
	// to convert it, which must not happen.
	for _, sparse := range []bool{true, false} {
		in := randInputs(t, 30, 50, 3, 0.1, sparse)
		e := &Executor{Mode: Cellwise, Kernel: zeroKernel{}}

		for _, threads := range []int{1, 4} {
			out := matrix.NewDense(0, 0)
			if err := e.ExecuteMatrix(in, out, threads); err != nil {
				t.Fatal(err)
			}
			if out.IsSparse() != sparse {
				t.Fatalf("sparse=%v threads=%d: output layout did not follow guide", sparse, threads)
			}
			if out.NonZeros() != in.A.NonZeros() {
				t.Fatalf("sparse=%v threads=%d: out nnz %d, guide nnz %d",
					sparse, threads, out.NonZeros(), in.A.NonZeros())
			}
		}
	}
}

type zeroKernel struct{}

func (zeroKernel) EvalRow(_ float64, _, _ []float64, _ *Operands, _ []float64, _, _ int) {}
func (zeroKernel) EvalCell(float64, []float64, []float64, *Operands, int, int) float64 {
	return 0
}

func TestLeftRightDuality(t *testing.T) {
	for _, sparse := range []bool{false, true} {
		in := randInputs(t, 19, 27, 4, 0.3, sparse)

		left := &Executor{Mode: Left, Kernel: FactorScaleKernel{}}
		outL := matrix.NewDense(0, 0)
		if err := left.ExecuteMatrix(in, outL, 1); err != nil {
			t.Fatal(err)
		}

		dual := &Inputs{A: in.A.Transpose(), U: in.V, V: in.U}
		right := &Executor{Mode: Right, Kernel: FactorScaleKernel{Right: true}}
		outR := matrix.NewDense(0, 0)
		if err := right.ExecuteMatrix(dual, outR, 1); err != nil {
			t.Fatal(err)
		}

		assertBlocksEqual(t, outL, outR, 1e-12)
	}
}

func TestEmptyInputShortCircuit(t *testing.T) {
	m, n, k := 8, 6, 3
	emptyGuide := matrix.NewSparse(m, n)
	guide := matrix.RandSparse(m, n, 0.5, 5)
	u := matrix.NewDense(m, k)
	v := matrix.NewDense(n, k)
	fullU := matrix.NewDense(m, k)
	fullV := matrix.NewDense(n, k)
	matrix.FillRand(fullU, 1)
	matrix.FillRand(fullV, 2)

	cases := []struct {
		name       string
		mode       Mode
		in         *Inputs
		wantR      int
		wantC      int
	}{
		{"left empty U", Left, &Inputs{A: guide, U: u, V: fullV}, n, k},
		{"right empty V", Right, &Inputs{A: guide, U: fullU, V: v}, m, k},
		{"cellwise empty A", Cellwise, &Inputs{A: emptyGuide, U: fullU, V: fullV}, m, n},
		{"left empty A", Left, &Inputs{A: emptyGuide, U: fullU, V: fullV}, n, k},
	}
	for _, tc := range cases {
		e := &Executor{Mode: tc.mode, Kernel: FactorScaleKernel{}}
		out := matrix.NewDense(4, 4)
		if err := e.ExecuteMatrix(tc.in, out, 1); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if out.Rows != tc.wantR || out.Cols != tc.wantC {
			t.Fatalf("%s: shape %dx%d, want %dx%d", tc.name, out.Rows, out.Cols, tc.wantR, tc.wantC)
		}
		if !out.IsSparse() || out.NonZeros() != 0 {
			t.Fatalf("%s: want empty sparse output", tc.name)
		}
	}

	agg := &Executor{Mode: Aggregate, Kernel: WeightKernel{}}
	got, err := agg.ExecuteScalar(&Inputs{A: emptyGuide, U: fullU, V: fullV}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("aggregate over empty guide = %g, want 0", got)
	}
}

// The 2x2 identity scenario: only diagonal cells are visited and
// dot(u_i, v_i) = 1 there, so cellwise reproduces the identity and the
// aggregate sums to 2.
func TestIdentityScenario(t *testing.T) {
	id := matrix.FromDense([][]float64{{1, 0}, {0, 1}})
	in := &Inputs{A: id, U: id, V: id}

	cell := &Executor{Mode: Cellwise, Kernel: FactorScaleKernel{}}
	out := matrix.NewDense(0, 0)
	if err := cell.ExecuteMatrix(in, out, 1); err != nil {
		t.Fatal(err)
	}
	want := matrix.FromDense([][]float64{{1, 0}, {0, 1}})
	assertBlocksEqual(t, out, want, 0)

	agg := &Executor{Mode: Aggregate, Kernel: FactorScaleKernel{}}
	got, err := agg.ExecuteScalar(in, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("aggregate = %g, want 2", got)
	}
}

func TestShapeResolutionIdempotent(t *testing.T) {
	in := randInputs(t, 12, 9, 4, 0.4, true)
	e := &Executor{Mode: Left, Kernel: FactorScaleKernel{}}

	out := matrix.NewDense(0, 0)
	if err := e.ExecuteMatrix(in, out, 1); err != nil {
		t.Fatal(err)
	}
	r1, c1, s1 := out.Rows, out.Cols, out.IsSparse()
	if err := e.ExecuteMatrix(in, out, 1); err != nil {
		t.Fatal(err)
	}
	if out.Rows != r1 || out.Cols != c1 || out.IsSparse() != s1 {
		t.Fatal("repeated execution changed output shape or layout")
	}
}

func TestInvalidArguments(t *testing.T) {
	kn := FactorScaleKernel{}
	u := matrix.NewDense(2, 2)
	e := &Executor{Mode: Left, Kernel: kn}

	if err := e.ExecuteMatrix(nil, matrix.NewDense(0, 0), 1); !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("nil inputs: %v", err)
	}
	if err := e.ExecuteMatrix(&Inputs{A: u, U: u, V: nil}, matrix.NewDense(0, 0), 1); !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("nil factor: %v", err)
	}
	if err := e.ExecuteMatrix(&Inputs{A: u, U: u, V: u}, nil, 1); !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("nil output: %v", err)
	}

	noKernel := &Executor{Mode: Left}
	if err := noKernel.ExecuteMatrix(&Inputs{A: u, U: u, V: u}, matrix.NewDense(0, 0), 1); !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("nil kernel: %v", err)
	}
}

func TestModeRouting(t *testing.T) {
	in := randInputs(t, 4, 4, 2, 0.5, false)

	agg := &Executor{Mode: Aggregate, Kernel: WeightKernel{}}
	if err := agg.ExecuteMatrix(in, matrix.NewDense(0, 0), 1); !errors.Is(err, ErrModeMismatch) {
		t.Fatalf("aggregate to matrix entry point: %v", err)
	}

	left := &Executor{Mode: Left, Kernel: WeightKernel{}}
	if _, err := left.ExecuteScalar(in, 1); !errors.Is(err, ErrModeMismatch) {
		t.Fatalf("left to scalar entry point: %v", err)
	}
}

func TestTaskPanicSurfacesAsError(t *testing.T) {
	in := randInputs(t, 16, 16, 2, 0.5, true)
	e := &Executor{Mode: Cellwise, Kernel: panicKernel{}}
	err := e.ExecuteMatrix(in, matrix.NewDense(0, 0), 4)
	if err == nil {
		t.Fatal("expected error from panicking kernel")
	}

	agg := &Executor{Mode: Aggregate, Kernel: panicKernel{}}
	if _, err := agg.ExecuteScalar(in, 4); err == nil {
		t.Fatal("expected error from panicking kernel")
	}
}

type panicKernel struct{}

func (panicKernel) EvalRow(float64, []float64, []float64, *Operands, []float64, int, int) {
	panic("kernel blew up")
}
func (panicKernel) EvalCell(float64, []float64, []float64, *Operands, int, int) float64 {
	panic("kernel blew up")
}

func TestTinyTuningStillCorrect(t *testing.T) {
	// Degenerate block sizes exercise the cursor front across many column
	// blocks without changing results.
	in := randInputs(t, 33, 47, 3, 0.2, true)
	kn := FactorScaleKernel{}
	want := naiveMatrix(Left, kn, in)

	e := &Executor{
		Mode:   Left,
		Kernel: kn,
		Tuning: Tuning{L2CacheBytes: 64, DenseTileEdge: 1, RowReuseFactor: 1, MinColBlock: 1},
	}
	out := matrix.NewDense(0, 0)
	if err := e.ExecuteMatrix(in, out, 3); err != nil {
		t.Fatal(err)
	}
	assertBlocksEqual(t, out, want, 1e-12)
}
