package outerprod

// Dense-guide iteration. Both paths tile the (row, column) range into
// square blocks of Tuning.DenseTileEdge cells so that the U/V rows touched
// per tile stay inside the L2 budget, then scan cell by cell in row-major
// order. A stored zero is never visited, matching sparse semantics.

// denseRowBlock runs the vector-output modes (Left, Right) over rows
// [rl, ru) and columns [cl, cu) of a dense guide buffer.
func (e *Executor) denseRowBlock(a, u, v []float64, op *Operands, c []float64, tn Tuning, rl, ru, cl, cu int) {
	n, k := op.N, op.K
	edge := tn.DenseTileEdge
	left := e.Mode == Left

	for bi := rl; bi < ru; bi += edge {
		bimin := min(ru, bi+edge)
		for bj := cl; bj < cu; bj += edge {
			bjmin := min(cu, bj+edge)

			for i := bi; i < bimin; i++ {
				arow := a[i*n : i*n+n]
				uix := i * k
				urow := u[uix : uix+k]
				for j := bj; j < bjmin; j++ {
					aij := arow[j]
					if aij == 0 {
						continue
					}
					vix := j * k
					// Left scatters into the V-indexed output row,
					// Right into the U-indexed one.
					cix := vix
					if !left {
						cix = uix
					}
					e.Kernel.EvalRow(aij, urow, v[vix:vix+k], op, c[cix:cix+k], i, j)
				}
			}
		}
	}
}

// denseCellBlock runs the scalar-output modes over a dense guide.
// Cellwise writes into c at the cell's row-major offset; Aggregate leaves
// c untouched and returns the partial sum for the covered range.
func (e *Executor) denseCellBlock(a, u, v []float64, op *Operands, c []float64, tn Tuning, rl, ru, cl, cu int) float64 {
	n, k := op.N, op.K
	edge := tn.DenseTileEdge
	cellwise := e.Mode == Cellwise
	var sum float64

	for bi := rl; bi < ru; bi += edge {
		bimin := min(ru, bi+edge)
		for bj := cl; bj < cu; bj += edge {
			bjmin := min(cu, bj+edge)

			for i := bi; i < bimin; i++ {
				ix := i * n
				uix := i * k
				urow := u[uix : uix+k]
				for j := bj; j < bjmin; j++ {
					aij := a[ix+j]
					if aij == 0 {
						continue
					}
					vix := j * k
					val := e.Kernel.EvalCell(aij, urow, v[vix:vix+k], op, i, j)
					if cellwise {
						c[ix+j] = val
					} else {
						sum += val
					}
				}
			}
		}
	}
	return sum
}
