package outerprod

import "github.com/samcharles93/weft/internal/matrix"

// Sparse-guide iteration. Row blocks are sized from the guide's density so
// each U/V row pair is reused about RowReuseFactor times before moving on;
// a per-row cursor front advances monotonically across column blocks, so
// total work stays linear in the non-zero count regardless of block count.

// sparseBlockRows derives the row-block length for a sparse guide.
func sparseBlockRows(tn Tuning, m, n int, nnz int64) int {
	blk := int(int64(tn.RowReuseFactor) * int64(m) * int64(n) / nnz)
	// The formula can explode for near-empty guides; the cursor array is
	// sized by the block, so cap it at the full row count.
	if blk > m {
		blk = m
	}
	if blk < 1 {
		blk = 1
	}
	return blk
}

// sparseRowBlock runs the vector-output modes over rows [rl, ru) and
// columns [cl, cu) of a sparse guide.
func (e *Executor) sparseRowBlock(a *matrix.Block, u, v []float64, op *Operands, c []float64, tn Tuning, rl, ru, cl, cu int) {
	m, n, k := op.M, op.N, op.K
	left := e.Mode == Left

	blkI := sparseBlockRows(tn, m, n, a.NonZeros())
	blkJ := blkI
	if left {
		// Left scatters into V-indexed output rows, the layout most prone
		// to cache thrashing; bound the V rows touched per tile by the L2
		// budget (8 bytes per element).
		blkJ = max(tn.MinColBlock, min(tn.L2CacheBytes/(k*8), blkI))
	}
	curk := make([]int, blkI)

	for bi := rl; bi < ru; bi += blkI {
		bimin := min(ru, bi+blkI)

		// Position each row's cursor at the first stored column >= cl.
		for i := bi; i < bimin; i++ {
			if cl == 0 || a.IsEmptyRow(i) {
				curk[i-bi] = 0
				continue
			}
			pos := a.FirstColGE(i, cl)
			if pos < 0 {
				pos = a.RowLen(i)
			}
			curk[i-bi] = pos
		}

		for bj := cl; bj < cu; bj += blkJ {
			bjmin := min(cu, bj+blkJ)

			for i := bi; i < bimin; i++ {
				if a.IsEmptyRow(i) {
					continue
				}
				wix := a.RowIndexes(i)
				wval := a.RowValues(i)
				uix := i * k
				urow := u[uix : uix+k]

				pos := curk[i-bi]
				for ; pos < len(wix) && wix[pos] < bjmin; pos++ {
					j := wix[pos]
					vix := j * k
					cix := vix
					if !left {
						cix = uix
					}
					e.Kernel.EvalRow(wval[pos], urow, v[vix:vix+k], op, c[cix:cix+k], i, j)
				}
				curk[i-bi] = pos
			}
		}
	}
}

// sparseCellBlock runs the scalar-output modes over rows [rl, ru) of a
// sparse guide. For Cellwise the result lands in out, which shares A's
// layout: sparse output appends (i, j, value) in source order, dense
// output writes at the cell's row-major offset. For Aggregate out is nil
// and the partial sum is returned.
func (e *Executor) sparseCellBlock(a *matrix.Block, u, v []float64, op *Operands, out *matrix.Block, tn Tuning, rl, ru int) float64 {
	m, n, k := op.M, op.N, op.K
	cellwise := e.Mode == Cellwise

	blkIJ := sparseBlockRows(tn, m, n, a.NonZeros())
	curk := make([]int, blkIJ)
	var sum float64
	var dense []float64
	if cellwise && !out.IsSparse() {
		dense = out.Dense()
	}

	for bi := rl; bi < ru; bi += blkIJ {
		bimin := min(ru, bi+blkIJ)
		clear(curk)

		for bj := 0; bj < n; bj += blkIJ {
			bjmin := min(n, bj+blkIJ)

			for i := bi; i < bimin; i++ {
				if a.IsEmptyRow(i) {
					continue
				}
				wix := a.RowIndexes(i)
				wval := a.RowValues(i)
				uix := i * k
				urow := u[uix : uix+k]

				pos := curk[i-bi]
				for ; pos < len(wix) && wix[pos] < bjmin; pos++ {
					j := wix[pos]
					vix := j * k
					val := e.Kernel.EvalCell(wval[pos], urow, v[vix:vix+k], op, i, j)
					switch {
					case !cellwise:
						sum += val
					case dense != nil:
						dense[i*n+j] = val
					default:
						// Source scan order guarantees ascending columns.
						out.Append(i, j, val)
					}
				}
				curk[i-bi] = pos
			}
		}
	}
	return sum
}
