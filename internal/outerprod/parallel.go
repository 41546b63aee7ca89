package outerprod

import (
	"fmt"
	"sync"

	"github.com/samcharles93/weft/internal/matrix"
)

// Parallel dispatch. Workers are spawned per call and joined before the
// call returns; there is no long-lived pool and no cross-call state. The
// partition axis is the one orthogonal to the output rows a mode writes:
// Left partitions the guide's columns (targets are V-indexed rows), Right
// and the scalar-output modes partition its rows. Blocks are contiguous
// and non-overlapping, so no output cell has two writers and the hot loop
// needs no locks. The only synchronised step is the reduction of per-task
// results after the join.

type taskResult struct {
	nnz int64
	sum float64
	err error
}

// partition splits [0, extent) into at most threads contiguous blocks.
func partition(extent, threads int) [][2]int {
	blklen := (extent + threads - 1) / threads
	var blocks [][2]int
	for lo := 0; lo < extent; lo += blklen {
		blocks = append(blocks, [2]int{lo, min(lo+blklen, extent)})
	}
	return blocks
}

// runTasks executes fn once per block on its own goroutine and joins.
// A panic inside a task is captured as that task's error; the output
// state after any failed task is undefined.
func runTasks(blocks [][2]int, fn func(lo, hi int) taskResult) []taskResult {
	res := make([]taskResult, len(blocks))
	var wg sync.WaitGroup
	for t, blk := range blocks {
		wg.Add(1)
		go func(t, lo, hi int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					res[t] = taskResult{err: fmt.Errorf("task over [%d,%d): %v", lo, hi, r)}
				}
			}()
			res[t] = fn(lo, hi)
		}(t, blk[0], blk[1])
	}
	wg.Wait()
	return res
}

func (e *Executor) executeMatrixParallel(in *Inputs, op *Operands, out *matrix.Block, tn Tuning, threads int) error {
	a := in.A
	u, v := in.U.Dense(), in.V.Dense()

	axis := op.M
	if e.Mode == Left {
		axis = op.N
	}
	blocks := partition(axis, threads)

	res := runTasks(blocks, func(lo, hi int) taskResult {
		switch e.Mode {
		case Left:
			if !a.IsSparse() {
				e.denseRowBlock(a.Dense(), u, v, op, out.Dense(), tn, 0, op.M, lo, hi)
			} else {
				e.sparseRowBlock(a, u, v, op, out.Dense(), tn, 0, op.M, lo, hi)
			}
			// Left wrote output rows [lo, hi): the column block maps to
			// V-indexed rows of the n x k result.
			return taskResult{nnz: out.CountNonZerosRange(lo, hi)}
		case Right:
			if !a.IsSparse() {
				e.denseRowBlock(a.Dense(), u, v, op, out.Dense(), tn, lo, hi, 0, op.N)
			} else {
				e.sparseRowBlock(a, u, v, op, out.Dense(), tn, lo, hi, 0, op.N)
			}
			return taskResult{nnz: out.CountNonZerosRange(lo, hi)}
		default: // Cellwise
			if !a.IsSparse() {
				e.denseCellBlock(a.Dense(), u, v, op, out.Dense(), tn, lo, hi, 0, op.N)
			} else {
				e.sparseCellBlock(a, u, v, op, out, tn, lo, hi)
			}
			// Structural count: one stored cell per guide non-zero in
			// the covered rows, whatever the kernel produced.
			return taskResult{nnz: a.CountNonZerosRange(lo, hi)}
		}
	})

	var nnz int64
	for _, r := range res {
		if r.err != nil {
			return fmt.Errorf("outerprod: parallel execution failed: %w", r.err)
		}
		nnz += r.nnz
	}
	out.SetNonZeros(nnz)
	// Cellwise carries the guide-derived structural count; converting the
	// layout would rescan values and drop kernel-produced zeros.
	if e.Mode != Cellwise {
		out.MaybeSparsify()
	}
	return nil
}

func (e *Executor) executeScalarParallel(in *Inputs, op *Operands, tn Tuning, threads int) (float64, error) {
	a := in.A
	u, v := in.U.Dense(), in.V.Dense()

	res := runTasks(partition(op.M, threads), func(lo, hi int) taskResult {
		if !a.IsSparse() {
			return taskResult{sum: e.denseCellBlock(a.Dense(), u, v, op, nil, tn, lo, hi, 0, op.N)}
		}
		return taskResult{sum: e.sparseCellBlock(a, u, v, op, nil, tn, lo, hi)}
	})

	var sum float64
	for _, r := range res {
		if r.err != nil {
			return 0, fmt.Errorf("outerprod: parallel execution failed: %w", r.err)
		}
		sum += r.sum
	}
	return sum, nil
}
