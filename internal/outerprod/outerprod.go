// Package outerprod evaluates a fused outer-product operator: an injected
// per-element kernel applied over the outer product of two dense factor
// matrices U (m x k) and V (n x k), visiting only the cells selected by
// the non-zero pattern of a guide matrix A (m x n).
//
// Four output modes share one blocked iteration skeleton: Left accumulates
// k-length rows into an n x k result indexed by A's columns, Right into an
// m x k result indexed by A's rows, Cellwise writes one scalar per visited
// cell into a result shaped like A, and Aggregate reduces all scalars into
// a single value.
//
// Parallel execution partitions the guide matrix along the axis orthogonal
// to the written output rows, so concurrent workers never touch the same
// output region and the hot loop runs without locks.
package outerprod

import (
	"errors"
	"fmt"
)

// Mode selects the algebraic output shape of the operator.
type Mode int

const (
	// Left accumulates into column-indexed output rows (n x k).
	Left Mode = iota
	// Right accumulates into row-indexed output rows (m x k).
	Right
	// Cellwise writes one scalar per visited cell (shaped like A).
	Cellwise
	// Aggregate sums the scalar kernel over all visited cells.
	Aggregate
)

func (m Mode) String() string {
	switch m {
	case Left:
		return "left"
	case Right:
		return "right"
	case Cellwise:
		return "cellwise"
	case Aggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name as used by the CLI and config files.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "cellwise":
		return Cellwise, nil
	case "aggregate", "agg", "sum":
		return Aggregate, nil
	default:
		return 0, fmt.Errorf("outerprod: unknown mode %q", s)
	}
}

var (
	// ErrInvalidInputs signals a missing guide, factor, or output block.
	ErrInvalidInputs = errors.New("outerprod: invalid input arguments")
	// ErrModeMismatch signals Aggregate routed to the matrix entry point
	// or a matrix mode routed to the scalar entry point.
	ErrModeMismatch = errors.New("outerprod: mode routed to wrong entry point")
)

// Tuning holds the cache-blocking knobs. The defaults are derived from a
// 256 KiB L2 budget; both the dense tile edge and the sparse reuse factor
// were tuned empirically on that assumption and should be re-derived when
// targeting a different cache hierarchy.
type Tuning struct {
	// L2CacheBytes bounds the working set of factor rows per tile.
	L2CacheBytes int
	// DenseTileEdge is the square tile edge on the dense guide path.
	DenseTileEdge int
	// RowReuseFactor sizes sparse row blocks so each U/V row pair is
	// reused about this many times before eviction.
	RowReuseFactor int
	// MinColBlock is the floor for the Left-mode column block.
	MinColBlock int
}

// DefaultTuning returns the tuning used when Executor.Tuning is zero.
func DefaultTuning() Tuning {
	return Tuning{
		L2CacheBytes:   256 << 10,
		DenseTileEdge:  16,
		RowReuseFactor: 8,
		MinColBlock:    8,
	}
}

// withDefaults fills unset fields so a zero Tuning behaves like
// DefaultTuning while explicit overrides survive.
func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.L2CacheBytes <= 0 {
		t.L2CacheBytes = d.L2CacheBytes
	}
	if t.DenseTileEdge <= 0 {
		t.DenseTileEdge = d.DenseTileEdge
	}
	if t.RowReuseFactor <= 0 {
		t.RowReuseFactor = d.RowReuseFactor
	}
	if t.MinColBlock <= 0 {
		t.MinColBlock = d.MinColBlock
	}
	return t
}
