// Package matrix provides the in-memory matrix block consumed and produced
// by the outer-product executor.
//
// A Block is either dense (flat row-major float64 buffer) or sparse
// (per-row column-index and value slices, columns strictly increasing).
// The layout of a block is fixed for the duration of one executor call;
// representation changes happen only through Reset and MaybeSparsify.
package matrix

import (
	"math/rand"
	"sort"
)

// SparsityTurnPoint is the density below which MaybeSparsify converts a
// dense block to the sparse representation. Package variable so tests and
// the CLI can sweep it.
var SparsityTurnPoint = 0.4

// minSparsifyCols guards tiny matrices from flapping between layouts.
const minSparsifyCols = 40

// Block is a two-dimensional float64 matrix in dense or sparse form.
//
// Dense blocks keep a flat row-major buffer of length Rows*Cols. Sparse
// blocks keep one index/value slice pair per row. Out-of-range indices and
// layout-mismatched accessors panic; Block performs no synchronisation of
// its own.
type Block struct {
	Rows, Cols int

	sparse bool
	nnz    int64

	data []float64
	rows []sparseRow
}

type sparseRow struct {
	idx []int
	val []float64
}

// NewDense allocates a zero-initialised dense block.
func NewDense(r, c int) *Block {
	if r < 0 || c < 0 {
		panic("matrix: negative dimension")
	}
	return &Block{
		Rows: r,
		Cols: c,
		data: make([]float64, r*c),
	}
}

// NewSparse allocates an empty sparse block with no stored entries.
func NewSparse(r, c int) *Block {
	if r < 0 || c < 0 {
		panic("matrix: negative dimension")
	}
	return &Block{
		Rows:   r,
		Cols:   c,
		sparse: true,
		rows:   make([]sparseRow, r),
	}
}

// FromDense builds a dense block from row slices. All rows must have equal
// length.
func FromDense(rows [][]float64) *Block {
	r := len(rows)
	c := 0
	if r > 0 {
		c = len(rows[0])
	}
	b := NewDense(r, c)
	for i, row := range rows {
		if len(row) != c {
			panic("matrix: ragged rows")
		}
		copy(b.data[i*c:(i+1)*c], row)
	}
	b.RecomputeNonZeros()
	return b
}

// IsSparse reports whether the block uses the sparse representation.
func (b *Block) IsSparse() bool { return b.sparse }

// NonZeros returns the stored non-zero count.
func (b *Block) NonZeros() int64 { return b.nnz }

// SetNonZeros overrides the stored non-zero count. Used by the executor
// after a partitioned computation where per-task counts are aggregated.
func (b *Block) SetNonZeros(n int64) { b.nnz = n }

// IsEmpty reports whether the block has no stored non-zero entries.
func (b *Block) IsEmpty() bool { return b.nnz == 0 }

// Reset reshapes the block to r x c in the requested layout and drops all
// stored values. Dense buffers are reused when large enough.
func (b *Block) Reset(r, c int, sparse bool) {
	if r < 0 || c < 0 {
		panic("matrix: negative dimension")
	}
	b.Rows, b.Cols = r, c
	b.sparse = sparse
	b.nnz = 0
	if sparse {
		b.data = nil
		if cap(b.rows) >= r {
			b.rows = b.rows[:r]
			for i := range b.rows {
				b.rows[i] = sparseRow{}
			}
		} else {
			b.rows = make([]sparseRow, r)
		}
		return
	}
	b.rows = nil
	n := r * c
	if cap(b.data) >= n {
		b.data = b.data[:n]
		clear(b.data)
	} else {
		b.data = make([]float64, n)
	}
}

// Dense returns the flat row-major backing buffer of a dense block.
func (b *Block) Dense() []float64 {
	if b.sparse {
		panic("matrix: Dense on sparse block")
	}
	return b.data
}

// Get reads the value at (i, j) in either layout.
func (b *Block) Get(i, j int) float64 {
	b.boundsCheck(i, j)
	if !b.sparse {
		return b.data[i*b.Cols+j]
	}
	row := &b.rows[i]
	p := sort.SearchInts(row.idx, j)
	if p < len(row.idx) && row.idx[p] == j {
		return row.val[p]
	}
	return 0
}

// Set writes the value at (i, j) of a dense block and maintains the stored
// non-zero count. Sparse blocks are built through Append.
func (b *Block) Set(i, j int, v float64) {
	b.boundsCheck(i, j)
	if b.sparse {
		panic("matrix: Set on sparse block, use Append")
	}
	p := i*b.Cols + j
	old := b.data[p]
	b.data[p] = v
	if old == 0 && v != 0 {
		b.nnz++
	} else if old != 0 && v == 0 {
		b.nnz--
	}
}

// Append adds a stored entry at (i, j) to a sparse block. Columns must be
// appended in strictly increasing order per row; the entry is stored even
// when the value is zero, so structural sparsity is caller-controlled.
//
// Append does not maintain the stored non-zero count: parallel writers
// own disjoint row ranges and a shared counter would force them to
// synchronise. Call RecomputeNonZeros or SetNonZeros once appending is
// done.
func (b *Block) Append(i, j int, v float64) {
	b.boundsCheck(i, j)
	if !b.sparse {
		panic("matrix: Append on dense block")
	}
	row := &b.rows[i]
	if n := len(row.idx); n > 0 && row.idx[n-1] >= j {
		panic("matrix: Append out of column order")
	}
	row.idx = append(row.idx, j)
	row.val = append(row.val, v)
}

// IsEmptyRow reports whether row i of a sparse block has no stored entries.
func (b *Block) IsEmptyRow(i int) bool {
	return len(b.sparseRowAt(i).idx) == 0
}

// RowLen returns the number of stored entries in row i of a sparse block.
func (b *Block) RowLen(i int) int {
	return len(b.sparseRowAt(i).idx)
}

// RowIndexes returns the stored column indexes of row i, ascending.
// The slice aliases block storage and must not be modified.
func (b *Block) RowIndexes(i int) []int {
	return b.sparseRowAt(i).idx
}

// RowValues returns the stored values of row i, aligned with RowIndexes.
func (b *Block) RowValues(i int) []float64 {
	return b.sparseRowAt(i).val
}

// FirstColGE returns the position within row i of the first stored column
// >= c, or -1 when no such column exists.
func (b *Block) FirstColGE(i, c int) int {
	row := b.sparseRowAt(i)
	p := sort.SearchInts(row.idx, c)
	if p >= len(row.idx) {
		return -1
	}
	return p
}

func (b *Block) sparseRowAt(i int) *sparseRow {
	if !b.sparse {
		panic("matrix: sparse row access on dense block")
	}
	if i < 0 || i >= b.Rows {
		panic("matrix: row index out of range")
	}
	return &b.rows[i]
}

func (b *Block) boundsCheck(i, j int) {
	if i < 0 || i >= b.Rows || j < 0 || j >= b.Cols {
		panic("matrix: index out of range")
	}
}

// RecomputeNonZeros rescans the full block and refreshes the stored
// non-zero count. For sparse blocks every stored entry counts, matching
// the append contract.
func (b *Block) RecomputeNonZeros() int64 {
	b.nnz = b.CountNonZerosRange(0, b.Rows)
	return b.nnz
}

// CountNonZerosRange counts non-zeros in rows [rl, ru) without mutating
// the stored count. Each parallel task scans only the region it wrote.
func (b *Block) CountNonZerosRange(rl, ru int) int64 {
	var n int64
	if b.sparse {
		for i := rl; i < ru; i++ {
			n += int64(len(b.rows[i].idx))
		}
		return n
	}
	for _, v := range b.data[rl*b.Cols : ru*b.Cols] {
		if v != 0 {
			n++
		}
	}
	return n
}

// MaybeSparsify re-evaluates the physical layout after an in-place
// computation: a dense block whose density fell under SparsityTurnPoint is
// converted to sparse. The stored non-zero count must be current.
func (b *Block) MaybeSparsify() {
	if b.sparse || b.Cols <= minSparsifyCols || b.Rows == 0 || b.Cols == 0 {
		return
	}
	density := float64(b.nnz) / (float64(b.Rows) * float64(b.Cols))
	if density >= SparsityTurnPoint {
		return
	}
	rows := make([]sparseRow, b.Rows)
	for i := 0; i < b.Rows; i++ {
		base := i * b.Cols
		for j := 0; j < b.Cols; j++ {
			if v := b.data[base+j]; v != 0 {
				rows[i].idx = append(rows[i].idx, j)
				rows[i].val = append(rows[i].val, v)
			}
		}
	}
	b.sparse = true
	b.rows = rows
	b.data = nil
	b.RecomputeNonZeros()
}

// ToDense converts a sparse block to the dense representation in place.
// Dense blocks are returned unchanged.
func (b *Block) ToDense() {
	if !b.sparse {
		return
	}
	data := make([]float64, b.Rows*b.Cols)
	for i := range b.rows {
		base := i * b.Cols
		row := &b.rows[i]
		for p, j := range row.idx {
			data[base+j] = row.val[p]
		}
	}
	b.sparse = false
	b.data = data
	b.rows = nil
	b.RecomputeNonZeros()
}

// Transpose returns a new block with rows and columns exchanged, in the
// same layout as the receiver.
func (b *Block) Transpose() *Block {
	if !b.sparse {
		t := NewDense(b.Cols, b.Rows)
		for i := 0; i < b.Rows; i++ {
			base := i * b.Cols
			for j := 0; j < b.Cols; j++ {
				t.data[j*b.Rows+i] = b.data[base+j]
			}
		}
		t.RecomputeNonZeros()
		return t
	}
	t := NewSparse(b.Cols, b.Rows)
	// Row-major scan of the source appends column-major to the target,
	// which is exactly ascending column order per target row.
	for i := 0; i < b.Rows; i++ {
		row := &b.rows[i]
		for p, j := range row.idx {
			tr := &t.rows[j]
			tr.idx = append(tr.idx, i)
			tr.val = append(tr.val, row.val[p])
		}
	}
	t.nnz = b.nnz
	return t
}

// FillRand fills a dense block with reproducible pseudo-random values in
// (-1, 1). The same seed always yields the same matrix.
func FillRand(b *Block, seed int64) {
	if b.sparse {
		panic("matrix: FillRand on sparse block")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range b.data {
		b.data[i] = rng.Float64()*2 - 1
	}
	b.RecomputeNonZeros()
}

// RandSparse generates a sparse block where each cell is stored with the
// given probability. Values are in (-1, 1), never exactly zero.
func RandSparse(r, c int, density float64, seed int64) *Block {
	b := NewSparse(r, c)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() >= density {
				continue
			}
			v := rng.Float64()*2 - 1
			if v == 0 {
				v = 0.5
			}
			b.Append(i, j, v)
		}
	}
	b.RecomputeNonZeros()
	return b
}
