package wmb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"

	"github.com/samcharles93/weft/internal/matrix"
)

// Write encodes a matrix block into a WMB file at path, replacing any
// existing file. The block's current layout (dense or sparse) selects
// the payload encoding.
func Write(path string, b *matrix.Block) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Encode streams a complete WMB image to w. The payload size is known
// from the block so the header is written first, no patching required.
func Encode(w io.Writer, b *matrix.Block) error {
	if b == nil {
		return errors.New("wmb: nil block")
	}

	hdr := Header{
		Major: CurrentMajor,
		Minor: CurrentMinor,
		Rows:  uint64(b.Rows),
		Cols:  uint64(b.Cols),
	}
	copy(hdr.Magic[:], MagicWMB)
	if b.IsSparse() {
		hdr.Layout = LayoutSparse
		hdr.NonZeros = uint64(sparseEntries(b))
	} else {
		hdr.Layout = LayoutDense
		hdr.NonZeros = uint64(b.NonZeros())
	}
	payload, ok := payloadSize(&hdr)
	if !ok {
		return errors.New("wmb: block dimensions not encodable")
	}
	hdr.FileSize = headerSize + payload

	bw := bufio.NewWriterSize(w, 1<<20)
	if _, err := bw.Write(encodeHeader(&hdr)); err != nil {
		return err
	}
	if b.IsSparse() {
		if err := encodeSparse(bw, b); err != nil {
			return err
		}
	} else {
		if err := encodeDense(bw, b); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// sparseEntries counts stored entries, which may exceed the value-level
// non-zero count when rows carry explicit zeros.
func sparseEntries(b *matrix.Block) int {
	total := 0
	for i := 0; i < b.Rows; i++ {
		total += b.RowLen(i)
	}
	return total
}

func encodeDense(w *bufio.Writer, b *matrix.Block) error {
	var buf [8]byte
	for _, v := range b.Dense() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func encodeSparse(w *bufio.Writer, b *matrix.Block) error {
	var buf [8]byte

	// Row pointers: cumulative entry counts, Rows+1 of them.
	cum := uint64(0)
	for i := 0; i <= b.Rows; i++ {
		binary.LittleEndian.PutUint64(buf[:], cum)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
		if i < b.Rows {
			cum += uint64(b.RowLen(i))
		}
	}

	for i := 0; i < b.Rows; i++ {
		for _, j := range b.RowIndexes(i) {
			binary.LittleEndian.PutUint64(buf[:], uint64(j))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	for i := 0; i < b.Rows; i++ {
		for _, v := range b.RowValues(i) {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return nil
}
