package wmb

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/weft/internal/matrix"
)

func writeTemp(t *testing.T, b *matrix.Block) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m.wmb")
	if err := Write(path, b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return path
}

func assertSameMatrix(t *testing.T, want, got *matrix.Block) {
	t.Helper()
	if got.Rows != want.Rows || got.Cols != want.Cols {
		t.Fatalf("shape mismatch: got %dx%d want %dx%d", got.Rows, got.Cols, want.Rows, want.Cols)
	}
	for i := 0; i < want.Rows; i++ {
		for j := 0; j < want.Cols; j++ {
			if got.Get(i, j) != want.Get(i, j) {
				t.Fatalf("cell (%d,%d): got %v want %v", i, j, got.Get(i, j), want.Get(i, j))
			}
		}
	}
}

func TestDenseRoundTrip(t *testing.T) {
	t.Parallel()
	b := matrix.NewDense(7, 5)
	matrix.FillRand(b, 11)
	path := writeTemp(t, b)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Header.Layout != LayoutDense {
		t.Fatalf("layout = %v, want dense", f.Header.Layout)
	}
	got, err := f.Block()
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	assertSameMatrix(t, b, got)
}

func TestSparseRoundTrip(t *testing.T) {
	t.Parallel()
	b := matrix.RandSparse(23, 17, 0.2, 42)
	path := writeTemp(t, b)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Header.Layout != LayoutSparse {
		t.Fatalf("layout = %v, want sparse", f.Header.Layout)
	}
	got, err := f.Block()
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !got.IsSparse() {
		t.Fatal("decoded block lost sparse layout")
	}
	if got.NonZeros() != b.NonZeros() {
		t.Fatalf("nnz = %d, want %d", got.NonZeros(), b.NonZeros())
	}
	assertSameMatrix(t, b, got)
}

func TestEmptySparseRoundTrip(t *testing.T) {
	t.Parallel()
	b := matrix.NewSparse(4, 6)
	path := writeTemp(t, b)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	got, err := f.Block()
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if got.NonZeros() != 0 {
		t.Fatalf("nnz = %d, want 0", got.NonZeros())
	}
}

func TestEncodeDecodeViaReaderAt(t *testing.T) {
	t.Parallel()
	b := matrix.RandSparse(9, 9, 0.3, 7)
	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := OpenReaderAt(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenReaderAt: %v", err)
	}
	defer func() { _ = f.Close() }()

	got, err := f.Block()
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	assertSameMatrix(t, b, got)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	t.Parallel()
	b := matrix.NewDense(2, 2)
	path := writeTemp(t, b)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err != ErrInvalidMagic {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestOpenRejectsTruncatedPayload(t *testing.T) {
	t.Parallel()
	b := matrix.NewDense(3, 3)
	matrix.FillRand(b, 1)
	path := writeTemp(t, b)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-8], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected corrupt-file error for truncated payload")
	}
}

func TestOpenRejectsUnsupportedMajor(t *testing.T) {
	t.Parallel()
	b := matrix.NewDense(2, 2)
	path := writeTemp(t, b)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint16(data[4:6], CurrentMajor+1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err != ErrUnsupportedMajor {
		t.Fatalf("err = %v, want ErrUnsupportedMajor", err)
	}
}

func TestParseRejectsEntriesWithoutShape(t *testing.T) {
	t.Parallel()
	h := Header{
		Major:    CurrentMajor,
		Minor:    CurrentMinor,
		Layout:   LayoutSparse,
		NonZeros: 1,
	}
	copy(h.Magic[:], MagicWMB)
	h.FileSize = headerSize + (h.Rows+1)*8 + h.NonZeros*16

	data := encodeHeader(&h)
	data = append(data, make([]byte, h.FileSize-headerSize)...)
	if _, err := OpenReaderAt(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatal("expected corrupt-file error for a 0x0 header claiming stored entries")
	}
}

func TestBlockRejectsDisorderedColumns(t *testing.T) {
	t.Parallel()
	b := matrix.NewSparse(2, 4)
	b.Append(0, 1, 1.0)
	b.Append(0, 3, 2.0)
	b.RecomputeNonZeros()

	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	// Swap the two column indexes of row 0 so they descend.
	colStart := headerSize + 3*8
	c0 := binary.LittleEndian.Uint64(data[colStart:])
	c1 := binary.LittleEndian.Uint64(data[colStart+8:])
	binary.LittleEndian.PutUint64(data[colStart:], c1)
	binary.LittleEndian.PutUint64(data[colStart+8:], c0)

	f, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Block(); err == nil {
		t.Fatal("expected corrupt-file error for descending columns")
	}
}
