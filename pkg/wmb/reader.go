package wmb

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/weft/internal/matrix"
)

type File struct {
	Data    []byte
	Header  *Header
	mmapped bool
}

// Open maps a WMB file read-only and validates its structure.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size64 := stat.Size()
	if size64 < 0 {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// cannot index this file safely as []byte on this architecture.
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size < headerSize {
		return nil, ErrCorruptFile
	}

	// Prefer mmap where available so large guide matrices avoid a copy
	// until the payload is decoded.
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err == nil {
		mf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return mf, nil
	}

	// Fallback path that does not require mmap support.
	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates a WMB from a random-access reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrCorruptFile
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:headerSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	want, ok := payloadSize(&hdr)
	if !ok {
		return nil, ErrCorruptFile
	}
	if uint64(len(data)) != headerSize+want {
		return nil, fmt.Errorf("%w: payload size mismatch", ErrCorruptFile)
	}
	if hdr.Rows > math.MaxInt32 || hdr.Cols > math.MaxInt32 {
		return nil, fmt.Errorf("%w: dimensions out of range", ErrCorruptFile)
	}

	return &File{
		Data:    data,
		Header:  &hdr,
		mmapped: mmapped,
	}, nil
}

// Payload returns a zero-copy slice covering the matrix payload.
// The caller must not retain this slice after File.Close().
func (f *File) Payload() []byte {
	if f == nil || f.Data == nil {
		return nil
	}
	return f.Data[headerSize:]
}

// Block decodes the payload into an owned matrix block. The block stays
// valid after the file is closed.
func (f *File) Block() (*matrix.Block, error) {
	if f == nil || f.Header == nil {
		return nil, ErrCorruptFile
	}
	rows := int(f.Header.Rows)
	cols := int(f.Header.Cols)
	payload := f.Payload()

	switch f.Header.Layout {
	case LayoutDense:
		b := matrix.NewDense(rows, cols)
		dst := b.Dense()
		for i := range dst {
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:]))
		}
		b.RecomputeNonZeros()
		return b, nil

	case LayoutSparse:
		nnz := int(f.Header.NonZeros)
		ptrBytes := (rows + 1) * 8
		rowPtr := payload[:ptrBytes]
		colIdx := payload[ptrBytes : ptrBytes+nnz*8]
		values := payload[ptrBytes+nnz*8:]

		b := matrix.NewSparse(rows, cols)
		prev := uint64(0)
		for i := 0; i < rows; i++ {
			lo := binary.LittleEndian.Uint64(rowPtr[i*8:])
			hi := binary.LittleEndian.Uint64(rowPtr[(i+1)*8:])
			if lo != prev || hi < lo || hi > uint64(nnz) {
				return nil, fmt.Errorf("%w: row pointers not monotonic", ErrCorruptFile)
			}
			prev = hi
			lastCol := -1
			for p := lo; p < hi; p++ {
				j := binary.LittleEndian.Uint64(colIdx[p*8:])
				if j >= uint64(cols) || int(j) <= lastCol {
					return nil, fmt.Errorf("%w: row %d columns out of order", ErrCorruptFile, i)
				}
				lastCol = int(j)
				v := math.Float64frombits(binary.LittleEndian.Uint64(values[p*8:]))
				b.Append(i, int(j), v)
			}
		}
		if prev != uint64(nnz) {
			return nil, fmt.Errorf("%w: entry count mismatch", ErrCorruptFile)
		}
		b.RecomputeNonZeros()
		return b, nil

	default:
		return nil, ErrCorruptFile
	}
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	if f.Data != nil {
		var err error
		if f.mmapped {
			err = unix.Munmap(f.Data)
		}
		f.Data = nil
		f.Header = nil
		f.mmapped = false
		return err
	}
	f.Header = nil
	f.mmapped = false
	return nil
}
