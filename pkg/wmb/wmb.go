// Package wmb implements the Weft Matrix Block file format.
//
// WMB is a single-file, memory-mappable container for one float64 matrix
// in either dense row-major or sparse row-compressed form. It describes
// shape and data only and never implies runtime behaviour.
package wmb

import "encoding/binary"

const (
	// MagicWMB is the file magic for all WMB containers, encoded "WMB\0".
	MagicWMB = "WMB\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1
	// CurrentMinor may add optional fields.
	CurrentMinor uint16 = 0

	// headerSize covers the fixed header plus padding; the payload starts
	// at this offset so mmap consumers see 64-byte aligned data.
	headerSize = 64
)

// Layout identifies the payload encoding.
type Layout uint32

const (
	// LayoutDense stores Rows*Cols float64 values in row-major order.
	LayoutDense Layout = 0
	// LayoutSparse stores a row-pointer array of Rows+1 uint64 entry
	// offsets, NonZeros uint64 column indexes, then NonZeros float64
	// values. Columns are strictly ascending within a row.
	LayoutSparse Layout = 1
)

// Header is the fixed-size file header. All integers are little-endian.
type Header struct {
	Magic    [4]byte
	Major    uint16
	Minor    uint16
	Layout   Layout
	Flags    uint32
	Rows     uint64
	Cols     uint64
	NonZeros uint64
	FileSize uint64
}

// encodedHeaderLen is the number of meaningful header bytes; the rest of
// the 64-byte header block is zero padding.
const encodedHeaderLen = 4 + 2 + 2 + 4 + 4 + 8 + 8 + 8 + 8

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == MagicWMB
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Major)
	binary.LittleEndian.PutUint16(buf[6:8], h.Minor)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Layout))
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.Rows)
	binary.LittleEndian.PutUint64(buf[24:32], h.Cols)
	binary.LittleEndian.PutUint64(buf[32:40], h.NonZeros)
	binary.LittleEndian.PutUint64(buf[40:48], h.FileSize)
	return buf
}

func decodeHeader(buf []byte) (Header, bool) {
	if len(buf) < encodedHeaderLen {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], buf[0:4])
	h.Major = binary.LittleEndian.Uint16(buf[4:6])
	h.Minor = binary.LittleEndian.Uint16(buf[6:8])
	h.Layout = Layout(binary.LittleEndian.Uint32(buf[8:12]))
	h.Flags = binary.LittleEndian.Uint32(buf[12:16])
	h.Rows = binary.LittleEndian.Uint64(buf[16:24])
	h.Cols = binary.LittleEndian.Uint64(buf[24:32])
	h.NonZeros = binary.LittleEndian.Uint64(buf[32:40])
	h.FileSize = binary.LittleEndian.Uint64(buf[40:48])
	return h, true
}

// payloadSize returns the expected payload byte count for a header, and
// whether the header's combination of fields is representable.
func payloadSize(h *Header) (uint64, bool) {
	switch h.Layout {
	case LayoutDense:
		cells := h.Rows * h.Cols
		if h.Rows != 0 && cells/h.Rows != h.Cols {
			return 0, false
		}
		return cells * 8, cells <= 1<<56
	case LayoutSparse:
		if h.Rows == 0 || h.Cols == 0 {
			return (h.Rows + 1) * 8, h.NonZeros == 0
		}
		if h.NonZeros > h.Rows*h.Cols {
			return 0, false
		}
		return (h.Rows+1)*8 + h.NonZeros*16, true
	default:
		return 0, false
	}
}
