package odbc

import (
	"encoding/binary"
	"math"
)

// rowBuffer is one materialized row: a packed arena laid out by a RowLayout
// plus the out-of-row blocks its LOB cells refer to. A LOB cell holds the
// 1-based index of its block in lobs; zero is the null pointer. Every block
// starts with the same length prefix as an in-row variable cell.
type rowBuffer struct {
	data []byte
	lobs [][]byte
}

func newRowBuffer(layout *RowLayout) *rowBuffer {
	return &rowBuffer{data: make([]byte, layout.RowSize)}
}

func (r *rowBuffer) isNull(field int) bool {
	return r.data[field>>3]&(1<<(7-uint(field&7))) != 0
}

func (r *rowBuffer) setNull(field int) {
	r.data[field>>3] |= 1 << (7 - uint(field&7))
}

func (r *rowBuffer) long(col ColumnLayout) int32 {
	return int32(binary.NativeEndian.Uint32(r.data[col.Offset:]))
}

func (r *rowBuffer) double(col ColumnLayout) float64 {
	return math.Float64frombits(binary.NativeEndian.Uint64(r.data[col.Offset:]))
}

// cell returns the length-prefixed block backing a variable column.
func (r *rowBuffer) cell(col ColumnLayout) []byte {
	if !col.IsLOB() {
		return r.data[col.Offset : col.Offset+col.Length]
	}
	h := r.lobHandle(col)
	if h == 0 {
		return nil
	}
	return r.lobs[h-1]
}

// field returns the stored bytes of a variable column, without terminator.
func (r *rowBuffer) field(col ColumnLayout) []byte {
	cell := r.cell(col)
	if cell == nil {
		return nil
	}
	n := int(binary.NativeEndian.Uint64(cell))
	return cell[lengthPrefixSize : lengthPrefixSize+n]
}

func (r *rowBuffer) lobHandle(col ColumnLayout) uint64 {
	if ptrSize == 8 {
		return binary.NativeEndian.Uint64(r.data[col.Offset:])
	}
	return uint64(binary.NativeEndian.Uint32(r.data[col.Offset:]))
}

// attachLOB stores block as the out-of-row value of col.
func (r *rowBuffer) attachLOB(col ColumnLayout, block []byte) {
	r.lobs = append(r.lobs, block)
	h := uint64(len(r.lobs))
	if ptrSize == 8 {
		binary.NativeEndian.PutUint64(r.data[col.Offset:], h)
	} else {
		binary.NativeEndian.PutUint32(r.data[col.Offset:], uint32(h))
	}
}

func putLengthPrefix(cell []byte, n int) {
	binary.NativeEndian.PutUint64(cell, uint64(n))
}
