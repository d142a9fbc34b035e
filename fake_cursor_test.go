package odbc

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// fakeCursor is an in-memory Cursor that follows SQLGetData chunking rules:
// a value larger than the buffer is truncated and continued on the next
// call, the indicator is the length remaining before the call, and a call
// after the value has been fully returned yields io.EOF.
//
// Row values are nil (NULL), int32, float64, string or []byte.
type fakeCursor struct {
	columns []ColumnMetadata
	rows    [][]interface{}
	pos     int

	offsets map[int]int
	done    map[int]bool

	// noTotal reports SQL_NO_TOTAL instead of the remaining length.
	noTotal bool

	fetchErrAt int
	fetchErr   error
	dataErrRow int
	dataErrCol int
	dataErr    error

	fetches  int
	getCalls map[int]int
	diags    []DiagRecord
	closed   bool
}

func newFakeCursor(columns []ColumnMetadata, rows ...[]interface{}) *fakeCursor {
	for i := range columns {
		columns[i].Ordinal = i + 1
	}
	return &fakeCursor{
		columns:  columns,
		rows:     rows,
		getCalls: map[int]int{},
	}
}

func intColumn(name string) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_INTEGER, Size: 10, Nullable: SQL_NULLABLE}
}

func doubleColumn(name string, displaySize SQLLEN) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_DOUBLE, Size: 53, DisplaySize: displaySize, Nullable: SQL_NULLABLE}
}

func charColumn(name string, size SQLULEN) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_CHAR, Size: size, Nullable: SQL_NULLABLE}
}

func wcharColumn(name string, size SQLULEN) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_WVARCHAR, Size: size, Nullable: SQL_NULLABLE}
}

func textColumn(name string) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_LONGVARCHAR, Nullable: SQL_NULLABLE}
}

func binaryColumn(name string, size SQLULEN) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_VARBINARY, Size: size, Nullable: SQL_NULLABLE}
}

func blobColumn(name string) ColumnMetadata {
	return ColumnMetadata{Name: name, Type: SQL_LONGVARBINARY, Nullable: SQL_NULLABLE}
}

func (c *fakeCursor) NumColumns() (int, error) {
	return len(c.columns), nil
}

func (c *fakeCursor) DescribeColumn(column int) (ColumnMetadata, error) {
	if column < 1 || column > len(c.columns) {
		return ColumnMetadata{}, errInvalidDescIndex
	}
	return c.columns[column-1], nil
}

func (c *fakeCursor) Fetch(orientation SQLSMALLINT, offset SQLLEN) (bool, error) {
	if orientation != SQL_FETCH_NEXT {
		return false, errInvalidFetchType
	}
	c.fetches++
	c.pos++
	if c.fetchErr != nil && c.pos == c.fetchErrAt {
		return false, c.fetchErr
	}
	c.offsets = map[int]int{}
	c.done = map[int]bool{}
	if c.pos > len(c.rows) {
		c.pos = len(c.rows) + 1
		return false, nil
	}
	return true, nil
}

func (c *fakeCursor) GetData(column int, cType SQLSMALLINT, buf []byte) (SQLLEN, bool, error) {
	c.getCalls[column]++
	if c.pos < 1 || c.pos > len(c.rows) {
		return 0, false, errInvalidCursorState
	}
	if c.dataErr != nil && c.pos == c.dataErrRow && column == c.dataErrCol {
		return 0, false, c.dataErr
	}
	value := c.rows[c.pos-1][column-1]
	if value == nil {
		return SQL_NULL_DATA, false, nil
	}

	switch cType {
	case SQL_C_LONG:
		if len(buf) < longSize {
			return 0, false, errInvalidBufferLength
		}
		binary.NativeEndian.PutUint32(buf, uint32(value.(int32)))
		return longSize, false, nil
	case SQL_C_DOUBLE:
		if len(buf) < doubleSize {
			return 0, false, errInvalidBufferLength
		}
		binary.NativeEndian.PutUint64(buf, math.Float64bits(value.(float64)))
		return doubleSize, false, nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
		if cType == SQL_C_WCHAR {
			data = stringToWide(v)
		}
	case []byte:
		data = v
	default:
		return 0, false, errors.Errorf("fake cursor cannot read %T as %s", value, CTypeName(cType))
	}

	if c.done[column] {
		return 0, false, io.EOF
	}
	remaining := data[c.offsets[column]:]
	term := terminatorSize(cType)
	if len(buf) >= len(remaining)+term {
		copy(buf, remaining)
		clear(buf[len(remaining) : len(remaining)+term])
		c.done[column] = true
		return SQLLEN(len(remaining)), false, nil
	}
	n := len(buf) - term
	if cType == SQL_C_WCHAR {
		n &^= 1
	}
	if n <= 0 {
		return 0, false, errInvalidBufferLength
	}
	copy(buf, remaining[:n])
	clear(buf[n : n+term])
	c.offsets[column] += n
	if c.noTotal {
		return SQL_NO_TOTAL, true, nil
	}
	return SQLLEN(len(remaining)), true, nil
}

func (c *fakeCursor) RowCount() (SQLLEN, error) {
	return -1, nil
}

func (c *fakeCursor) DiagRecords() []DiagRecord {
	return c.diags
}

func (c *fakeCursor) Close() error {
	c.closed = true
	return nil
}

var _ Cursor = (*fakeCursor)(nil)

// mustBuffer builds a buffered result set with the default options.
func mustBuffer(c *fakeCursor) (*BufferedResultSet, error) {
	opts := DefaultOptions()
	opts.Buffered = true
	return NewBufferedResultSet(c, opts)
}

func wideString(s string) []byte {
	return stringToWide(s)
}

func nativeLong(buf []byte) int32 {
	return int32(binary.NativeEndian.Uint32(buf))
}

func nativeDouble(buf []byte) float64 {
	return math.Float64frombits(binary.NativeEndian.Uint64(buf))
}
