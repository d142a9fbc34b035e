package odbc

import (
	"database/sql/driver"
	"encoding/binary"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// readChunkSize is the buffer used for each SQLGetData call on variable
// length columns.
const readChunkSize = 4096

// Rows implements driver.Rows over a ResultSet, buffered or live.
type Rows struct {
	rs     ResultSet
	meta   []ColumnMetadata
	enc    Encoding
	chunk  []byte
	closed bool
}

// newRows creates a new Rows from a result set
func newRows(rs ResultSet, enc Encoding) (*Rows, error) {
	return &Rows{rs: rs, meta: rs.Columns(), enc: enc}, nil
}

// ResultSet returns the result set backing the rows.
func (r *Rows) ResultSet() ResultSet {
	return r.rs
}

// Columns returns the column names
func (r *Rows) Columns() []string {
	names := make([]string, len(r.meta))
	for i, col := range r.meta {
		names[i] = col.Name
	}
	return names
}

// Close closes the rows iterator and the result set
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rs.Close()
}

// Next fetches the next row
func (r *Rows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}

	ret, err := r.rs.Fetch(SQL_FETCH_NEXT, 0)
	if err != nil {
		return err
	}
	if ret == SQL_NO_DATA {
		return io.EOF
	}

	// Get data for each column
	for i := 0; i < len(dest) && i < len(r.meta); i++ {
		val, err := r.getColumnData(i + 1)
		if err != nil {
			return errors.Wrapf(err, "reading column %d (%s)", i+1, r.meta[i].Name)
		}
		dest[i] = val
	}

	return nil
}

// getColumnData retrieves data for a single column
func (r *Rows) getColumnData(field int) (driver.Value, error) {
	switch r.meta[field-1].Type {
	case SQL_BIT, SQL_BOOLEAN:
		v, null, err := r.getLong(field)
		if null || err != nil {
			return nil, err
		}
		return v != 0, nil
	case SQL_TINYINT, SQL_SMALLINT, SQL_INTEGER:
		v, null, err := r.getLong(field)
		if null || err != nil {
			return nil, err
		}
		return int64(v), nil
	case SQL_BIGINT:
		s, null, err := r.getText(field)
		if null || err != nil {
			return nil, err
		}
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v, nil
		}
		return s, nil
	case SQL_REAL, SQL_FLOAT, SQL_DOUBLE:
		v, null, err := r.getDouble(field)
		if null || err != nil {
			return nil, err
		}
		return v, nil
	case SQL_BINARY, SQL_VARBINARY, SQL_LONGVARBINARY:
		return r.getBytes(field)
	case SQL_CHAR, SQL_VARCHAR, SQL_LONGVARCHAR, SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR:
		if r.enc == EncodingBinary {
			return r.getBytes(field)
		}
	case SQL_TYPE_DATE, SQL_TYPE_TIME, SQL_TYPE_TIMESTAMP, SQL_DATETIME:
		s, null, err := r.getText(field)
		if null || err != nil {
			return nil, err
		}
		if t, ok := parseTime(s); ok {
			return t, nil
		}
		return s, nil
	}
	// Numeric, decimal, GUID and text columns are returned as strings
	s, null, err := r.getText(field)
	if null || err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Rows) getFixed(field int, cType SQLSMALLINT, size int) ([]byte, bool, error) {
	buf := make([]byte, size)
	ind, _, err := r.rs.GetData(field, cType, buf)
	if err != nil {
		return nil, false, err
	}
	if ind == SQL_NULL_DATA {
		return nil, true, nil
	}
	return buf, false, nil
}

func (r *Rows) getLong(field int) (int32, bool, error) {
	buf, null, err := r.getFixed(field, SQL_C_LONG, longSize)
	if null || err != nil {
		return 0, null, err
	}
	return int32(binary.NativeEndian.Uint32(buf)), false, nil
}

func (r *Rows) getDouble(field int) (float64, bool, error) {
	buf, null, err := r.getFixed(field, SQL_C_DOUBLE, doubleSize)
	if null || err != nil {
		return 0, null, err
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(buf)), false, nil
}

// getText reads a column as UTF-16 and converts it to a Go string.
// Malformed UTF-16 fails with IMSSP.
func (r *Rows) getText(field int) (string, bool, error) {
	data, null, err := r.readField(field, SQL_C_WCHAR)
	if null || err != nil {
		return "", null, err
	}
	text, diag := wideToNarrow(data, unicode.UTF8)
	if diag != nil {
		return "", false, diag
	}
	return string(text), false, nil
}

// ReadString reads field of the current row of rs as text. null is set
// for SQL NULL.
func ReadString(rs ResultSet, field int) (s string, null bool, err error) {
	r := &Rows{rs: rs, meta: rs.Columns()}
	return r.getText(field)
}

func (r *Rows) getBytes(field int) (driver.Value, error) {
	data, null, err := r.readField(field, SQL_C_BINARY)
	if null || err != nil {
		return nil, err
	}
	return data, nil
}

// readField reads a whole variable length value chunk by chunk. When the
// driver reports the remaining length the next chunk is sized to fit it.
func (r *Rows) readField(field int, cType SQLSMALLINT) ([]byte, bool, error) {
	term := terminatorSize(cType)
	if cap(r.chunk) < readChunkSize+term {
		r.chunk = make([]byte, readChunkSize+term)
	}
	chunk := r.chunk[:readChunkSize+term]

	var out []byte
	for {
		ind, ret, err := r.rs.GetData(field, cType, chunk)
		if err != nil {
			return nil, false, err
		}
		switch {
		case ret == SQL_NO_DATA:
			return out, false, nil
		case ind == SQL_NULL_DATA:
			return nil, true, nil
		case ret == SQL_SUCCESS_WITH_INFO:
			n := len(chunk) - term
			if term == wcharSize {
				n &^= 1
			}
			out = append(out, chunk[:n]...)
			if ind != SQL_NO_TOTAL {
				if rest := int(ind) - n + term; rest > len(chunk) {
					chunk = make([]byte, rest)
				}
			}
		default:
			n := int(ind)
			if n < 0 || n > len(chunk)-term {
				n = len(chunk) - term
			}
			out = append(out, chunk[:n]...)
			if out == nil {
				out = []byte{}
			}
			return out, false, nil
		}
	}
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

// parseTime parses the textual form drivers use for date and time columns.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ColumnTypeScanType returns the Go type suitable for scanning into
func (r *Rows) ColumnTypeScanType(index int) reflect.Type {
	if index < 0 || index >= len(r.meta) {
		return reflect.TypeOf(new(interface{})).Elem()
	}

	switch r.meta[index].Type {
	case SQL_BIT, SQL_BOOLEAN:
		return reflect.TypeOf(false)
	case SQL_TINYINT, SQL_SMALLINT, SQL_INTEGER, SQL_BIGINT:
		return reflect.TypeOf(int64(0))
	case SQL_REAL, SQL_FLOAT, SQL_DOUBLE:
		return reflect.TypeOf(float64(0))
	case SQL_NUMERIC, SQL_DECIMAL, SQL_GUID:
		return reflect.TypeOf("") // String preserves decimal precision
	case SQL_CHAR, SQL_VARCHAR, SQL_LONGVARCHAR, SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR:
		if r.enc == EncodingBinary {
			return reflect.TypeOf([]byte{})
		}
		return reflect.TypeOf("")
	case SQL_BINARY, SQL_VARBINARY, SQL_LONGVARBINARY:
		return reflect.TypeOf([]byte{})
	case SQL_TYPE_DATE, SQL_TYPE_TIME, SQL_TYPE_TIMESTAMP, SQL_DATETIME:
		return reflect.TypeOf(time.Time{})
	default:
		return reflect.TypeOf(new(interface{})).Elem()
	}
}

// ColumnTypeDatabaseTypeName returns the database type name
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	if index < 0 || index >= len(r.meta) {
		return ""
	}

	switch r.meta[index].Type {
	case SQL_CHAR:
		return "CHAR"
	case SQL_VARCHAR:
		return "VARCHAR"
	case SQL_LONGVARCHAR:
		return "TEXT"
	case SQL_WCHAR:
		return "NCHAR"
	case SQL_WVARCHAR:
		return "NVARCHAR"
	case SQL_WLONGVARCHAR:
		return "NTEXT"
	case SQL_DECIMAL:
		return "DECIMAL"
	case SQL_NUMERIC:
		return "NUMERIC"
	case SQL_SMALLINT:
		return "SMALLINT"
	case SQL_INTEGER:
		return "INTEGER"
	case SQL_REAL:
		return "REAL"
	case SQL_FLOAT:
		return "FLOAT"
	case SQL_DOUBLE:
		return "DOUBLE"
	case SQL_BIT:
		return "BIT"
	case SQL_BOOLEAN:
		return "BOOLEAN"
	case SQL_TINYINT:
		return "TINYINT"
	case SQL_BIGINT:
		return "BIGINT"
	case SQL_BINARY:
		return "BINARY"
	case SQL_VARBINARY:
		return "VARBINARY"
	case SQL_LONGVARBINARY:
		return "BLOB"
	case SQL_TYPE_DATE:
		return "DATE"
	case SQL_TYPE_TIME:
		return "TIME"
	case SQL_TYPE_TIMESTAMP, SQL_DATETIME:
		return "TIMESTAMP"
	case SQL_GUID:
		return "GUID"
	default:
		return "UNKNOWN"
	}
}

// ColumnTypeLength returns the length of a column
func (r *Rows) ColumnTypeLength(index int) (length int64, ok bool) {
	if index < 0 || index >= len(r.meta) {
		return 0, false
	}
	// Only return length for variable-length types
	switch r.meta[index].Type {
	case SQL_CHAR, SQL_VARCHAR, SQL_LONGVARCHAR, SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR,
		SQL_BINARY, SQL_VARBINARY, SQL_LONGVARBINARY:
		return int64(r.meta[index].Size), true
	}
	return 0, false
}

// ColumnTypeNullable returns whether a column is nullable
func (r *Rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	if index < 0 || index >= len(r.meta) {
		return false, false
	}
	switch r.meta[index].Nullable {
	case SQL_NO_NULLS:
		return false, true
	case SQL_NULLABLE:
		return true, true
	default:
		return false, false // Unknown
	}
}

// ColumnTypePrecisionScale returns the precision and scale for NUMERIC/DECIMAL types
func (r *Rows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	if index < 0 || index >= len(r.meta) {
		return 0, 0, false
	}
	switch r.meta[index].Type {
	case SQL_NUMERIC, SQL_DECIMAL:
		// Size = precision (total digits), Scale = digits after the decimal point
		return int64(r.meta[index].Size), int64(r.meta[index].Scale), true
	default:
		return 0, 0, false
	}
}

// Ensure Rows implements the required interfaces
var (
	_ driver.Rows                           = (*Rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ driver.RowsColumnTypeLength           = (*Rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*Rows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*Rows)(nil)
)
