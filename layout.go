package odbc

import (
	"fmt"
	"math/bits"
)

const (
	// SizeUnknown marks a column stored out of row.
	SizeUnknown = 0

	ptrSize          = bits.UintSize / 8
	lengthPrefixSize = 8
	wcharSize        = 2
	longSize         = 4
	doubleSize       = 8
)

// ColumnMetadata describes one column of a live result set.
type ColumnMetadata struct {
	Name        string
	Ordinal     int
	Type        SQLSMALLINT
	Size        SQLULEN
	Scale       SQLSMALLINT
	Nullable    SQLSMALLINT
	DisplaySize SQLLEN
}

// ColumnLayout is the in-row placement of a buffered column.
type ColumnLayout struct {
	Name        string
	Type        SQLSMALLINT
	CType       SQLSMALLINT
	Offset      int
	Length      int // SizeUnknown for LOB columns
	Scale       SQLSMALLINT
	DisplaySize SQLLEN
}

// IsLOB reports whether the column's value lives outside the row.
func (c ColumnLayout) IsLOB() bool {
	return c.Length == SizeUnknown
}

// capacity is the number of value bytes an in-row variable cell can hold,
// including the terminator.
func (c ColumnLayout) capacity() int {
	return c.Length - lengthPrefixSize
}

// RowLayout is the packed shape shared by every row of a buffered result set.
type RowLayout struct {
	Columns   []ColumnLayout
	NullBytes int
	RowSize   int
}

func alignPtr(n int) int {
	return (n + ptrSize - 1) &^ (ptrSize - 1)
}

// terminatorSize is the trailing NUL width SQLGetData writes for cType.
func terminatorSize(cType SQLSMALLINT) int {
	switch cType {
	case SQL_C_CHAR:
		return 1
	case SQL_C_WCHAR:
		return wcharSize
	default:
		return 0
	}
}

// storageCType picks the C type a wire type is materialized as.
func storageCType(sqlType SQLSMALLINT, enc Encoding) (SQLSMALLINT, error) {
	switch sqlType {
	case SQL_BIGINT, SQL_DECIMAL, SQL_NUMERIC, SQL_GUID,
		SQL_DATETIME, SQL_TYPE_DATE, SQL_TYPE_TIME, SQL_TYPE_TIMESTAMP:
		return SQL_C_CHAR, nil
	case SQL_CHAR, SQL_VARCHAR, SQL_LONGVARCHAR:
		if enc == EncodingUTF8 {
			return SQL_C_WCHAR, nil
		}
		return SQL_C_CHAR, nil
	case SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR:
		return SQL_C_WCHAR, nil
	case SQL_BINARY, SQL_VARBINARY, SQL_LONGVARBINARY:
		return SQL_C_BINARY, nil
	case SQL_BIT, SQL_BOOLEAN, SQL_TINYINT, SQL_SMALLINT, SQL_INTEGER:
		return SQL_C_LONG, nil
	case SQL_REAL, SQL_FLOAT, SQL_DOUBLE:
		return SQL_C_DOUBLE, nil
	}
	return 0, &Error{
		SQLState: SQLStateOptionalFeature,
		Message:  fmt.Sprintf("Unsupported column type %s for a buffered result set", SQLTypeName(sqlType)),
	}
}

// cellLength returns the in-row byte length of a column, or SizeUnknown.
func cellLength(col ColumnMetadata, cType SQLSMALLINT) int {
	switch col.Type {
	case SQL_LONGVARCHAR, SQL_WLONGVARCHAR, SQL_LONGVARBINARY:
		return SizeUnknown
	case SQL_BIGINT, SQL_DECIMAL, SQL_NUMERIC, SQL_GUID,
		SQL_DATETIME, SQL_TYPE_DATE, SQL_TYPE_TIME, SQL_TYPE_TIMESTAMP:
		if col.DisplaySize <= 0 {
			return SizeUnknown
		}
		return int(col.DisplaySize) + lengthPrefixSize + 1
	}
	switch cType {
	case SQL_C_LONG:
		return longSize
	case SQL_C_DOUBLE:
		return doubleSize
	case SQL_C_WCHAR:
		if col.Size == 0 {
			return SizeUnknown
		}
		return int(col.Size)*wcharSize + lengthPrefixSize + wcharSize
	default:
		if col.Size == 0 {
			return SizeUnknown
		}
		return int(col.Size) + lengthPrefixSize + 1
	}
}

// PlanRowLayout computes where each column lives inside a packed row. The row
// starts with a null bitmap of one bit per column; every cell is aligned to
// the pointer size, and LOB columns take a pointer-sized cell.
func PlanRowLayout(cols []ColumnMetadata, enc Encoding) (*RowLayout, error) {
	layout := &RowLayout{
		Columns:   make([]ColumnLayout, len(cols)),
		NullBytes: (len(cols) + 7) / 8,
	}
	offset := layout.NullBytes
	for i, col := range cols {
		cType, err := storageCType(col.Type, enc)
		if err != nil {
			return nil, err
		}
		offset = alignPtr(offset)
		length := cellLength(col, cType)
		layout.Columns[i] = ColumnLayout{
			Name:        col.Name,
			Type:        col.Type,
			CType:       cType,
			Offset:      offset,
			Length:      length,
			Scale:       col.Scale,
			DisplaySize: col.DisplaySize,
		}
		if length == SizeUnknown {
			offset += ptrSize
		} else {
			offset += length
		}
	}
	layout.RowSize = offset
	return layout, nil
}
