package odbc

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Cursor is the forward-only live statement a result set reads from.
// Columns are 1-based.
type Cursor interface {
	NumColumns() (int, error)
	DescribeColumn(column int) (ColumnMetadata, error)
	// Fetch moves the cursor and reports whether a row is available.
	Fetch(orientation SQLSMALLINT, offset SQLLEN) (bool, error)
	// GetData reads the next chunk of a column into buf. The indicator is
	// SQL_NULL_DATA, SQL_NO_TOTAL, or the remaining length in bytes before
	// this read. truncated is set when more data remains. io.EOF is returned
	// once the column has been consumed completely.
	GetData(column int, cType SQLSMALLINT, buf []byte) (indicator SQLLEN, truncated bool, err error)
	RowCount() (SQLLEN, error)
	DiagRecords() []DiagRecord
}

// stmtCursor is a Cursor over an executed ODBC statement handle.
type stmtCursor struct {
	stmt SQLHSTMT
}

func newStmtCursor(stmt SQLHSTMT) *stmtCursor {
	return &stmtCursor{stmt: stmt}
}

func (c *stmtCursor) err() error {
	return NewError(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
}

func (c *stmtCursor) NumColumns() (int, error) {
	var n SQLSMALLINT
	if ret := NumResultCols(c.stmt, &n); !IsSuccess(ret) {
		return 0, c.err()
	}
	return int(n), nil
}

func (c *stmtCursor) DescribeColumn(column int) (ColumnMetadata, error) {
	name := make([]byte, 256)
	nameLen, dataType, colSize, scale, nullable, ret := DescribeCol(c.stmt, SQLUSMALLINT(column), name)
	if !IsSuccess(ret) {
		return ColumnMetadata{}, c.err()
	}
	if int(nameLen) > len(name)-1 {
		nameLen = SQLSMALLINT(len(name) - 1)
	}
	meta := ColumnMetadata{
		Name:     string(name[:nameLen]),
		Ordinal:  column,
		Type:     dataType,
		Size:     colSize,
		Scale:    scale,
		Nullable: nullable,
	}
	switch dataType {
	case SQL_BIGINT, SQL_DECIMAL, SQL_NUMERIC, SQL_GUID,
		SQL_DATETIME, SQL_TYPE_DATE, SQL_TYPE_TIME, SQL_TYPE_TIMESTAMP,
		SQL_REAL, SQL_FLOAT, SQL_DOUBLE:
		size, ret := ColAttributeNumeric(c.stmt, SQLUSMALLINT(column), SQL_DESC_DISPLAY_SIZE)
		if !IsSuccess(ret) {
			return ColumnMetadata{}, c.err()
		}
		meta.DisplaySize = size
	}
	return meta, nil
}

func (c *stmtCursor) Fetch(orientation SQLSMALLINT, offset SQLLEN) (bool, error) {
	ret := FetchScroll(c.stmt, orientation, offset)
	if ret == SQL_NO_DATA {
		return false, nil
	}
	if !IsSuccess(ret) {
		return false, c.err()
	}
	return true, nil
}

func (c *stmtCursor) GetData(column int, cType SQLSMALLINT, buf []byte) (SQLLEN, bool, error) {
	ind, ret := GetData(c.stmt, SQLUSMALLINT(column), cType, buf)
	switch {
	case ret == SQL_NO_DATA:
		return 0, false, io.EOF
	case ret == SQL_SUCCESS:
		return ind, false, nil
	case ret == SQL_SUCCESS_WITH_INFO:
		if ind == SQL_NULL_DATA {
			return ind, false, nil
		}
		// unixODBC pooling may drop the 01004 record, so compare lengths too
		payload := SQLLEN(len(buf) - terminatorSize(cType))
		truncated := ind == SQL_NO_TOTAL || ind > payload || hasState(c.DiagRecords(), SQLStateDataTruncation)
		return ind, truncated, nil
	}
	return 0, false, errors.Wrapf(c.err(), "SQLGetData column %d", column)
}

func (c *stmtCursor) RowCount() (SQLLEN, error) {
	var n SQLLEN
	if ret := RowCount(c.stmt, &n); !IsSuccess(ret) {
		return -1, c.err()
	}
	return n, nil
}

func (c *stmtCursor) DiagRecords() []DiagRecord {
	if c.stmt == 0 {
		return nil
	}
	return GetDiagRecords(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
}

// Close closes the cursor and frees the statement handle it owns.
func (c *stmtCursor) Close() error {
	if c.stmt == 0 {
		return nil
	}
	FreeStmt(c.stmt, SQL_CLOSE)
	FreeHandle(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
	c.stmt = 0
	return nil
}

func hasState(records []DiagRecord, state string) bool {
	for _, rec := range records {
		if strings.EqualFold(rec.SQLState, state) {
			return true
		}
	}
	return false
}

var _ Cursor = (*stmtCursor)(nil)
