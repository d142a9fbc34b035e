package odbc

import (
	"io"

	"github.com/pkg/errors"
)

// liveResultSet forwards every call to the underlying cursor. It only
// supports forward fetches and reads each field once, in order.
type liveResultSet struct {
	cursor  Cursor
	meta    []ColumnMetadata
	closed  bool
	lastErr *Error
}

func newLiveResultSet(cursor Cursor) (*liveResultSet, error) {
	meta, err := describeColumns(cursor)
	if err != nil {
		return nil, err
	}
	return &liveResultSet{cursor: cursor, meta: meta}, nil
}

func (rs *liveResultSet) Columns() []ColumnMetadata {
	return rs.meta
}

func (rs *liveResultSet) IsCached(field int) bool {
	return false
}

func (rs *liveResultSet) Fetch(orientation SQLSMALLINT, offset SQLLEN) (SQLRETURN, error) {
	rs.lastErr = nil
	if rs.closed {
		rs.lastErr = errResultSetClosed
		return SQL_ERROR, errResultSetClosed
	}
	ok, err := rs.cursor.Fetch(orientation, offset)
	if err != nil {
		rs.remember(err)
		return SQL_ERROR, err
	}
	if !ok {
		return SQL_NO_DATA, nil
	}
	return SQL_SUCCESS, nil
}

func (rs *liveResultSet) GetData(field int, target SQLSMALLINT, buf []byte) (SQLLEN, SQLRETURN, error) {
	rs.lastErr = nil
	if rs.closed {
		rs.lastErr = errResultSetClosed
		return 0, SQL_ERROR, errResultSetClosed
	}
	ind, truncated, err := rs.cursor.GetData(field, target, buf)
	switch {
	case err == io.EOF:
		return 0, SQL_NO_DATA, nil
	case err != nil:
		rs.remember(err)
		return 0, SQL_ERROR, err
	case truncated:
		return ind, SQL_SUCCESS_WITH_INFO, nil
	}
	return ind, SQL_SUCCESS, nil
}

// remember keeps a package diagnostic so DiagRec can report it; driver
// failures are read back from the statement instead.
func (rs *liveResultSet) remember(err error) {
	var diag *Error
	if errors.As(err, &diag) {
		rs.lastErr = diag
	}
}

func (rs *liveResultSet) DiagRec(record int) (DiagRecord, bool) {
	if rs.lastErr != nil {
		if record != 1 {
			return DiagRecord{}, false
		}
		return rs.lastErr.DiagRecord(), true
	}
	if rs.closed {
		return DiagRecord{}, false
	}
	records := rs.cursor.DiagRecords()
	if record < 1 || record > len(records) {
		return DiagRecord{}, false
	}
	return records[record-1], true
}

func (rs *liveResultSet) RowCount() (SQLLEN, error) {
	if rs.closed {
		return -1, nil
	}
	return rs.cursor.RowCount()
}

func (rs *liveResultSet) OpenStream(field int, enc Encoding) (*Stream, error) {
	if rs.closed {
		return nil, errResultSetClosed
	}
	return newStream(rs.cursor, field, enc), nil
}

func (rs *liveResultSet) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	if c, ok := rs.cursor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ ResultSet = (*liveResultSet)(nil)
