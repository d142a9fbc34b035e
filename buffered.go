package odbc

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BufferedResultSet is a scrollable result set held entirely in memory. It
// is built by draining a forward-only cursor once; afterwards every fetch
// and field read is served from the cache.
//
// A BufferedResultSet is not safe for concurrent use.
type BufferedResultSet struct {
	cursor  Cursor
	opts    Options
	meta    []ColumnMetadata
	layout  *RowLayout
	rows    []*rowBuffer
	memUsed int64

	current   int
	lastField int
	readSoFar int
	lastError *Error
}

// NewBufferedResultSet materializes every remaining row of cursor. When the
// rows would take more than opts.BufferedQueryLimit KiB a *BufferLimitError
// is returned and nothing is retained.
func NewBufferedResultSet(cursor Cursor, opts Options) (*BufferedResultSet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	meta, err := describeColumns(cursor)
	if err != nil {
		return nil, err
	}
	layout, err := PlanRowLayout(meta, opts.Encoding)
	if err != nil {
		return nil, err
	}
	rows, memUsed, err := buildCache(cursor, layout, opts.BufferedQueryLimit)
	if err != nil {
		return nil, err
	}

	resultSetsBufferedCounter.Inc()
	rowsBufferedCounter.Add(float64(len(rows)))
	bytesBufferedCounter.Add(float64(memUsed))
	log.Debugf("buffered %d rows of %d columns using %d bytes", len(rows), len(meta), memUsed)

	return &BufferedResultSet{
		cursor:    cursor,
		opts:      opts,
		meta:      meta,
		layout:    layout,
		rows:      rows,
		memUsed:   memUsed,
		lastField: -1,
	}, nil
}

func describeColumns(cursor Cursor) ([]ColumnMetadata, error) {
	n, err := cursor.NumColumns()
	if err != nil {
		return nil, errors.Wrap(err, "counting result columns")
	}
	meta := make([]ColumnMetadata, n)
	for i := range meta {
		if meta[i], err = cursor.DescribeColumn(i + 1); err != nil {
			return nil, errors.Wrapf(err, "describing column %d", i+1)
		}
	}
	return meta, nil
}

// IsCached reports true: every field is served from memory.
func (rs *BufferedResultSet) IsCached(field int) bool {
	return true
}

// Columns returns the metadata of the result columns.
func (rs *BufferedResultSet) Columns() []ColumnMetadata {
	return rs.meta
}

// Layout returns the packed row layout shared by all cached rows.
func (rs *BufferedResultSet) Layout() *RowLayout {
	return rs.layout
}

// MemoryUsed is the number of bytes accounted against the limit.
func (rs *BufferedResultSet) MemoryUsed() int64 {
	return rs.memUsed
}

// Position returns the 1-based current row, 0 before the first row and
// RowCount()+1 after the last.
func (rs *BufferedResultSet) Position() int {
	return rs.current
}

// Fetch moves the cursor. NEXT and PRIOR are relative moves of +1 and -1.
// The cursor never goes further than one position before the first row or
// after the last one; landing there returns SQL_NO_DATA.
func (rs *BufferedResultSet) Fetch(orientation SQLSMALLINT, offset SQLLEN) (SQLRETURN, error) {
	rs.lastError = nil
	rs.lastField = -1
	rs.readSoFar = 0

	if rs.rows == nil {
		return rs.fail(errResultSetClosed)
	}

	switch orientation {
	case SQL_FETCH_NEXT:
		orientation, offset = SQL_FETCH_RELATIVE, 1
	case SQL_FETCH_PRIOR:
		orientation, offset = SQL_FETCH_RELATIVE, -1
	}

	rowCount := len(rs.rows)
	current := int64(rs.current)
	switch orientation {
	case SQL_FETCH_FIRST:
		current = 1
		if rowCount == 0 {
			current = 0
		}
	case SQL_FETCH_LAST:
		current = int64(rowCount)
	case SQL_FETCH_ABSOLUTE:
		current = int64(offset)
	case SQL_FETCH_RELATIVE:
		current += int64(offset)
	default:
		return rs.fail(errInvalidFetchType)
	}

	if current <= 0 && (offset < 0 || orientation != SQL_FETCH_RELATIVE) {
		rs.current = 0
		return SQL_NO_DATA, nil
	}
	if current > int64(rowCount) || (current <= 0 && offset > 0) {
		rs.current = rowCount + 1
		return SQL_NO_DATA, nil
	}
	// RELATIVE 0 before the first row has no row to land on
	if current <= 0 {
		rs.current = 0
		return SQL_NO_DATA, nil
	}
	rs.current = int(current)
	return SQL_SUCCESS, nil
}

func (rs *BufferedResultSet) fail(diag *Error) (SQLRETURN, error) {
	rs.lastError = diag
	return SQL_ERROR, diag
}

// GetData converts field (1-based) of the current row to target and copies
// it into buf. The returned indicator is SQL_NULL_DATA for NULL, otherwise
// the number of bytes that were available before any truncation. A value
// larger than buf is returned over several calls, each but the last
// reporting SQL_SUCCESS_WITH_INFO with a 01004 diagnostic. Reading another
// field or moving the cursor restarts the value.
func (rs *BufferedResultSet) GetData(field int, target SQLSMALLINT, buf []byte) (SQLLEN, SQLRETURN, error) {
	rs.lastError = nil
	if rs.rows == nil {
		ret, err := rs.fail(errResultSetClosed)
		return 0, ret, err
	}
	if field < 1 || field > len(rs.layout.Columns) {
		ret, err := rs.fail(errInvalidDescIndex)
		return 0, ret, err
	}
	if rs.current < 1 || rs.current > len(rs.rows) {
		ret, err := rs.fail(errInvalidCursorState)
		return 0, ret, err
	}

	idx := field - 1
	if idx != rs.lastField {
		rs.lastField = idx
		rs.readSoFar = 0
	}

	row := rs.rows[rs.current-1]
	if row.isNull(idx) {
		return SQL_NULL_DATA, SQL_SUCCESS, nil
	}

	col := rs.layout.Columns[idx]
	conv, ok := lookupConversion(col.CType, target)
	if !ok {
		ret, err := rs.fail(errRestrictedDataType)
		return 0, ret, err
	}

	ind, ret, diag := conv(rs, row, col, buf)
	rs.lastError = diag
	if ret == SQL_ERROR {
		return ind, ret, diag
	}
	return ind, ret, nil
}

// DiagRec returns diagnostic record number record (1-based). When the last
// call raised a diagnostic it is the only record; otherwise the records of
// the underlying statement are returned.
func (rs *BufferedResultSet) DiagRec(record int) (DiagRecord, bool) {
	if rs.lastError != nil {
		if record != 1 {
			return DiagRecord{}, false
		}
		return rs.lastError.DiagRecord(), true
	}
	if rs.cursor == nil {
		return DiagRecord{}, false
	}
	records := rs.cursor.DiagRecords()
	if record < 1 || record > len(records) {
		return DiagRecord{}, false
	}
	return records[record-1], true
}

// RowCount returns the number of cached rows, or -1 once the result set
// has been closed. A result without columns caches nothing and reports 0.
func (rs *BufferedResultSet) RowCount() (SQLLEN, error) {
	rs.lastError = nil
	if rs.rows == nil {
		return -1, nil
	}
	return SQLLEN(len(rs.rows)), nil
}

// OpenStream returns a reader over field of the current row.
func (rs *BufferedResultSet) OpenStream(field int, enc Encoding) (*Stream, error) {
	if rs.rows == nil {
		return nil, errResultSetClosed
	}
	if field < 1 || field > len(rs.layout.Columns) {
		return nil, errInvalidDescIndex
	}
	if rs.current < 1 || rs.current > len(rs.rows) {
		return nil, errInvalidCursorState
	}
	return newStream(cacheSource{rs}, field, enc), nil
}

// Close releases every cached row and the out-of-row values they own, and
// closes the cursor when it is an io.Closer.
func (rs *BufferedResultSet) Close() error {
	var err error
	if c, ok := rs.cursor.(io.Closer); ok {
		err = c.Close()
	}
	rs.rows = nil
	rs.cursor = nil
	rs.current = 0
	rs.lastField = -1
	rs.readSoFar = 0
	rs.lastError = nil
	return err
}

// cacheSource adapts the cache to the chunk protocol of a live cursor.
type cacheSource struct {
	rs *BufferedResultSet
}

func (s cacheSource) GetData(column int, cType SQLSMALLINT, buf []byte) (SQLLEN, bool, error) {
	ind, ret, err := s.rs.GetData(column, cType, buf)
	if err != nil {
		return 0, false, err
	}
	return ind, ret == SQL_SUCCESS_WITH_INFO, nil
}

var _ ResultSet = (*BufferedResultSet)(nil)
