package odbc

// ResultSet is the read side of an executed statement. Fields are 1-based.
type ResultSet interface {
	// IsCached reports whether field is served from memory.
	IsCached(field int) bool
	Columns() []ColumnMetadata
	Fetch(orientation SQLSMALLINT, offset SQLLEN) (SQLRETURN, error)
	GetData(field int, target SQLSMALLINT, buf []byte) (SQLLEN, SQLRETURN, error)
	DiagRec(record int) (DiagRecord, bool)
	// RowCount is -1 when unknown.
	RowCount() (SQLLEN, error)
	// OpenStream returns a reader over one field of the current row.
	OpenStream(field int, enc Encoding) (*Stream, error)
	Close() error
}

// NewResultSet wraps cursor according to opts: a BufferedResultSet when
// opts.Buffered is set, otherwise a pass-through over the live cursor.
func NewResultSet(cursor Cursor, opts Options) (ResultSet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Buffered {
		rs, err := NewBufferedResultSet(cursor, opts)
		if err != nil {
			return nil, err
		}
		return rs, nil
	}
	rs, err := newLiveResultSet(cursor)
	if err != nil {
		return nil, err
	}
	return rs, nil
}
