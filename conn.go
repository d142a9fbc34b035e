package odbc

import (
	"context"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	errTxNotSupported     = errors.New("odbcbuf: transactions are not supported")
	errParamsNotSupported = errors.New("odbcbuf: query parameters are not supported")
)

// Conn implements driver.Conn and represents a connection to a database
type Conn struct {
	env          SQLHENV
	dbc          SQLHDBC
	opts         Options
	queryTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

// Prepare prepares a statement for execution
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a statement that runs query each time it is
// executed. Nothing is sent to the server until then.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	return &Stmt{conn: c, query: query}, nil
}

// Close closes the connection
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// Disconnect and free handles
	if c.dbc != 0 {
		Disconnect(c.dbc)
		FreeHandle(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
		c.dbc = 0
	}
	if c.env != 0 {
		FreeHandle(SQL_HANDLE_ENV, SQLHANDLE(c.env))
		c.env = 0
	}

	return nil
}

// Begin is not supported.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx is not supported. Statements run in the driver's autocommit mode.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return nil, errTxNotSupported
}

// Ping verifies the connection is still alive
func (c *Conn) Ping(ctx context.Context) error {
	stmt, err := c.execDirect(ctx, "SELECT 1")
	if err != nil {
		if IsConnectionError(err) || err == driver.ErrBadConn {
			return driver.ErrBadConn
		}
		// Some databases don't support "SELECT 1"; the statement handle was
		// allocated, so the connection is likely fine
		return nil
	}
	FreeHandle(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	return nil
}

// allocStmt allocates a statement handle with the connection's query timeout.
func (c *Conn) allocStmt() (SQLHSTMT, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, driver.ErrBadConn
	}

	var stmt SQLHSTMT
	ret := AllocHandle(SQL_HANDLE_STMT, SQLHANDLE(c.dbc), (*SQLHANDLE)(&stmt))
	if !IsSuccess(ret) {
		return 0, NewError(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	}
	if c.queryTimeout > 0 {
		seconds := uintptr(c.queryTimeout / time.Second)
		if seconds == 0 {
			seconds = 1
		}
		if ret := SetStmtAttr(stmt, SQL_ATTR_QUERY_TIMEOUT, seconds, 0); !IsSuccess(ret) {
			log.Debugf("driver ignored query timeout of %s", c.queryTimeout)
		}
	}
	return stmt, nil
}

// execDirect executes query on a new statement handle owned by the caller.
// Cancelling ctx cancels the statement on the server.
func (c *Conn) execDirect(ctx context.Context, query string) (SQLHSTMT, error) {
	stmt, err := c.allocStmt()
	if err != nil {
		return 0, err
	}

	stop := watchCancel(ctx, stmt)
	ret := ExecDirect(stmt, query)
	stop()

	if ctxErr := ctx.Err(); ctxErr != nil {
		FreeHandle(SQL_HANDLE_STMT, SQLHANDLE(stmt))
		return 0, ctxErr
	}
	if !IsSuccess(ret) && ret != SQL_NO_DATA {
		err := NewError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
		FreeHandle(SQL_HANDLE_STMT, SQLHANDLE(stmt))
		return 0, err
	}
	return stmt, nil
}

// watchCancel calls SQLCancel on stmt if ctx is done before the returned
// stop function is called.
func watchCancel(ctx context.Context, stmt SQLHSTMT) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			Cancel(stmt)
		case <-done:
		}
	}()
	return func() { close(done) }
}

// ExecContext executes a query without returning rows
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if len(args) > 0 {
		return nil, errParamsNotSupported
	}
	stmt, err := c.execDirect(ctx, query)
	if err != nil {
		return nil, err
	}
	defer FreeHandle(SQL_HANDLE_STMT, SQLHANDLE(stmt))

	var rowCount SQLLEN
	RowCount(stmt, &rowCount)

	return &Result{rowsAffected: int64(rowCount)}, nil
}

// QueryContext executes a query that returns rows. The rows are buffered
// when the connector was configured WithBufferedQueries.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if len(args) > 0 {
		return nil, errParamsNotSupported
	}
	rs, err := c.query(ctx, query, c.opts)
	if err != nil {
		return nil, err
	}
	return newRows(rs, c.opts.Encoding)
}

// QueryBuffered executes query and materializes the whole result set in
// memory, regardless of the connector's Buffered option.
func (c *Conn) QueryBuffered(ctx context.Context, query string) (*BufferedResultSet, error) {
	opts := c.opts
	opts.Buffered = true
	rs, err := c.query(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return rs.(*BufferedResultSet), nil
}

// QueryStream executes query and returns a forward-only result set that
// reads straight from the driver.
func (c *Conn) QueryStream(ctx context.Context, query string) (ResultSet, error) {
	opts := c.opts
	opts.Buffered = false
	return c.query(ctx, query, opts)
}

func (c *Conn) query(ctx context.Context, query string, opts Options) (ResultSet, error) {
	stmt, err := c.execDirect(ctx, query)
	if err != nil {
		return nil, err
	}
	cursor := newStmtCursor(stmt)
	rs, err := NewResultSet(cursor, opts)
	if err != nil {
		cursor.Close()
		return nil, err
	}
	return rs, nil
}

// ResetSession is called before a connection is reused
func (c *Conn) ResetSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return driver.ErrBadConn
	}
	return nil
}

// IsValid returns true if the connection is valid
func (c *Conn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.dbc != 0
}

// CheckNamedValue rejects every argument: statements take no parameters.
func (c *Conn) CheckNamedValue(nv *driver.NamedValue) error {
	return errParamsNotSupported
}

// Ensure Conn implements the required interfaces
var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.SessionResetter    = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)
	_ driver.NamedValueChecker  = (*Conn)(nil)
)
