package odbc

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
)

// Connector implements driver.Connector for efficient connection pooling
type Connector struct {
	dsn    string
	driver *Driver

	// Result set options applied to every query on connections from this connector
	Options Options

	// Query execution options
	QueryTimeout time.Duration // Default query timeout (0 = no timeout)
}

// ConnectorOption configures a Connector
type ConnectorOption func(*Connector)

// WithBufferedQueries makes QueryContext materialize every result set in
// memory before returning it.
func WithBufferedQueries(enabled bool) ConnectorOption {
	return func(c *Connector) {
		c.Options.Buffered = enabled
	}
}

// WithBufferedQueryLimit sets the memory ceiling of a buffered result set in KiB.
func WithBufferedQueryLimit(limitKB int64) ConnectorOption {
	return func(c *Connector) {
		c.Options.BufferedQueryLimit = limitKB
	}
}

// WithEncoding sets how character data is exchanged with the driver.
func WithEncoding(enc Encoding) ConnectorOption {
	return func(c *Connector) {
		c.Options.Encoding = enc
	}
}

// WithCharset sets the charset of narrow character data. See CharsetByName.
func WithCharset(cs encoding.Encoding) ConnectorOption {
	return func(c *Connector) {
		c.Options.Charset = cs
	}
}

// WithQueryTimeout sets the default query timeout for all statements.
// The timeout is applied using SQL_ATTR_QUERY_TIMEOUT and context cancellation.
// A value of 0 means no timeout (the default).
func WithQueryTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		c.QueryTimeout = d
	}
}

// NewConnector returns a Connector for an ODBC connection string, for use
// with sql.OpenDB.
func NewConnector(dsn string, opts ...ConnectorOption) (*Connector, error) {
	if err := initODBC(); err != nil {
		return nil, err
	}
	c := &Connector{dsn: dsn, driver: &Driver{}, Options: DefaultOptions()}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Options.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes a new connection to the database
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := c.Options.validate(); err != nil {
		return nil, err
	}

	// Allocate environment handle
	var env SQLHENV
	ret := AllocHandle(SQL_HANDLE_ENV, SQL_NULL_HANDLE, (*SQLHANDLE)(&env))
	if !IsSuccess(ret) {
		return nil, errors.New("failed to allocate ODBC environment handle")
	}

	// Set ODBC version to 3.x
	ret = SetEnvAttr(env, SQL_ATTR_ODBC_VERSION, uintptr(SQL_OV_ODBC3), 0)
	if !IsSuccess(ret) {
		err := NewError(SQL_HANDLE_ENV, SQLHANDLE(env))
		FreeHandle(SQL_HANDLE_ENV, SQLHANDLE(env))
		return nil, err
	}

	// Allocate connection handle
	var dbc SQLHDBC
	ret = AllocHandle(SQL_HANDLE_DBC, SQLHANDLE(env), (*SQLHANDLE)(&dbc))
	if !IsSuccess(ret) {
		err := NewError(SQL_HANDLE_ENV, SQLHANDLE(env))
		FreeHandle(SQL_HANDLE_ENV, SQLHANDLE(env))
		return nil, err
	}

	ret = DriverConnect(dbc, c.dsn)
	if !IsSuccess(ret) {
		err := NewError(SQL_HANDLE_DBC, SQLHANDLE(dbc))
		FreeHandle(SQL_HANDLE_DBC, SQLHANDLE(dbc))
		FreeHandle(SQL_HANDLE_ENV, SQLHANDLE(env))
		return nil, err
	}

	return &Conn{
		env:          env,
		dbc:          dbc,
		opts:         c.Options,
		queryTimeout: c.QueryTimeout,
	}, nil
}

// Driver returns the underlying Driver
func (c *Connector) Driver() driver.Driver {
	return c.driver
}

// Ensure Connector implements driver.Connector
var _ driver.Connector = (*Connector)(nil)
