package odbc

import (
	"context"
	"database/sql"
	"database/sql/driver"
)

func init() {
	sql.Register("odbcbuf", &Driver{})
}

// Driver implements the database/sql/driver.Driver interface. Connections
// opened through sql.Open use DefaultOptions; use NewConnector and
// sql.OpenDB to enable buffered queries.
type Driver struct{}

// Open opens a new connection to the database
// The name is an ODBC connection string, e.g.:
//   - "DSN=mydsn;UID=user;PWD=password"
//   - "Driver={SQL Server};Server=localhost;Database=mydb;UID=user;PWD=password"
func (d *Driver) Open(name string) (driver.Conn, error) {
	connector, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector returns a new Connector for the given connection string
// This implements driver.DriverContext for connection pooling efficiency
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	c, err := NewConnector(name)
	if err != nil {
		return nil, err
	}
	c.driver = d
	return c, nil
}

// Ensure Driver implements the required interfaces
var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)
