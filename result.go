package odbc

import (
	"database/sql/driver"

	"github.com/pkg/errors"
)

// Result implements driver.Result for INSERT, UPDATE, DELETE operations
type Result struct {
	rowsAffected int64
}

// LastInsertId is not supported.
func (r *Result) LastInsertId() (int64, error) {
	return 0, errors.New("odbcbuf: LastInsertId is not supported")
}

// RowsAffected returns the number of rows affected by the query
func (r *Result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// Ensure Result implements driver.Result
var _ driver.Result = (*Result)(nil)
