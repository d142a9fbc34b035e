package odbc

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error represents an ODBC error with diagnostic information from the driver
// or from the buffered result set. It implements the error interface and
// provides SQLState, native error code, and a human-readable message.
type Error struct {
	SQLState    string
	NativeError int32
	Message     string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s (native error: %d)", e.SQLState, e.Message, e.NativeError)
}

// Is reports whether target matches this error's SQLState.
// This allows using errors.Is to check for specific ODBC errors.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.SQLState == t.SQLState
	}
	return false
}

// DiagRecord returns the error as a diagnostic record
func (e *Error) DiagRecord() DiagRecord {
	return DiagRecord{SQLState: e.SQLState, NativeError: e.NativeError, Message: e.Message}
}

// DiagRecord represents a single diagnostic record
type DiagRecord struct {
	SQLState    string
	NativeError int32
	Message     string
}

// Errors represents multiple ODBC errors
type Errors []Error

// Error implements the error interface for multiple errors
func (e Errors) Error() string {
	if len(e) == 0 {
		return "unknown ODBC error"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	for i, err := range e {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// BufferLimitError is returned when materializing a result set would use
// more memory than the configured buffered query limit. The partially
// built cache has already been discarded when it is returned.
type BufferLimitError struct {
	LimitKB int64
}

// Error implements the error interface
func (e *BufferLimitError) Error() string {
	return fmt.Sprintf("Memory limit of %d KB exceeded for buffered query", e.LimitKB)
}

// DiagRecord returns the limit violation as a diagnostic record
func (e *BufferLimitError) DiagRecord() DiagRecord {
	return DiagRecord{SQLState: SQLStateDriverSpecific, NativeError: nativeBufferLimitExceeded, Message: e.Error()}
}

// IsBufferLimitExceeded reports whether err, or any error it wraps, is a
// *BufferLimitError.
func IsBufferLimitExceeded(err error) bool {
	var limitErr *BufferLimitError
	return errors.As(err, &limitErr)
}

// GetDiagRecords retrieves all diagnostic records for a handle
func GetDiagRecords(handleType SQLSMALLINT, handle SQLHANDLE) []DiagRecord {
	var records []DiagRecord
	sqlState := make([]byte, 6)
	message := make([]byte, 1024)

	for i := SQLSMALLINT(1); ; i++ {
		nativeError, msgLen, ret := GetDiagRec(handleType, handle, i, sqlState, message)
		if !IsSuccess(ret) {
			break
		}
		if int(msgLen) > len(message) {
			msgLen = SQLSMALLINT(len(message))
		}
		records = append(records, DiagRecord{
			SQLState:    string(sqlState[:5]),
			NativeError: int32(nativeError),
			Message:     string(message[:msgLen]),
		})
	}
	return records
}

// NewError creates an Error from the diagnostic records of a handle
func NewError(handleType SQLSMALLINT, handle SQLHANDLE) error {
	return errorFromRecords(GetDiagRecords(handleType, handle))
}

func errorFromRecords(records []DiagRecord) error {
	switch len(records) {
	case 0:
		return &Error{
			SQLState: SQLStateGeneralError,
			Message:  "unknown ODBC error",
		}
	case 1:
		return &Error{
			SQLState:    records[0].SQLState,
			NativeError: records[0].NativeError,
			Message:     records[0].Message,
		}
	}
	errs := make(Errors, len(records))
	for i, rec := range records {
		errs[i] = Error{
			SQLState:    rec.SQLState,
			NativeError: rec.NativeError,
			Message:     rec.Message,
		}
	}
	return errs
}

// SQLState constants for the states produced or inspected by this package.
// These follow the ODBC specification and can be used with errors.Is.
const (
	// Connection errors (08xxx)
	SQLStateConnectionFailure = "08001" // Unable to connect
	SQLStateConnectionNotOpen = "08003" // Connection not open
	SQLStateConnectionError   = "08S01" // Communication link failure

	// Warning states (01xxx)
	SQLStateDataTruncation       = "01004" // String data, right truncated
	SQLStateFractionalTruncation = "01S07" // Fractional truncation

	// Dynamic SQL errors (07xxx)
	SQLStateRestrictedDataType = "07006" // Restricted data type attribute violation
	SQLStateInvalidDescIndex   = "07009" // Invalid descriptor index

	// Data errors (22xxx)
	SQLStateNumericOverflow = "22003" // Numeric value out of range

	// Cursor states (24xxx)
	SQLStateInvalidCursorState = "24000" // Invalid cursor state

	// General errors (HYxxx)
	SQLStateGeneralError          = "HY000" // General error
	SQLStateFunctionSequenceError = "HY010" // Function sequence error
	SQLStateInvalidStringLength   = "HY090" // Invalid string or buffer length
	SQLStateInvalidFetchType      = "HY106" // Fetch type out of range
	SQLStateOptionalFeature       = "HYC00" // Optional feature not implemented
	SQLStateTimeout               = "HYT00" // Timeout expired

	// Errors raised by this package rather than the driver
	SQLStateDriverSpecific = "IMSSP"
)

const (
	nativeBufferLimitExceeded int32 = -59
	nativeInvalidBufferLimit  int32 = -60
	nativeNotNumeric          int32 = 103
)

var (
	errTruncated           = &Error{SQLState: SQLStateDataTruncation, NativeError: -1, Message: "String data, right truncated"}
	errFractional          = &Error{SQLState: SQLStateFractionalTruncation, Message: "Fractional truncation"}
	errRestrictedDataType  = &Error{SQLState: SQLStateRestrictedDataType, Message: "Restricted data type attribute violation"}
	errInvalidDescIndex    = &Error{SQLState: SQLStateInvalidDescIndex, Message: "Invalid descriptor index"}
	errNumericOutOfRange   = &Error{SQLState: SQLStateNumericOverflow, Message: "Numeric value out of range"}
	errStringNotNumeric    = &Error{SQLState: SQLStateNumericOverflow, NativeError: nativeNotNumeric, Message: "Numeric value out of range"}
	errInvalidCursorState  = &Error{SQLState: SQLStateInvalidCursorState, Message: "Invalid cursor state"}
	errInvalidBufferLength = &Error{SQLState: SQLStateInvalidStringLength, Message: "Invalid string or buffer length"}
	errInvalidFetchType    = &Error{SQLState: SQLStateInvalidFetchType, Message: "Fetch type out of range"}
	errInvalidUnicode      = &Error{SQLState: SQLStateDriverSpecific, NativeError: -1, Message: "Invalid Unicode translation"}
	errResultSetClosed     = &Error{SQLState: SQLStateFunctionSequenceError, Message: "Result set is closed"}
)

// IsConnectionError reports whether err indicates a connection problem.
// Connection errors have SQLState codes starting with "08".
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return strings.HasPrefix(e.SQLState, "08")
	}
	var es Errors
	if errors.As(err, &es) && len(es) > 0 {
		return strings.HasPrefix(es[0].SQLState, "08")
	}
	return false
}

// IsDataTruncation reports whether err indicates data truncation.
func IsDataTruncation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.SQLState == SQLStateDataTruncation
	}
	return false
}

// FormatReturnCode returns a string representation of an ODBC return code
func FormatReturnCode(ret SQLRETURN) string {
	switch ret {
	case SQL_SUCCESS:
		return "SQL_SUCCESS"
	case SQL_SUCCESS_WITH_INFO:
		return "SQL_SUCCESS_WITH_INFO"
	case SQL_ERROR:
		return "SQL_ERROR"
	case SQL_INVALID_HANDLE:
		return "SQL_INVALID_HANDLE"
	case SQL_NO_DATA:
		return "SQL_NO_DATA"
	case SQL_NEED_DATA:
		return "SQL_NEED_DATA"
	case SQL_STILL_EXECUTING:
		return "SQL_STILL_EXECUTING"
	default:
		return fmt.Sprintf("SQLRETURN(%d)", ret)
	}
}
