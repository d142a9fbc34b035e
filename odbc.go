package odbc

import (
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LibraryPathEnv overrides the driver manager library location.
const LibraryPathEnv = "ODBCBUF_LIBRARY_PATH"

var (
	odbcLib  uintptr
	initOnce sync.Once
	initErr  error
)

// ODBC function pointers - populated by purego
var (
	sqlAllocHandle   func(handleType SQLSMALLINT, inputHandle SQLHANDLE, outputHandle *SQLHANDLE) SQLRETURN
	sqlFreeHandle    func(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN
	sqlSetEnvAttr    func(env SQLHENV, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN
	sqlDriverConnect func(dbc SQLHDBC, hwnd uintptr, inConnStr *byte, inConnStrLen SQLSMALLINT, outConnStr *byte, outConnStrMax SQLSMALLINT, outConnStrLen *SQLSMALLINT, driverCompletion SQLUSMALLINT) SQLRETURN
	sqlDisconnect    func(dbc SQLHDBC) SQLRETURN
	sqlExecDirect    func(stmt SQLHSTMT, stmtText *byte, textLength SQLINTEGER) SQLRETURN
	sqlNumResultCols func(stmt SQLHSTMT, columnCount *SQLSMALLINT) SQLRETURN
	sqlDescribeCol   func(stmt SQLHSTMT, colNum SQLUSMALLINT, colName *byte, bufferLen SQLSMALLINT, nameLen *SQLSMALLINT, dataType *SQLSMALLINT, colSize *SQLULEN, decDigits *SQLSMALLINT, nullable *SQLSMALLINT) SQLRETURN
	sqlColAttribute  func(stmt SQLHSTMT, colNum SQLUSMALLINT, fieldId SQLUSMALLINT, charAttr uintptr, bufferLen SQLSMALLINT, strLen *SQLSMALLINT, numAttr *SQLLEN) SQLRETURN
	sqlFetchScroll   func(stmt SQLHSTMT, fetchOrientation SQLSMALLINT, fetchOffset SQLLEN) SQLRETURN
	sqlGetData       func(stmt SQLHSTMT, colNum SQLUSMALLINT, targetType SQLSMALLINT, targetValue uintptr, bufferLen SQLLEN, strLenOrInd *SQLLEN) SQLRETURN
	sqlRowCount      func(stmt SQLHSTMT, rowCount *SQLLEN) SQLRETURN
	sqlGetDiagRec    func(handleType SQLSMALLINT, handle SQLHANDLE, recNum SQLSMALLINT, sqlState *byte, nativeError *SQLINTEGER, msgText *byte, bufferLen SQLSMALLINT, textLen *SQLSMALLINT) SQLRETURN
	sqlCancel        func(stmt SQLHSTMT) SQLRETURN
	sqlFreeStmt      func(stmt SQLHSTMT, option SQLUSMALLINT) SQLRETURN
	sqlSetStmtAttr   func(stmt SQLHSTMT, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN
)

// libFunc binds one driver manager entry point. Functions taking narrow
// strings carry an 'A' suffix on Windows.
type libFunc struct {
	fptr   interface{}
	name   string
	narrow bool
}

var libFuncs = []libFunc{
	{&sqlAllocHandle, "SQLAllocHandle", false},
	{&sqlFreeHandle, "SQLFreeHandle", false},
	{&sqlSetEnvAttr, "SQLSetEnvAttr", false},
	{&sqlDriverConnect, "SQLDriverConnect", true},
	{&sqlDisconnect, "SQLDisconnect", false},
	{&sqlExecDirect, "SQLExecDirect", true},
	{&sqlNumResultCols, "SQLNumResultCols", false},
	{&sqlDescribeCol, "SQLDescribeCol", true},
	{&sqlColAttribute, "SQLColAttribute", true},
	{&sqlFetchScroll, "SQLFetchScroll", false},
	{&sqlGetData, "SQLGetData", false},
	{&sqlRowCount, "SQLRowCount", false},
	{&sqlGetDiagRec, "SQLGetDiagRec", true},
	{&sqlCancel, "SQLCancel", false},
	{&sqlFreeStmt, "SQLFreeStmt", false},
	{&sqlSetStmtAttr, "SQLSetStmtAttr", false},
}

// getLibraryPath returns the platform-specific ODBC library path.
func getLibraryPath() string {
	if path := os.Getenv(LibraryPathEnv); path != "" {
		return path
	}

	switch runtime.GOOS {
	case "windows":
		return "odbc32.dll"
	case "darwin":
		paths := []string{
			"/opt/homebrew/lib/libodbc.2.dylib", // Apple Silicon Homebrew
			"/usr/local/lib/libodbc.2.dylib",    // Intel Homebrew
			"/opt/homebrew/lib/libodbc.dylib",
			"/usr/local/lib/libodbc.dylib",
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		return "libodbc.2.dylib"
	default:
		return "libodbc.so.2"
	}
}

// initODBC loads the driver manager and registers every entry point once.
func initODBC() error {
	initOnce.Do(func() {
		libPath := getLibraryPath()
		odbcLib, initErr = loadODBCLibrary(libPath)
		if initErr != nil {
			initErr = errors.Wrapf(initErr, "failed to load ODBC library %q (set %s to override)", libPath, LibraryPathEnv)
			return
		}
		for _, f := range libFuncs {
			name := f.name
			if f.narrow && runtime.GOOS == "windows" {
				name += "A"
			}
			purego.RegisterLibFunc(f.fptr, odbcLib, name)
		}
		log.Debugf("loaded ODBC driver manager from %s", libPath)
	})
	return initErr
}

// AllocHandle allocates an ODBC handle
func AllocHandle(handleType SQLSMALLINT, inputHandle SQLHANDLE, outputHandle *SQLHANDLE) SQLRETURN {
	return sqlAllocHandle(handleType, inputHandle, outputHandle)
}

// FreeHandle frees an ODBC handle
func FreeHandle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN {
	return sqlFreeHandle(handleType, handle)
}

// SetEnvAttr sets an environment attribute
func SetEnvAttr(env SQLHENV, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN {
	return sqlSetEnvAttr(env, attribute, value, stringLength)
}

// DriverConnect connects to a data source using a connection string
func DriverConnect(dbc SQLHDBC, connStr string) SQLRETURN {
	inBytes := append([]byte(connStr), 0)
	out := make([]byte, 1024)
	var outLen SQLSMALLINT
	return sqlDriverConnect(dbc, 0, &inBytes[0], SQLSMALLINT(SQL_NTS), &out[0], SQLSMALLINT(len(out)), &outLen, SQL_DRIVER_NOPROMPT)
}

// Disconnect disconnects from a data source
func Disconnect(dbc SQLHDBC) SQLRETURN {
	return sqlDisconnect(dbc)
}

// ExecDirect executes an SQL statement directly
func ExecDirect(stmt SQLHSTMT, query string) SQLRETURN {
	queryBytes := append([]byte(query), 0)
	return sqlExecDirect(stmt, &queryBytes[0], SQLINTEGER(SQL_NTS))
}

// NumResultCols returns the number of columns in a result set
func NumResultCols(stmt SQLHSTMT, columnCount *SQLSMALLINT) SQLRETURN {
	return sqlNumResultCols(stmt, columnCount)
}

// DescribeCol describes a column in a result set
func DescribeCol(stmt SQLHSTMT, colNum SQLUSMALLINT, colName []byte) (nameLen SQLSMALLINT, dataType SQLSMALLINT, colSize SQLULEN, decDigits SQLSMALLINT, nullable SQLSMALLINT, ret SQLRETURN) {
	ret = sqlDescribeCol(stmt, colNum, &colName[0], SQLSMALLINT(len(colName)), &nameLen, &dataType, &colSize, &decDigits, &nullable)
	return
}

// ColAttributeNumeric returns a numeric column attribute
func ColAttributeNumeric(stmt SQLHSTMT, colNum SQLUSMALLINT, fieldId SQLUSMALLINT) (SQLLEN, SQLRETURN) {
	var strLen SQLSMALLINT
	var numAttr SQLLEN
	ret := sqlColAttribute(stmt, colNum, fieldId, 0, 0, &strLen, &numAttr)
	return numAttr, ret
}

// FetchScroll fetches a row from the result set using scroll operations
func FetchScroll(stmt SQLHSTMT, fetchOrientation SQLSMALLINT, fetchOffset SQLLEN) SQLRETURN {
	return sqlFetchScroll(stmt, fetchOrientation, fetchOffset)
}

// GetData retrieves data for a single column into buf
func GetData(stmt SQLHSTMT, colNum SQLUSMALLINT, targetType SQLSMALLINT, buf []byte) (indicator SQLLEN, ret SQLRETURN) {
	var ptr uintptr
	if len(buf) > 0 {
		ptr = uintptr(unsafe.Pointer(&buf[0]))
	}
	ret = sqlGetData(stmt, colNum, targetType, ptr, SQLLEN(len(buf)), &indicator)
	return indicator, ret
}

// RowCount returns the number of rows affected by the statement
func RowCount(stmt SQLHSTMT, rowCount *SQLLEN) SQLRETURN {
	return sqlRowCount(stmt, rowCount)
}

// GetDiagRec retrieves diagnostic records
func GetDiagRec(handleType SQLSMALLINT, handle SQLHANDLE, recNum SQLSMALLINT, sqlState []byte, message []byte) (nativeError SQLINTEGER, msgLen SQLSMALLINT, ret SQLRETURN) {
	ret = sqlGetDiagRec(handleType, handle, recNum, &sqlState[0], &nativeError, &message[0], SQLSMALLINT(len(message)), &msgLen)
	return
}

// Cancel cancels a statement execution
func Cancel(stmt SQLHSTMT) SQLRETURN {
	return sqlCancel(stmt)
}

// FreeStmt closes the cursor (SQL_CLOSE) or unbinds columns of a statement
func FreeStmt(stmt SQLHSTMT, option SQLUSMALLINT) SQLRETURN {
	return sqlFreeStmt(stmt, option)
}

// SetStmtAttr sets a statement attribute
func SetStmtAttr(stmt SQLHSTMT, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN {
	return sqlSetStmtAttr(stmt, attribute, value, stringLength)
}
