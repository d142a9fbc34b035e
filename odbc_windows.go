//go:build windows

package odbc

import (
	"syscall"
)

// loadODBCLibrary opens odbc32.dll
func loadODBCLibrary(libPath string) (uintptr, error) {
	handle, err := syscall.LoadLibrary(libPath)
	if err != nil {
		return 0, err
	}
	return uintptr(handle), nil
}
