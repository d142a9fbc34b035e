//go:build !windows

package odbc

import (
	"github.com/ebitengine/purego"
)

// loadODBCLibrary opens the unixODBC or iODBC driver manager
func loadODBCLibrary(libPath string) (uintptr, error) {
	return purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}
