//go:build !unix

package gempkg

import "os"

// fsync flushes f's data via the standard library on platforms without
// golang.org/x/sys/unix support.
func fsync(f *os.File) {
	_ = f.Sync()
}
