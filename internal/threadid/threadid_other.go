//go:build !linux

package threadid

import "os"

// Get falls back to the process id on platforms with no cheap syscall for
// the carrier-thread id. Diagnostic use only, see the linux variant.
func Get() uint64 {
	return uint64(os.Getpid())
}
