//go:build linux

package threadid

import "golang.org/x/sys/unix"

// Get returns the OS thread identifier of the calling goroutine's current
// carrier thread, platform-native rather than derived by hashing a
// std::thread::id-style opaque handle. Because the Go scheduler may move a
// goroutine across OS threads between calls, this is meant for log/trace
// correlation, never for reentrant-lock ownership tracking.
func Get() uint64 {
	return uint64(unix.Gettid())
}
