package ir

import "fmt"

// Invariant panics if cond is false. The IR is a trusted internal format
// produced and consumed only by this module; a failing invariant here is a
// bug in the caller, not a recoverable condition, mirroring the C++
// original's cvalidate/fassert macros.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("ir: invariant violated: "+format, args...))
	}
}
