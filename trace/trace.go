// Package trace records observable side effects produced while replaying
// a routine through the symbolic VM, the same three effect classes the
// original validation harness logs to compare a routine's behavior before
// and after an optimizer pass runs against it (memory reads that escape
// the tracked symbolic memory store, external calls, and the final
// register state at an exit). Grounded on
// original_source/VTIL-Compiler/validation/test1.cpp's observable_action
// variant.
package trace

import (
	"fmt"

	"github.com/xbl2022/VTIL-Core/ir"
)

// Action is one recorded observable effect. The three concrete types below
// are the only implementations; a switch over the concrete type (not an
// enum tag) is how callers discriminate, matching Go's idiomatic use of a
// closed sum type via an unexported marker method.
type Action interface {
	isAction()
	String() string
}

// MemoryRead records a read the VM's symbolic memory store could not
// resolve on its own, requiring an externally supplied value (VTIL treats
// unresolved reads as reading arbitrary, but fixed, memory content).
type MemoryRead struct {
	Address uint64
	Size    uint8
	Value   uint64
}

// ExternalCall records a VXCALL into a subroutine the analysis does not
// have IR for, along with the argument values passed to it.
type ExternalCall struct {
	Address    uint64
	Parameters []uint64
}

// Exit records the final values at a VEXIT of the registers the replay
// was asked to observe, keyed by those register descriptors exactly as
// given (bit offset and bit count included; no normalization is applied).
type Exit struct {
	Registers map[ir.RegisterDesc]uint64
}

func (MemoryRead) isAction()   {}
func (ExternalCall) isAction() {}
func (Exit) isAction()         {}

func (a MemoryRead) String() string {
	return fmt.Sprintf("read(%#x, %d) = %#x", a.Address, a.Size, a.Value)
}

func (a ExternalCall) String() string {
	return fmt.Sprintf("call(%#x, %v)", a.Address, a.Parameters)
}

func (a Exit) String() string {
	return fmt.Sprintf("exit(%v)", a.Registers)
}

// Recorder accumulates a trace as a routine is replayed. It is not
// concurrency-safe; each replay of a routine should use its own Recorder.
type Recorder struct {
	actions []Action
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(a Action) { r.actions = append(r.actions, a) }

func (r *Recorder) Actions() []Action { return r.actions }

// Equal reports whether two traces recorded the same sequence of
// observable actions, the criterion the validation harness uses to decide
// whether an optimizer pass changed a routine's externally visible
// behavior.
func Equal(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !actionEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func actionEqual(a, b Action) bool {
	switch av := a.(type) {
	case MemoryRead:
		bv, ok := b.(MemoryRead)
		return ok && av == bv
	case ExternalCall:
		bv, ok := b.(ExternalCall)
		if !ok || av.Address != bv.Address || len(av.Parameters) != len(bv.Parameters) {
			return false
		}
		for i := range av.Parameters {
			if av.Parameters[i] != bv.Parameters[i] {
				return false
			}
		}
		return true
	case Exit:
		bv, ok := b.(Exit)
		if !ok || len(av.Registers) != len(bv.Registers) {
			return false
		}
		for k, v := range av.Registers {
			if bv.Registers[k] != v {
				return false
			}
		}
		return true
	}
	return false
}
