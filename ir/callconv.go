package ir

// CallConvention describes the ABI a routine (or a call site within it)
// follows: which registers are caller-saved (volatile across a call), which
// carry the return value, whether the callee purges its own stack
// arguments, and how much shadow space the caller must reserve. Routines
// carry a default convention; individual call instructions may override it
// per call site.
type CallConvention struct {
	Name string

	VolatileRegisters []RegisterDesc
	ParamRegisters    []RegisterDesc
	RetvalRegisters   []RegisterDesc
	FrameRegister     RegisterDesc

	ShadowSpaceBytes int64
	PurgeStack       bool
}

// DefaultCallConvention is an architecture-agnostic placeholder convention:
// no registers are assumed volatile or dedicated to parameters/return
// values, so an optimizer must treat every register as potentially live
// across a call unless told otherwise. Real front ends supply a concrete
// convention (e.g. Microsoft x64, System V AMD64) at routine construction.
var DefaultCallConvention = CallConvention{
	Name:             "unknown",
	ShadowSpaceBytes: 0,
	PurgeStack:       false,
}

func (c CallConvention) IsVolatile(r RegisterDesc) bool {
	for _, v := range c.VolatileRegisters {
		if v.Equal(r) {
			return true
		}
	}
	return false
}
