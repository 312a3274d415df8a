package vm

// ExitReason is why symbolic execution of an instruction stream stopped.
// These are typed control-flow values, not errors: hitting one is expected
// routine behavior for a pass driving the VM, not a failure worth an `error`
// return.
type ExitReason uint8

const (
	// None means the instruction virtualized cleanly; execution continues.
	None ExitReason = iota
	// AliasFailure means a memory read could not be resolved against the
	// symbolic memory store (the pointer expression matched no known
	// write, or wasn't provably disjoint from a conflicting one).
	AliasFailure
	// HighArithmetic means a Y:X high-low-pair operation combined to more
	// than 64 bits, which this VM does not evaluate symbolically.
	HighArithmetic
	// UnknownInstruction means the descriptor has no symbolic translation
	// this VM implements (an opcode with no operator tag that isn't
	// mov/movsx/ldd/str/nop/vpinr/vpinw).
	UnknownInstruction
	// StreamEnd means every instruction in the requested range virtualized
	// successfully and the iterator ran off the end of the block.
	StreamEnd
)

func (r ExitReason) String() string {
	switch r {
	case None:
		return "none"
	case AliasFailure:
		return "alias_failure"
	case HighArithmetic:
		return "high_arithmetic"
	case UnknownInstruction:
		return "unknown_instruction"
	case StreamEnd:
		return "stream_end"
	default:
		return "?"
	}
}
