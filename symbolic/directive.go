package symbolic

import "github.com/xbl2022/VTIL-Core/math"

// MatchAdditivePointer implements the two pointer-lowering shapes the
// rewrite pass's memory-pointer minimization looks for: A+U (a base
// expression plus a constant offset) or A-U (a base expression minus a
// constant offset). It returns the base sub-expression and a signed
// offset such that base+offset reconstructs e, or ok=false if e is not of
// either shape (e.g. it's a bare variable, a bare constant, or some other
// operator entirely).
func MatchAdditivePointer(e *Expression) (base *Expression, offset int64, ok bool) {
	e = e.Simplify(true)
	if e.Kind != KindBinary {
		return nil, 0, false
	}
	switch e.Op {
	case math.Add:
		if c, isC := e.Rhs.ConstantValue(); isC {
			return e.Lhs, int64(c.Uint64()), true
		}
		if c, isC := e.Lhs.ConstantValue(); isC {
			return e.Rhs, int64(c.Uint64()), true
		}
	case math.Subtract:
		if c, isC := e.Rhs.ConstantValue(); isC {
			return e.Lhs, -int64(c.Uint64()), true
		}
	}
	return nil, 0, false
}

// FastMatch reports whether e's top-level shape is "a constant SP-relative
// offset": either a bare stack-pointer variable, or an A+U/A-U pointer
// whose base is the stack pointer. Used by the rewrite pass to prefer
// representing a stack slot by its offset rather than materializing a
// pointer temporary.
func FastMatch(e *Expression, isStackPointer func(*Expression) bool) (offset int64, ok bool) {
	e = e.Simplify(true)
	if isStackPointer(e) {
		return 0, true
	}
	if base, off, matched := MatchAdditivePointer(e); matched && isStackPointer(base) {
		return off, true
	}
	return 0, false
}
