package symbolic

import (
	"github.com/holiman/uint256"

	"github.com/xbl2022/VTIL-Core/math"
)

// foldConstant evaluates e immediately if both operands (or the sole
// operand, for unary) are already constants, returning a new constant leaf.
// Non-constant expressions are returned unchanged. Called at construction
// time so trees never carry a foldable-but-unfolded node.
func (e *Expression) foldConstant() *Expression {
	switch e.Kind {
	case KindUnary:
		x, ok := e.Lhs.ConstantValue()
		if !ok {
			return e
		}
		return newConstantFromBig(evalUnary(e.Op, x, e.Lhs.Width), e.Width)
	case KindBinary:
		x, okX := e.Lhs.ConstantValue()
		y, okY := e.Rhs.ConstantValue()
		if !okX || !okY {
			return e
		}
		return newConstantFromBig(evalBinary(e.Op, x, y, e.Width), e.Width)
	default:
		return e
	}
}

func evalUnary(op math.OperatorID, x *uint256.Int, width uint8) *uint256.Int {
	r := new(uint256.Int)
	switch op {
	case math.Negate:
		r.Sub(uint256.NewInt(0), x)
	case math.BitwiseNot:
		r.Not(x)
	default:
		r.Set(x)
	}
	return r
}

func evalBinary(op math.OperatorID, x, y *uint256.Int, width uint8) *uint256.Int {
	r := new(uint256.Int)
	switch op {
	case math.Add:
		r.Add(x, y)
	case math.Subtract:
		r.Sub(x, y)
	case math.MultiplyU, math.MultiplyS, math.MultiplyHigh:
		r.Mul(x, y)
		if op == math.MultiplyHigh {
			r.Rsh(r, uint(width))
		}
	case math.DivideU:
		if y.IsZero() {
			return new(uint256.Int)
		}
		r.Div(x, y)
	case math.DivideS:
		if y.IsZero() {
			return new(uint256.Int)
		}
		r.SDiv(x, y)
	case math.RemainderU:
		if y.IsZero() {
			return new(uint256.Int)
		}
		r.Mod(x, y)
	case math.RemainderS:
		if y.IsZero() {
			return new(uint256.Int)
		}
		r.SMod(x, y)
	case math.BitwiseAnd:
		r.And(x, y)
	case math.BitwiseOr:
		r.Or(x, y)
	case math.BitwiseXor:
		r.Xor(x, y)
	case math.ShiftLeft:
		r.Lsh(x, uint(y.Uint64()))
	case math.ShiftRight:
		r.Rsh(x, uint(y.Uint64()))
	case math.ShiftArithmeticRight:
		r.SRsh(x, uint(y.Uint64()))
	case math.RotateLeft:
		n := y.Uint64() % uint64(width)
		lo := new(uint256.Int).Lsh(x, uint(n))
		hi := new(uint256.Int).Rsh(x, uint(uint64(width)-n))
		r.Or(lo, hi)
	case math.RotateRight:
		n := y.Uint64() % uint64(width)
		lo := new(uint256.Int).Rsh(x, uint(n))
		hi := new(uint256.Int).Lsh(x, uint(uint64(width)-n))
		r.Or(lo, hi)
	case math.UGreater:
		r.SetUint64(boolU64(x.Gt(y)))
	case math.UGreaterEqual:
		r.SetUint64(boolU64(!x.Lt(y)))
	case math.SGreater:
		r.SetUint64(boolU64(x.Sgt(y)))
	case math.SGreaterEqual:
		r.SetUint64(boolU64(!x.Slt(y)))
	case math.Equal:
		r.SetUint64(boolU64(x.Eq(y)))
	case math.NotEqual:
		r.SetUint64(boolU64(!x.Eq(y)))
	case math.UMin:
		if x.Lt(y) {
			r.Set(x)
		} else {
			r.Set(y)
		}
	case math.UMax:
		if x.Gt(y) {
			r.Set(x)
		} else {
			r.Set(y)
		}
	default:
		r.Set(x)
	}
	return r
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Simplify applies a fixed set of algebraic identities bottom-up: constant
// folding, additive and bitwise identity elements, and double negation.
// The aggressive flag currently changes nothing: no operands are
// reordered (MatchAdditivePointer accepts a constant on either side of an
// addition instead). This is a pragmatic,
// bounded subset of what a real term rewriter does: only the identities the
// rewrite pass and VM actually depend on are implemented.
func (e *Expression) Simplify(aggressive bool) *Expression {
	switch e.Kind {
	case KindConstant, KindVariable:
		return e
	case KindUnary:
		x := e.Lhs.Simplify(aggressive)
		if x.IsConstant() {
			return newConstantFromBig(evalUnary(e.Op, x.Value, x.Width), e.Width)
		}
		if e.Op == math.BitwiseNot && x.Kind == KindUnary && x.Op == math.BitwiseNot {
			return x.Lhs
		}
		if x == e.Lhs {
			return e
		}
		return &Expression{Kind: KindUnary, Width: e.Width, Op: e.Op, Lhs: x}
	case KindBinary:
		l := e.Lhs.Simplify(aggressive)
		r := e.Rhs.Simplify(aggressive)
		if l.IsConstant() && r.IsConstant() {
			return newConstantFromBig(evalBinary(e.Op, l.Value, r.Value, e.Width), e.Width)
		}
		if simplified, ok := simplifyIdentity(e.Op, l, r, e.Width); ok {
			return simplified
		}
		if aggressive && e.Op.IsCommutative() && r.IsConstant() && !l.IsConstant() {
			// Canonicalize constant to the right-hand side already holds;
			// nothing further to reorder for the operators in use here.
		}
		if l == e.Lhs && r == e.Rhs {
			return e
		}
		return &Expression{Kind: KindBinary, Width: e.Width, Op: e.Op, Lhs: l, Rhs: r}
	}
	return e
}

func simplifyIdentity(op math.OperatorID, l, r *Expression, width uint8) (*Expression, bool) {
	isZero := func(x *Expression) bool { return x.IsConstant() && x.Value.IsZero() }
	isOne := func(x *Expression) bool { return x.IsConstant() && x.Value.Eq(uint256.NewInt(1)) }
	switch op {
	case math.Add, math.BitwiseOr, math.BitwiseXor:
		if isZero(r) {
			return l, true
		}
		if isZero(l) && op != math.Subtract {
			return r, true
		}
	case math.Subtract:
		if isZero(r) {
			return l, true
		}
		if l.equalRaw(r) {
			return NewConstant(0, width), true
		}
	case math.BitwiseAnd:
		if isZero(r) || isZero(l) {
			return NewConstant(0, width), true
		}
	case math.MultiplyU, math.MultiplyS:
		if isZero(r) || isZero(l) {
			return NewConstant(0, width), true
		}
		if isOne(r) {
			return l, true
		}
		if isOne(l) {
			return r, true
		}
	case math.ShiftLeft, math.ShiftRight, math.ShiftArithmeticRight, math.RotateLeft, math.RotateRight:
		if isZero(r) {
			return l, true
		}
	}
	return nil, false
}
