// Package symbolic implements the "external expression library" VTIL's
// specification treats as a collaborator with an assumed interface:
// immutable symbolic expression trees over registers and constants,
// simplification, resizing, and structural pattern matching. Constant
// folding runs over holiman/uint256 rather than a plain uint64 so that
// intermediate combination of two 64-bit values (e.g. a high:low pair
// merge, or a product before truncation) never silently wraps before the
// VM gets a chance to notice the width exceeded the architecture's.
package symbolic

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/math"
)

// Kind discriminates an Expression's node type.
type Kind uint8

const (
	KindConstant Kind = iota
	KindVariable
	KindUnary
	KindBinary
)

// Expression is an immutable node in a symbolic expression tree. Trees are
// built bottom-up and never mutated in place; every transform (Resize,
// Simplify, arithmetic helpers) returns a new root.
type Expression struct {
	Kind  Kind
	Width uint8

	// KindConstant
	Value *uint256.Int

	// KindVariable
	Var ir.RegisterDesc

	// KindUnary / KindBinary
	Op       math.OperatorID
	Lhs, Rhs *Expression
}

// NewConstant builds a constant expression of the given bit width, masking
// value down to that width.
func NewConstant(value uint64, width uint8) *Expression {
	v := new(uint256.Int).SetUint64(value)
	maskTo(v, width)
	return &Expression{Kind: KindConstant, Width: width, Value: v}
}

func newConstantFromBig(v *uint256.Int, width uint8) *Expression {
	c := new(uint256.Int).Set(v)
	maskTo(c, width)
	return &Expression{Kind: KindConstant, Width: width, Value: c}
}

// NewVariable builds a leaf expression tracing a register.
func NewVariable(reg ir.RegisterDesc) *Expression {
	return &Expression{Kind: KindVariable, Width: reg.BitCount, Var: reg}
}

// NewUnary builds op(x).
func NewUnary(op math.OperatorID, x *Expression) *Expression {
	e := &Expression{Kind: KindUnary, Width: x.Width, Op: op, Lhs: x}
	return e.foldConstant()
}

// NewBinary builds x op y. The result width is the wider of the two
// operands, matching the C++ original's implicit widest-operand
// promotion.
func NewBinary(x *Expression, op math.OperatorID, y *Expression) *Expression {
	width := x.Width
	if y.Width > width {
		width = y.Width
	}
	e := &Expression{Kind: KindBinary, Width: width, Op: op, Lhs: x, Rhs: y}
	return e.foldConstant()
}

// AddConstant returns e + delta, sized to e's own width; a convenience for
// the VM's stack-pointer adjustment (read_register(sp) + ins.sp_offset).
func (e *Expression) AddConstant(delta int64) *Expression {
	if delta == 0 {
		return e
	}
	c := NewConstant(uint64(delta), e.Width)
	return NewBinary(e, math.Add, c)
}

// IsConstant reports whether the expression folded down to a literal.
func (e *Expression) IsConstant() bool { return e.Kind == KindConstant }

// ConstantValue returns the folded value and true, or (nil, false) if the
// expression is not a compile-time constant.
func (e *Expression) ConstantValue() (*uint256.Int, bool) {
	if e.Kind != KindConstant {
		return nil, false
	}
	return e.Value, true
}

// Uint64 returns the constant's low 64 bits; only meaningful when
// IsConstant() is true.
func (e *Expression) Uint64() uint64 {
	if e.Value == nil {
		return 0
	}
	return e.Value.Uint64()
}

// Resize returns e widened or narrowed to width bits, sign-extending when
// signed is true and the expression grows. Mirrors expression::resize.
func (e *Expression) Resize(width uint8, signed bool) *Expression {
	if width == e.Width {
		return e
	}
	if e.Kind == KindConstant {
		v := new(uint256.Int).Set(e.Value)
		if signed && width > e.Width {
			v = signExtend(v, e.Width, width)
		}
		return newConstantFromBig(v, width)
	}
	if width < e.Width {
		mask := NewConstant(0, e.Width)
		maskAllOnes(mask.Value, width)
		return &Expression{Kind: KindBinary, Width: width, Op: math.BitwiseAnd, Lhs: e, Rhs: mask}
	}
	// Growing a non-constant: represent as an explicit resize marker via a
	// no-op bitwise-or with zero at the new width; simplify collapses this
	// away once the operand becomes constant-foldable.
	return &Expression{Kind: KindUnary, Width: width, Op: math.BitwiseOr, Lhs: e}
}

// Bit extracts a single bit (0 = LSB) as a 1-bit expression.
func (e *Expression) Bit(i uint8) *Expression {
	shifted := NewBinary(e, math.ShiftRight, NewConstant(uint64(i), e.Width))
	return shifted.Resize(1, false)
}

// Equal reports structural (post-simplification) equality.
func (e *Expression) Equal(o *Expression) bool {
	a, b := e.Simplify(false), o.Simplify(false)
	return a.equalRaw(b)
}

func (e *Expression) equalRaw(o *Expression) bool {
	if e.Kind != o.Kind || e.Width != o.Width {
		return false
	}
	switch e.Kind {
	case KindConstant:
		return e.Value.Eq(o.Value)
	case KindVariable:
		return e.Var.Equal(o.Var)
	case KindUnary:
		return e.Op == o.Op && e.Lhs.equalRaw(o.Lhs)
	case KindBinary:
		if e.Op != o.Op {
			return false
		}
		if e.Lhs.equalRaw(o.Lhs) && e.Rhs.equalRaw(o.Rhs) {
			return true
		}
		return e.Op.IsCommutative() && e.Lhs.equalRaw(o.Rhs) && e.Rhs.equalRaw(o.Lhs)
	}
	return false
}

// PackAllVariables collects every distinct register a tree references
// into the given set.
func (e *Expression) PackAllVariables(into map[ir.RegisterDesc]struct{}) {
	switch e.Kind {
	case KindVariable:
		into[e.Var] = struct{}{}
	case KindUnary:
		e.Lhs.PackAllVariables(into)
	case KindBinary:
		e.Lhs.PackAllVariables(into)
		e.Rhs.PackAllVariables(into)
	}
}

func (e *Expression) String() string {
	switch e.Kind {
	case KindConstant:
		return fmt.Sprintf("0x%x", e.Value)
	case KindVariable:
		return e.Var.String()
	case KindUnary:
		return fmt.Sprintf("%s(%s)", e.Op, e.Lhs)
	case KindBinary:
		return fmt.Sprintf("(%s %s %s)", e.Lhs, e.Op, e.Rhs)
	}
	return "?"
}

func maskTo(v *uint256.Int, width uint8) {
	if width >= 256 {
		return
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(width))
	mask.SubUint64(mask, 1)
	v.And(v, mask)
}

func maskAllOnes(v *uint256.Int, width uint8) {
	if width >= 256 {
		v.SetAllOne()
		return
	}
	v.Lsh(uint256.NewInt(1), uint(width))
	v.SubUint64(v, 1)
}

func signExtend(v *uint256.Int, from, to uint8) *uint256.Int {
	if from >= 256 || from == 0 {
		return v
	}
	signBit := new(uint256.Int).Lsh(uint256.NewInt(1), uint(from-1))
	if v.Lt(signBit) || from >= to {
		return v
	}
	ones := new(uint256.Int)
	maskAllOnes(ones, to)
	hiMask := new(uint256.Int)
	maskAllOnes(hiMask, from)
	hiMask.Not(hiMask)
	hiMask.And(hiMask, ones)
	return new(uint256.Int).Or(v, hiMask)
}
