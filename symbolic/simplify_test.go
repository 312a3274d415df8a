package symbolic

import (
	"testing"

	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/math"
)

func v(id uint64) *Expression {
	return NewVariable(ir.RegisterDesc{Kind: ir.Virtual, CombinedID: id, BitCount: 64})
}

func TestSimplifyAdditiveIdentity(t *testing.T) {
	x := v(1)
	e := &Expression{Kind: KindBinary, Width: 64, Op: math.Add, Lhs: x, Rhs: NewConstant(0, 64)}
	if s := e.Simplify(false); !s.Equal(x) {
		t.Errorf("x+0 should simplify to x, got %v", s)
	}
}

func TestSimplifySubtractSelfIsZero(t *testing.T) {
	x := v(1)
	e := &Expression{Kind: KindBinary, Width: 64, Op: math.Subtract, Lhs: x, Rhs: x}
	s := e.Simplify(false)
	if !s.IsConstant() || s.Uint64() != 0 {
		t.Errorf("x-x should simplify to 0, got %v", s)
	}
}

func TestSimplifyMultiplyByZero(t *testing.T) {
	x := v(1)
	e := &Expression{Kind: KindBinary, Width: 64, Op: math.MultiplyU, Lhs: x, Rhs: NewConstant(0, 64)}
	s := e.Simplify(false)
	if !s.IsConstant() || s.Uint64() != 0 {
		t.Errorf("x*0 should simplify to 0, got %v", s)
	}
}

func TestSimplifyMultiplyByOne(t *testing.T) {
	x := v(1)
	e := &Expression{Kind: KindBinary, Width: 64, Op: math.MultiplyU, Lhs: x, Rhs: NewConstant(1, 64)}
	if s := e.Simplify(false); !s.Equal(x) {
		t.Errorf("x*1 should simplify to x, got %v", s)
	}
}

func TestSimplifyDoubleNegationCancels(t *testing.T) {
	x := v(1)
	inner := &Expression{Kind: KindUnary, Width: 64, Op: math.BitwiseNot, Lhs: x}
	outer := &Expression{Kind: KindUnary, Width: 64, Op: math.BitwiseNot, Lhs: inner}
	if s := outer.Simplify(false); !s.Equal(x) {
		t.Errorf("not(not(x)) should simplify to x, got %v", s)
	}
}

func TestSimplifyBitwiseAndZero(t *testing.T) {
	x := v(1)
	e := &Expression{Kind: KindBinary, Width: 64, Op: math.BitwiseAnd, Lhs: x, Rhs: NewConstant(0, 64)}
	s := e.Simplify(false)
	if !s.IsConstant() || s.Uint64() != 0 {
		t.Errorf("x&0 should simplify to 0, got %v", s)
	}
}

func TestSimplifyShiftByZero(t *testing.T) {
	x := v(1)
	e := &Expression{Kind: KindBinary, Width: 64, Op: math.ShiftLeft, Lhs: x, Rhs: NewConstant(0, 64)}
	if s := e.Simplify(false); !s.Equal(x) {
		t.Errorf("x<<0 should simplify to x, got %v", s)
	}
}

func TestEvalBinaryDivisionByZeroIsZero(t *testing.T) {
	e := NewBinary(NewConstant(10, 64), math.DivideU, NewConstant(0, 64))
	if !e.IsConstant() || e.Uint64() != 0 {
		t.Errorf("10/0 should fold to the VM's defined zero result, got %v", e)
	}
}

func TestEvalBinaryRotate(t *testing.T) {
	e := NewBinary(NewConstant(1, 8), math.RotateLeft, NewConstant(1, 8))
	if !e.IsConstant() || e.Uint64() != 2 {
		t.Errorf("rotl(1, 1) over 8 bits should be 2, got %v", e)
	}
	full := NewBinary(NewConstant(1, 8), math.RotateLeft, NewConstant(8, 8))
	if !full.IsConstant() || full.Uint64() != 1 {
		t.Errorf("rotl(1, 8) over 8 bits should wrap back to 1, got %v", full)
	}
}

func TestEvalBinaryComparisons(t *testing.T) {
	gt := NewBinary(NewConstant(5, 64), math.UGreater, NewConstant(3, 64))
	if !gt.IsConstant() || gt.Uint64() != 1 {
		t.Errorf("5 >u 3 should fold to 1, got %v", gt)
	}
	eq := NewBinary(NewConstant(5, 64), math.Equal, NewConstant(5, 64))
	if !eq.IsConstant() || eq.Uint64() != 1 {
		t.Errorf("5 == 5 should fold to 1, got %v", eq)
	}
}
