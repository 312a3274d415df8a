package symbolic

import (
	"testing"

	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/math"
)

func TestNewConstantMasksToWidth(t *testing.T) {
	c := NewConstant(0x1ff, 8)
	if c.Uint64() != 0xff {
		t.Errorf("Uint64() = %#x, want 0xff (masked to 8 bits)", c.Uint64())
	}
}

func TestNewBinaryFoldsConstants(t *testing.T) {
	e := NewBinary(NewConstant(2, 64), math.Add, NewConstant(3, 64))
	if !e.IsConstant() {
		t.Fatal("adding two constants should fold immediately")
	}
	if e.Uint64() != 5 {
		t.Errorf("Uint64() = %d, want 5", e.Uint64())
	}
}

func TestNewBinaryWidthIsWiderOperand(t *testing.T) {
	e := NewBinary(NewVariable(ir.RegisterDesc{Kind: ir.Virtual, BitCount: 8}), math.Add, NewVariable(ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 1, BitCount: 64}))
	if e.Width != 64 {
		t.Errorf("Width = %d, want 64", e.Width)
	}
}

func TestAddConstantZeroIsNoOp(t *testing.T) {
	v := NewVariable(ir.RegisterDesc{Kind: ir.Virtual, BitCount: 64})
	if v.AddConstant(0) != v {
		t.Error("AddConstant(0) should return the same expression, not a new node")
	}
}

func TestResizeNarrowsWithMask(t *testing.T) {
	c := NewConstant(0x1ff, 16)
	narrow := c.Resize(8, false)
	if !narrow.IsConstant() || narrow.Uint64() != 0xff {
		t.Errorf("Resize(8) of 0x1ff = %v, want constant 0xff", narrow)
	}
}

func TestResizeSignExtendsConstant(t *testing.T) {
	c := NewConstant(0xff, 8) // -1 as an 8-bit signed value
	wide := c.Resize(16, true)
	if !wide.IsConstant() || wide.Uint64() != 0xffff {
		t.Errorf("sign-extending 0xff from 8 to 16 bits = %v, want 0xffff", wide)
	}
}

func TestResizeSameWidthIsIdentity(t *testing.T) {
	v := NewVariable(ir.RegisterDesc{Kind: ir.Virtual, BitCount: 32})
	if v.Resize(32, false) != v {
		t.Error("Resize to the same width should return the same node")
	}
}

func TestEqualIgnoresOperandOrderForCommutativeOps(t *testing.T) {
	a := NewVariable(ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 1, BitCount: 64})
	b := NewVariable(ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 2, BitCount: 64})
	lhs := NewBinary(a, math.Add, b)
	rhs := NewBinary(b, math.Add, a)
	if !lhs.Equal(rhs) {
		t.Error("a+b should equal b+a for a commutative operator")
	}
}

func TestEqualRespectsOperandOrderForNonCommutativeOps(t *testing.T) {
	a := NewVariable(ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 1, BitCount: 64})
	b := NewVariable(ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 2, BitCount: 64})
	lhs := NewBinary(a, math.Subtract, b)
	rhs := NewBinary(b, math.Subtract, a)
	if lhs.Equal(rhs) {
		t.Error("a-b should not equal b-a")
	}
}

func TestPackAllVariablesCollectsEveryDistinctRegister(t *testing.T) {
	a := ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 1, BitCount: 64}
	b := ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 2, BitCount: 64}
	e := NewBinary(NewBinary(NewVariable(a), math.Add, NewVariable(b)), math.Add, NewVariable(a))

	seen := map[ir.RegisterDesc]struct{}{}
	e.PackAllVariables(seen)
	if len(seen) != 2 {
		t.Fatalf("PackAllVariables found %d registers, want 2 (a repeated, b once)", len(seen))
	}
	if _, ok := seen[a]; !ok {
		t.Error("expected a in the collected set")
	}
	if _, ok := seen[b]; !ok {
		t.Error("expected b in the collected set")
	}
}

func TestBitExtractsSingleBit(t *testing.T) {
	c := NewConstant(0b1010, 8)
	if got := c.Bit(1); !got.IsConstant() || got.Uint64() != 1 {
		t.Errorf("Bit(1) of 0b1010 = %v, want constant 1", got)
	}
	if got := c.Bit(0); !got.IsConstant() || got.Uint64() != 0 {
		t.Errorf("Bit(0) of 0b1010 = %v, want constant 0", got)
	}
}
