package ir

import (
	"testing"

	"github.com/xbl2022/VTIL-Core/math"
)

func TestDescriptorOperandCount(t *testing.T) {
	if Add.OperandCount() != 2 {
		t.Errorf("Add.OperandCount() = %d, want 2", Add.OperandCount())
	}
	if Nop.OperandCount() != 0 {
		t.Errorf("Nop.OperandCount() = %d, want 0", Nop.OperandCount())
	}
}

func TestDescriptorAccessesMemory(t *testing.T) {
	if !Ldd.AccessesMemory() {
		t.Error("Ldd should access memory")
	}
	if !Str.AccessesMemory() {
		t.Error("Str should access memory")
	}
	if Add.AccessesMemory() {
		t.Error("Add should not access memory")
	}
}

func TestVolatileAndBranchingFlags(t *testing.T) {
	if !Jmp.Branching {
		t.Error("Jmp should be branching")
	}
	if !Vexit.Branching || !Vexit.Volatile {
		t.Error("Vexit should be branching and volatile")
	}
	if !Vpinr.Volatile || !Vpinw.Volatile {
		t.Error("pins should be volatile")
	}
	if Add.Volatile || Add.Branching {
		t.Error("add should be neither volatile nor branching")
	}
}

func TestInstructionIsValid(t *testing.T) {
	r := RegisterDesc{Kind: Virtual, CombinedID: 1, BitCount: 64}
	ins := &Instruction{Base: Add, Operands: []Operand{MakeRegister(r), MakeImmediate(1, 64)}}
	if !ins.IsValid() {
		t.Error("well-formed add should be valid")
	}

	wrongArity := &Instruction{Base: Add, Operands: []Operand{MakeRegister(r)}}
	if wrongArity.IsValid() {
		t.Error("add with one operand should be invalid")
	}

	wrongKind := &Instruction{Base: Add, Operands: []Operand{MakeImmediate(1, 64), MakeImmediate(1, 64)}}
	if wrongKind.IsValid() {
		t.Error("add whose write operand is an immediate should be invalid")
	}
}

func TestInstructionIsValidNegativeAccessSizeIndex(t *testing.T) {
	// A descriptor whose access size is an explicit immediate override
	// (VAccessSizeIndex = -(k+1) names operand k) rather than an operand's
	// own width, the encoding AccessSize already handles.
	desc := &Descriptor{
		Mnemonic:           "sized_nop",
		OperandTypes:       []OperandType{Write, Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   -2,
		MemoryOperandIndex: NoMemoryOperand,
	}
	r := RegisterDesc{Kind: Virtual, CombinedID: 1, BitCount: 64}

	valid := &Instruction{Base: desc, Operands: []Operand{MakeRegister(r), MakeImmediate(32, 8)}}
	if !valid.IsValid() {
		t.Error("override operand that is an immediate should be valid")
	}

	invalid := &Instruction{Base: desc, Operands: []Operand{MakeRegister(r), MakeRegister(r)}}
	if invalid.IsValid() {
		t.Error("override operand that is a register should be invalid")
	}
}

func TestInstructionMemoryLocation(t *testing.T) {
	ins := &Instruction{Base: Ldd, Operands: []Operand{
		MakeRegister(RegisterDesc{Kind: Virtual, CombinedID: 1, BitCount: 64}),
		MakeRegister(SP),
		MakeImmediate(-8, 64),
	}}
	base, offset := ins.MemoryLocation()
	if !base.Equal(SP) || offset != -8 {
		t.Errorf("MemoryLocation() = (%v, %d), want (SP, -8)", base, offset)
	}
}

func TestInstructionMemoryLocationPanicsWhenNotMemoryAccessing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MemoryLocation on a non-memory instruction should panic")
		}
	}()
	ins := &Instruction{Base: Add, Operands: []Operand{
		MakeRegister(RegisterDesc{Kind: Virtual, CombinedID: 1, BitCount: 64}),
		MakeImmediate(1, 64),
	}}
	ins.MemoryLocation()
}

func TestInstructionString(t *testing.T) {
	ins := &Instruction{Base: Mov, Operands: []Operand{
		MakeRegister(RegisterDesc{Kind: Virtual, CombinedID: 1, BitCount: 64}),
		MakeImmediate(5, 64),
	}}
	s := ins.String()
	if s == "" {
		t.Fatal("String() should not be empty")
	}
}

func TestCallConventionIsVolatile(t *testing.T) {
	v := RegisterDesc{Kind: Physical, CombinedID: 1, BitCount: 64}
	cc := CallConvention{VolatileRegisters: []RegisterDesc{v}}
	if !cc.IsVolatile(v) {
		t.Error("registered volatile register should report volatile")
	}
	other := RegisterDesc{Kind: Physical, CombinedID: 2, BitCount: 64}
	if cc.IsVolatile(other) {
		t.Error("unlisted register should not report volatile")
	}
}
