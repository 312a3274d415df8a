package ir

import "github.com/xbl2022/VTIL-Core/math"

// OperandType classifies how an instruction descriptor's operand slot is
// used. The relative ordering matters: any type >= Write must bind to a
// register operand (see Instruction.IsValid).
type OperandType uint8

const (
	Read OperandType = iota
	ReadImm
	ReadReg
	Write
	ReadWrite
)

// NoMemoryOperand marks a descriptor that never touches symbolic memory.
const NoMemoryOperand = -1

// Descriptor is an immutable, process-wide singleton describing one opcode:
// its mnemonic, operand shape, optional symbolic operator, and the
// side-effect flags the pass framework and VM need (volatility, branching,
// which operands are a memory pointer or a branch target). Instructions
// hold a pointer to one of these, compared by identity the same way the
// original compares against &ins::mov etc.
type Descriptor struct {
	Mnemonic string

	OperandTypes []OperandType

	// SymbolicOperator is math.Invalid for instructions with no direct
	// symbolic-expression translation (mov, ldd, str, branches, nop).
	SymbolicOperator math.OperatorID

	// VAccessSizeIndex selects, among OperandTypes, which operand's bit
	// width is "the" access size for this instruction. A negative value
	// -(k+1) instead names an immediate operand at index k that carries an
	// explicit override width.
	VAccessSizeIndex int

	// MemoryOperandIndex is the index of the register operand that forms a
	// memory pointer together with the immediate offset operand right
	// after it, or NoMemoryOperand.
	MemoryOperandIndex int

	// BranchOperandsVIP/BranchOperandsRIP list operand indices that carry a
	// virtual or real instruction pointer as a branch target.
	BranchOperandsVIP []int
	BranchOperandsRIP []int

	Volatile  bool
	Branching bool
}

func (d *Descriptor) OperandCount() int { return len(d.OperandTypes) }

func (d *Descriptor) AccessesMemory() bool { return d.MemoryOperandIndex != NoMemoryOperand }

func (d *Descriptor) String(accessSize uint8) string {
	if accessSize == 0 {
		return d.Mnemonic
	}
	return d.Mnemonic
}

var (
	Nop = &Descriptor{
		Mnemonic:           "nop",
		OperandTypes:       nil,
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
	}

	Mov = &Descriptor{
		Mnemonic:           "mov",
		OperandTypes:       []OperandType{Write, Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
	}
	Movsx = &Descriptor{
		Mnemonic:           "movsx",
		OperandTypes:       []OperandType{Write, Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
	}

	// Ldd dst, [base + offset]: dst = *(base+offset).
	Ldd = &Descriptor{
		Mnemonic:           "ldd",
		OperandTypes:       []OperandType{Write, ReadReg, ReadImm},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: 1,
	}
	// Str [base + offset], src: *(base+offset) = src.
	Str = &Descriptor{
		Mnemonic:           "str",
		OperandTypes:       []OperandType{ReadReg, ReadImm, Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   2,
		MemoryOperandIndex: 0,
	}

	// Unary: X = F(X).
	Neg = &Descriptor{Mnemonic: "neg", OperandTypes: []OperandType{ReadWrite}, SymbolicOperator: math.Negate, VAccessSizeIndex: 0, MemoryOperandIndex: NoMemoryOperand}
	Not = &Descriptor{Mnemonic: "not", OperandTypes: []OperandType{ReadWrite}, SymbolicOperator: math.BitwiseNot, VAccessSizeIndex: 0, MemoryOperandIndex: NoMemoryOperand}

	// Binary: X = F(X, Y).
	Add  = binDesc("add", math.Add)
	Sub  = binDesc("sub", math.Subtract)
	Band = binDesc("band", math.BitwiseAnd)
	Bor  = binDesc("bor", math.BitwiseOr)
	Bxor = binDesc("bxor", math.BitwiseXor)
	Shl  = binDesc("shl", math.ShiftLeft)
	Shr  = binDesc("shr", math.ShiftRight)
	Sar  = binDesc("sar", math.ShiftArithmeticRight)
	Rol  = binDesc("rol", math.RotateLeft)
	Ror  = binDesc("ror", math.RotateRight)
	MulU = binDesc("mulu", math.MultiplyU)
	DivU = binDesc("divu", math.DivideU)
	RemU = binDesc("remu", math.RemainderU)
	Tuge = binDesc("tuge", math.UGreaterEqual)

	// Ternary write-first: X = F(Y, Z).
	UMin = &Descriptor{Mnemonic: "umin", OperandTypes: []OperandType{Write, Read, Read}, SymbolicOperator: math.UMin, VAccessSizeIndex: 0, MemoryOperandIndex: NoMemoryOperand}
	UMax = &Descriptor{Mnemonic: "umax", OperandTypes: []OperandType{Write, Read, Read}, SymbolicOperator: math.UMax, VAccessSizeIndex: 0, MemoryOperandIndex: NoMemoryOperand}

	// Ternary high-low pair: X = F(Y:X, Z), Y the high half, X both an
	// input low half and the output register.
	MulHl = &Descriptor{Mnemonic: "mulhl", OperandTypes: []OperandType{ReadWrite, Read, Read}, SymbolicOperator: math.MultiplyHigh, VAccessSizeIndex: 0, MemoryOperandIndex: NoMemoryOperand}

	// Control flow / pseudo instructions.
	Jmp = &Descriptor{
		Mnemonic:           "jmp",
		OperandTypes:       []OperandType{Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
		BranchOperandsVIP:  []int{0},
		Branching:          true,
	}
	// Js cc, vip_true, vip_false: branches to vip_true if cc is non-zero,
	// vip_false otherwise. The only conditional-branch instruction; every
	// other control-flow descriptor branches unconditionally.
	Js = &Descriptor{
		Mnemonic:           "js",
		OperandTypes:       []OperandType{Read, Read, Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
		BranchOperandsVIP:  []int{1, 2},
		Branching:          true,
	}
	Vexit = &Descriptor{
		Mnemonic:           "vexit",
		OperandTypes:       []OperandType{Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
		BranchOperandsRIP:  []int{0},
		Volatile:           true,
		Branching:          true,
	}
	Vxcall = &Descriptor{
		Mnemonic:           "vxcall",
		OperandTypes:       []OperandType{Read},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
		BranchOperandsVIP:  []int{0},
		Volatile:           true,
	}
	Vpinr = &Descriptor{
		Mnemonic:           "vpinr",
		OperandTypes:       []OperandType{ReadReg},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
		Volatile:           true,
	}
	Vpinw = &Descriptor{
		Mnemonic:           "vpinw",
		OperandTypes:       []OperandType{ReadReg},
		SymbolicOperator:   math.Invalid,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
		Volatile:           true,
	}
)

func binDesc(mnemonic string, op math.OperatorID) *Descriptor {
	return &Descriptor{
		Mnemonic:           mnemonic,
		OperandTypes:       []OperandType{ReadWrite, Read},
		SymbolicOperator:   op,
		VAccessSizeIndex:   0,
		MemoryOperandIndex: NoMemoryOperand,
	}
}
