package vm

import (
	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/math"
	"github.com/xbl2022/VTIL-Core/symbolic"
)

const (
	opShiftRight  = math.ShiftRight
	opShiftLeft   = math.ShiftLeft
	opBitwiseAnd  = math.BitwiseAnd
	opBitwiseOr   = math.BitwiseOr
)

// cvtOperand converts an instruction operand into a symbolic expression:
// a register operand is traced through the current state (with the
// running stack-pointer offset folded in for the stack pointer itself),
// an immediate becomes a constant leaf. Ported from vm_interface::execute's
// cvt_operand lambda.
func cvtOperand(s *State, ins *ir.Instruction, i int) *symbolic.Expression {
	op := ins.Operands[i]
	if op.IsRegister() {
		result := s.ReadRegister(op.Reg)
		if op.Reg.IsStackPointer() {
			result = result.AddConstant(ins.SPOffset)
		}
		return result
	}
	return symbolic.NewConstant(op.Imm.UVal(), op.Imm.BitCount)
}

// Execute virtualizes a single instruction against state, returning why it
// stopped (None on success). Ported from vm_interface::execute.
func Execute(s *State, ins *ir.Instruction) ExitReason {
	base := ins.Base

	switch base {
	case ir.Mov, ir.Movsx:
		signed := base == ir.Movsx
		val := cvtOperand(s, ins, 1).Resize(ins.Operands[0].BitCount(), signed)
		s.WriteRegister(ins.Operands[0].Reg, val)
		return None

	case ir.Ldd:
		reg, offset := ins.MemoryLocation()
		ptr := s.ReadRegister(reg).AddConstant(offset)
		val := s.Memory.Read(ptr, ins.Operands[0].BitCount())
		if val == nil {
			return AliasFailure
		}
		s.WriteRegister(ins.Operands[0].Reg, val)
		return None

	case ir.Str:
		reg, offset := ins.MemoryLocation()
		ptr := s.ReadRegister(reg).AddConstant(offset)
		alignedSize := (ins.Operands[2].BitCount() + 7) &^ 7
		val := cvtOperand(s, ins, 2).Resize(alignedSize, false)
		s.Memory.Write(ptr, val, alignedSize)
		return None

	case ir.Nop, ir.Vpinr, ir.Vpinw:
		// Pins are compiler barriers with no effect on symbolic state: they
		// exist only to tell an optimizer a register is observed or
		// produced outside the visible instruction stream.
		return None
	}

	if base.SymbolicOperator != math.Invalid {
		return executeArithmetic(s, ins)
	}

	return UnknownInstruction
}

func executeArithmetic(s *State, ins *ir.Instruction) ExitReason {
	base := ins.Base
	opID := base.SymbolicOperator

	var result *symbolic.Expression
	switch base.OperandCount() {
	case 1:
		// X = F(X)
		result = symbolic.NewUnary(opID, cvtOperand(s, ins, 0))
	case 2:
		// X = F(X, Y)
		result = symbolic.NewBinary(cvtOperand(s, ins, 0), opID, cvtOperand(s, ins, 1))
	case 3:
		if base.OperandTypes[0] == ir.Write {
			// X = F(Y, Z), X unrelated to Y
			result = symbolic.NewBinary(cvtOperand(s, ins, 1), opID, cvtOperand(s, ins, 2))
		} else {
			// X = F(Y:X, Z): Y is the high half, X both the low half input
			// and the eventual write target.
			opHigh := cvtOperand(s, ins, 1)
			if opHigh.IsConstant() && opHigh.Uint64() == 0 {
				op1 := cvtOperand(s, ins, 0)
				result = symbolic.NewBinary(op1, opID, cvtOperand(s, ins, 2))
			} else if int(ins.Operands[0].Size())+int(ins.Operands[1].Size()) <= 8 {
				opLow := cvtOperand(s, ins, 0)
				combined := opHigh.Resize(opHigh.Width+opLow.Width, false)
				combined = symbolic.NewBinary(combined, opShiftLeft, symbolic.NewConstant(uint64(opLow.Width), combined.Width))
				op1 := symbolic.NewBinary(opLow, opBitwiseOr, combined)
				result = symbolic.NewBinary(op1, opID, cvtOperand(s, ins, 2))
			} else {
				return HighArithmetic
			}
		}
	}

	if result == nil {
		return UnknownInstruction
	}
	ir.Invariant(base.OperandTypes[0] >= ir.Write, "arithmetic instruction %s does not write operand 0", base.Mnemonic)
	s.WriteRegister(ins.Operands[0].Reg, result)
	return None
}

// Run virtualizes every instruction in block starting at index from,
// stopping at the first non-None exit reason or at the end of the block
// (StreamEnd). Ported from vm_interface::run.
func Run(s *State, block *ir.BasicBlock, from int) (int, ExitReason) {
	for i := from; i < block.Size(); i++ {
		if reason := Execute(s, block.Instructions[i]); reason != None {
			return i, reason
		}
	}
	return block.Size(), StreamEnd
}
