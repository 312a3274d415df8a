package rewrite

import (
	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/math"
	"github.com/xbl2022/VTIL-Core/symbolic"
)

// opcodeForOperator maps a symbolic operator back to the instruction
// descriptor that produces it, the inverse of Descriptor.SymbolicOperator.
// Only operators the VM and simplifier actually synthesize in this
// implementation need an entry; anything else is a programming error, not
// a data-dependent condition, so translate panics via ir.Invariant rather
// than returning an error.
var opcodeForOperator = map[math.OperatorID]*ir.Descriptor{
	math.Negate:     ir.Neg,
	math.BitwiseNot: ir.Not,
	math.Add:        ir.Add,
	math.Subtract:   ir.Sub,
	math.BitwiseAnd: ir.Band,
	math.BitwiseOr:  ir.Bor,
	math.BitwiseXor: ir.Bxor,
	math.ShiftLeft:  ir.Shl,
	math.ShiftRight: ir.Shr,
	math.ShiftArithmeticRight: ir.Sar,
	math.RotateLeft:  ir.Rol,
	math.RotateRight: ir.Ror,
	math.MultiplyU:   ir.MulU,
	math.DivideU:     ir.DivU,
	math.RemainderU:  ir.RemU,
	math.UMin:        ir.UMin,
	math.UMax:        ir.UMax,
	math.UGreaterEqual: ir.Tuge,
}

// Translator lowers symbolic expressions into a sequence of instructions
// appended to a target block. It mirrors the batch translator the original
// rewrite pass streams expressions through (`translator << v`), including
// its key space-saving trick: a temporary this translator itself allocated
// earlier in the same expression tree is reused as the accumulator for the
// next operation up the tree instead of being copied again, so a chain of
// N binary operators lowers to N+1 instructions (one seeding mov plus N
// ops on the reused accumulator) rather than 2N.
type Translator struct {
	block *ir.BasicBlock
	owned map[ir.RegisterDesc]bool
}

func NewTranslator(block *ir.BasicBlock) *Translator {
	return &Translator{block: block, owned: map[ir.RegisterDesc]bool{}}
}

// Translate returns an operand holding e's value, emitting whatever
// instructions are necessary into the translator's block first. A
// constant expression translates to an immediate operand with no emitted
// instructions; anything else bottoms out in a temporary register.
func (t *Translator) Translate(e *symbolic.Expression) ir.Operand {
	e = e.Simplify(true)
	switch e.Kind {
	case symbolic.KindConstant:
		return ir.MakeImmediate(int64(e.Uint64()), e.Width)
	case symbolic.KindVariable:
		return ir.MakeRegister(e.Var)
	case symbolic.KindUnary:
		return t.translateUnary(e)
	case symbolic.KindBinary:
		return t.translateBinary(e)
	}
	ir.Invariant(false, "Translate: unreachable expression kind %v", e.Kind)
	return ir.Operand{}
}

// ToRegister is like Translate but always materializes a register, even
// for a constant, since some operand slots (a memory base pointer) must
// be a register.
func (t *Translator) ToRegister(e *symbolic.Expression) ir.RegisterDesc {
	op := t.Translate(e)
	if op.IsRegister() {
		return op.Reg
	}
	tmp := t.block.Owner.Alloc(op.BitCount())
	t.block.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(tmp), op}})
	t.owned[tmp] = true
	return tmp
}

// accumulatorFor returns a register that op's value is safely mutable in:
// if op already names a temporary this translator allocated, it's reused
// in place; otherwise (a source variable or an immediate) the value is
// copied into a fresh temporary first. The temporary comes from the
// block's owning routine rather than the block's own Tmp counter: this
// translator's block is a replacement built off to the side of the block
// it will eventually replace, so a block-scoped id here could collide
// with one the original block already handed out to a still-live register
// that gets copied through verbatim.
func (t *Translator) accumulatorFor(op ir.Operand, width uint8) ir.RegisterDesc {
	if op.IsRegister() && t.owned[op.Reg] {
		return op.Reg
	}
	dst := t.block.Owner.Alloc(width)
	t.block.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(dst), op}})
	t.owned[dst] = true
	return dst
}

func (t *Translator) translateUnary(e *symbolic.Expression) ir.Operand {
	src := t.Translate(e.Lhs)
	dst := t.accumulatorFor(src, e.Width)
	desc, ok := opcodeForOperator[e.Op]
	ir.Invariant(ok, "translateUnary: no descriptor for operator %s", e.Op)
	t.block.Append(&ir.Instruction{Base: desc, Operands: []ir.Operand{ir.MakeRegister(dst)}})
	return ir.MakeRegister(dst)
}

func (t *Translator) translateBinary(e *symbolic.Expression) ir.Operand {
	lhs := t.Translate(e.Lhs)
	dst := t.accumulatorFor(lhs, e.Width)
	rhs := t.Translate(e.Rhs)
	desc, ok := opcodeForOperator[e.Op]
	ir.Invariant(ok, "translateBinary: no descriptor for operator %s", e.Op)
	t.block.Append(&ir.Instruction{Base: desc, Operands: []ir.Operand{ir.MakeRegister(dst), rhs}})
	return ir.MakeRegister(dst)
}
