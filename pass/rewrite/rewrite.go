// Package rewrite implements VTIL's symbolic rewrite pass: replay a
// block's straight-line runs through the symbolic VM, and if the minimal
// sequence of register/memory writes that reproduces the same final state
// is strictly smaller than the original, replace the block with it.
// Grounded directly on
// original_source/VTIL-Compiler/optimizer/symbolic_rewrite_pass.cpp.
package rewrite

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/math"
	"github.com/xbl2022/VTIL-Core/symbolic"
	"github.com/xbl2022/VTIL-Core/vm"
)

// preferredExpSizes lists the widths the pass tries narrowing a
// reconstructed value down to, smallest first, so the first width whose
// upper bits provably match the original value is the smallest one that
// works rather than merely the first one tried.
var preferredExpSizes = []uint8{1, 8, 16, 32}

// Pass is a stateless value satisfying pass.Stage's RunBlock shape.
type Pass struct {
	// Force replaces a block even when the rewritten form is not strictly
	// smaller, useful for canonicalizing straight-line code ahead of a
	// later pass that benefits from the normal form regardless of size.
	Force bool
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string { return "symbolic_rewrite" }

// RunBlock rewrites blk in place, returning the number of instructions
// eliminated (0 if no improving rewrite was found).
func (p *Pass) RunBlock(rtn *ir.Routine, blk *ir.BasicBlock) int {
	temp := ir.NewBasicBlock(blk.EntryVIP)
	temp.Owner = rtn
	temp.SPOffset = blk.SPOffset
	temp.SPIndex = blk.SPIndex

	idx := 0
	for idx < blk.Size() {
		state, limit, halted := runToHalt(blk, idx)

		if limit > idx {
			emitDelta(temp, blk, state, idx, limit)
		}

		if !halted {
			// Reached the true end of the block with nothing left to
			// virtualize verbatim.
			break
		}
		// The halting instruction is copied through unchanged; the pass
		// treats it as an opaque barrier per the analysis-limits error
		// tier and resumes symbolic execution right after it.
		temp.Append(blk.Instructions[limit])
		idx = limit + 1
	}

	optCount := blk.Size() - temp.Size()
	if optCount <= 0 {
		if !p.Force {
			return 0
		}
		optCount = 0
	}

	log.Debug("symbolic_rewrite rewrote block", "vip", blk.EntryVIP, "before", blk.Size(), "after", temp.Size())
	blk.Assign(temp)
	return optCount
}

// runToHalt symbolically executes blk starting at idx until either an
// instruction that cannot be safely reordered is reached statically
// (branching, volatile, sp_reset, or a read of a volatile-excluding-
// undefined register) or the VM itself reports a non-None exit reason at
// runtime (an unresolved memory alias, a >64-bit composite operand, or an
// opcode with no VM semantics). A barrier the VM can't get past is exactly
// as opaque to this pass as one it never tries to execute. Returns the
// state accumulated strictly before the halting instruction, its index
// (valid only if halted is true), and whether a halt was found before the
// block ended.
func runToHalt(blk *ir.BasicBlock, idx int) (state *vm.State, limit int, halted bool) {
	state = vm.NewState()
	for i := idx; i < blk.Size(); i++ {
		ins := blk.Instructions[i]
		if mustHaltBefore(ins) {
			return state, i, true
		}
		if reason := vm.Execute(state, ins); reason != vm.None {
			return state, i, true
		}
	}
	return state, blk.Size(), false
}

func mustHaltBefore(ins *ir.Instruction) bool {
	if ins.Base.Branching {
		return true
	}
	if ins.Base.Volatile {
		return true
	}
	if ins.SPReset {
		return true
	}
	for _, op := range ins.Operands {
		if op.IsRegister() && op.Reg.IsVolatile() && !op.Reg.IsUndefined() {
			return true
		}
	}
	return false
}

// emitDelta buffers the minimal set of mov/str instructions into temp that
// reproduce the register and memory deltas state accumulated while
// virtualizing blk[from:to) (already run by the caller's runToHalt).
func emitDelta(temp, blk *ir.BasicBlock, state *vm.State, from, to int) {
	translator := NewTranslator(temp)

	for _, touched := range touchedRegisters(state, blk, from, to) {
		emitRegisterDelta(temp, translator, state, touched, blk, to)
	}
	for _, cell := range state.MemoryCells() {
		emitMemoryDelta(temp, translator, cell)
	}
}

// emitMemoryDelta lowers one resolved memory write into a str instruction,
// preferring the sp-relative fast path (a bare offset off the stack
// pointer, needing no extra pointer arithmetic instructions) and falling
// back to materializing a base+offset pointer via the batch translator.
func emitMemoryDelta(temp *ir.BasicBlock, translator *Translator, cell symbolic.Cell) {
	ptr := cell.Ptr.Simplify(true)
	val := translator.Translate(cell.Value.Simplify(true))

	if off, ok := symbolic.FastMatch(ptr, isStackPointerExpr); ok {
		temp.Append(&ir.Instruction{Base: ir.Str, Operands: []ir.Operand{
			ir.MakeRegister(ir.SP), ir.MakeImmediate(off, 64), val,
		}})
		return
	}

	base, off, ok := symbolic.MatchAdditivePointer(ptr)
	if !ok {
		base, off = ptr, 0
	}
	baseReg := translator.ToRegister(base)
	temp.Append(&ir.Instruction{Base: ir.Str, Operands: []ir.Operand{
		ir.MakeRegister(baseReg), ir.MakeImmediate(off, 64), val,
	}})
}

func isStackPointerExpr(e *symbolic.Expression) bool {
	return e.Kind == symbolic.KindVariable && e.Var.IsStackPointer()
}

// registerTouch names a register identity plus the effective width the VM
// run wrote to it (the position of the highest written bit, matching the
// original's math::msb(bitmap)-derived size).
type registerTouch struct {
	reg ir.RegisterDesc
}

func touchedRegisters(state *vm.State, blk *ir.BasicBlock, from, to int) []registerTouch {
	var out []registerTouch
	for i := from; i < to; i++ {
		ins := blk.Instructions[i]
		for opIdx, t := range ins.Base.OperandTypes {
			if t < ir.Write {
				continue
			}
			op := ins.Operands[opIdx]
			size := highestWrittenBit(state.WrittenMask(op.Reg))
			if size == 0 {
				continue
			}
			out = append(out, registerTouch{reg: ir.RegisterDesc{Kind: op.Reg.Kind, CombinedID: op.Reg.CombinedID, BitCount: size}})
		}
	}
	return dedupeTouches(out)
}

func dedupeTouches(in []registerTouch) []registerTouch {
	seen := map[ir.RegisterDesc]bool{}
	var out []registerTouch
	for _, t := range in {
		if seen[t.reg] {
			continue
		}
		seen[t.reg] = true
		out = append(out, t)
	}
	return out
}

func highestWrittenBit(mask uint64) uint8 {
	size := uint8(0)
	for mask != 0 {
		size++
		mask >>= 1
	}
	return size
}

func emitRegisterDelta(temp *ir.BasicBlock, translator *Translator, state *vm.State, touch registerTouch, blk *ir.BasicBlock, afterIdx int) {
	k := touch.reg
	v := state.ReadRegister(k).Simplify(false)
	v0 := symbolic.NewVariable(k)
	if v.Equal(v0) {
		return
	}
	if !isUsedAfter(blk, afterIdx, k) {
		return
	}

	for _, size := range preferredExpSizes {
		if size >= k.BitCount {
			continue
		}
		if upperBitsUnchanged(v, v0, size) {
			k.BitCount = size
			v = v.Resize(size, false)
			break
		}
	}

	if k.IsFlags() && k.BitCount != 64 {
		for i := uint8(0); i < k.BitCount; i++ {
			bit := v.Bit(i)
			if bit.Equal(v0.Bit(i)) {
				continue
			}
			ks := k
			ks.BitOffset += i
			ks.BitCount = 1
			temp.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(ks), translator.Translate(bit)}})
		}
		return
	}

	ir.Invariant(!k.IsStackPointer() && !k.IsReadOnly(), "emitRegisterDelta: cannot rewrite %s", k)

	// If Translate ends up producing v entirely in a temporary it owns (the
	// common case for anything beyond a single register/immediate), that
	// temporary's only purpose was to become k's new value: rename it to k
	// throughout the span just emitted instead of appending a redundant
	// closing mov, the same way the original assembler writes an
	// expression tree directly into its destination register.
	startIdx := temp.Size()
	val := translator.Translate(v)
	if val.IsRegister() && translator.owned[val.Reg] {
		renameInSpan(temp, val.Reg, k, startIdx)
		return
	}
	temp.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(k), val}})
}

// renameInSpan replaces every occurrence of from with to among blk's
// instructions from startIdx onward, used to retarget a scratch
// accumulator into its true destination register after the fact.
func renameInSpan(blk *ir.BasicBlock, from, to ir.RegisterDesc, startIdx int) {
	for i := startIdx; i < blk.Size(); i++ {
		ins := blk.Instructions[i]
		for j, op := range ins.Operands {
			if op.IsRegister() && op.Reg.Equal(from) {
				ins.Operands[j] = ir.MakeRegister(to)
			}
		}
	}
}

// upperBitsUnchanged reports whether v and v0 provably agree on every bit
// at or above size, meaning a write of only v's low size bits leaves the
// register holding the same value as the full-width write would have.
func upperBitsUnchanged(v, v0 *symbolic.Expression, size uint8) bool {
	mask := symbolic.NewConstant(^(uint64(1)<<size-1), v.Width)
	diff := symbolic.NewBinary(v, math.BitwiseXor, v0)
	masked := symbolic.NewBinary(diff, math.BitwiseAnd, mask).Simplify(true)
	val, isConst := masked.ConstantValue()
	return isConst && val.IsZero()
}

// isUsedAfter reports whether k (or any overlapping bit range of the same
// storage location) is read anywhere in blk after index afterIdx.
// Cross-block liveness is intentionally not attempted here: a temporary
// that never escapes a block is either used later in the same block or
// dead, and any other register kind is conservatively assumed live at the
// block boundary (the cross-block DCE pass is responsible for removing it
// if it turns out not to be).
func isUsedAfter(blk *ir.BasicBlock, afterIdx int, k ir.RegisterDesc) bool {
	found := false
	for i := afterIdx; i < blk.Size(); i++ {
		ins := blk.Instructions[i]
		for opIdx, t := range ins.Base.OperandTypes {
			op := ins.Operands[opIdx]
			if !op.IsRegister() || op.Reg.Kind != k.Kind || op.Reg.CombinedID != k.CombinedID {
				continue
			}
			if t < ir.Write || t == ir.ReadWrite {
				found = true
			}
		}
	}
	if found {
		return true
	}
	// A block-scoped temporary that's unused for the remainder of its own
	// block never escapes, so it's genuinely dead.
	if k.IsInternal() {
		return false
	}
	return true
}
