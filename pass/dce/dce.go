// Package dce implements VTIL's fast cross-block dead code elimination
// pass: an iterative, bitmap-based liveness analysis over the reverse CFG
// followed by a backward sweep dropping dead non-volatile, non-branching
// writes. Grounded on
// original_source/VTIL-Compiler/optimizer/fast_dead_code_elimination_pass.hpp
// for the register_id/sealed/reg_map shape and the liveness algorithm the
// header only declares.
package dce

import (
	"github.com/xbl2022/VTIL-Core/ir"
)

// registerID is the flattened key the live-bit maps are keyed on: kind and
// combined id together, ignoring bit offset/count (liveness is tracked at
// the bit level within one 64-bit mask per register identity).
type registerID struct {
	kind ir.RegisterKind
	id   uint64
}

func idOf(r ir.RegisterDesc) registerID { return registerID{kind: r.Kind, id: r.CombinedID} }

func fieldMask(r ir.RegisterDesc) uint64 {
	if r.BitCount >= 64 {
		return ^uint64(0)
	}
	m := uint64(1)<<r.BitCount - 1
	return m << r.BitOffset
}

// Pass runs the cross-block DCE analysis over a routine and mutates every
// block in place, returning the number of instructions removed.
type Pass struct {
	sealed       map[*ir.BasicBlock]bool
	liveIn       map[*ir.BasicBlock]map[registerID]uint64
	exitLiveOut  map[registerID]uint64
}

func New() *Pass {
	return &Pass{
		sealed: map[*ir.BasicBlock]bool{},
		liveIn: map[*ir.BasicBlock]map[registerID]uint64{},
	}
}

// Name identifies this stage for pass.Stage / trace output.
func (p *Pass) Name() string { return "fast_cross_block_dce" }

// RunRoutine is this pass's xpass entry point: a whole-routine, single
// invocation (unlike a per-block pass, cross-block liveness cannot be
// computed one block at a time).
func (p *Pass) RunRoutine(rtn *ir.Routine) int {
	p.sealed = map[*ir.BasicBlock]bool{}
	p.liveIn = map[*ir.BasicBlock]map[registerID]uint64{}

	// Seed every exit block's live-out with the routine's external
	// contract: the calling convention's return registers (memory effects
	// are handled separately, conservatively, by the symbolic VM/memory
	// store rather than folded into this bitmap).
	p.exitLiveOut = map[registerID]uint64{}
	for _, r := range rtn.RoutineConvention.RetvalRegisters {
		p.exitLiveOut[idOf(r)] |= fieldMask(r)
	}
	// The stack pointer is always part of a routine's external contract: a
	// caller relies on it being left correctly adjusted even though no
	// retval register names it.
	p.exitLiveOut[idOf(ir.SP)] |= fieldMask(ir.SP)

	changed := true
	for changed {
		changed = false
		rtn.ForEach(func(blk *ir.BasicBlock) bool {
			if p.propagate(blk, p.liveOutOf(blk)) {
				changed = true
			}
			return true
		})
	}

	total := 0
	rtn.ForEach(func(blk *ir.BasicBlock) bool {
		total += p.sweep(blk)
		return true
	})
	return total
}

// liveOutOf is the union of every successor's live-in, or the routine's
// external contract for a block with no successors (an exit).
func (p *Pass) liveOutOf(blk *ir.BasicBlock) map[registerID]uint64 {
	if len(blk.Successors) == 0 {
		return cloneMask(p.exitLiveOut)
	}
	out := map[registerID]uint64{}
	for _, succ := range blk.Successors {
		for k, v := range p.liveIn[succ] {
			out[k] |= v
		}
	}
	return out
}

// propagate walks blk bottom-up given its live-out mask, producing its
// live-in mask; reports whether the stored live-in changed.
func (p *Pass) propagate(blk *ir.BasicBlock, liveOut map[registerID]uint64) bool {
	live := liveOut
	for i := blk.Size() - 1; i >= 0; i-- {
		ins := blk.Instructions[i]
		for opIdx, t := range ins.Base.OperandTypes {
			op := ins.Operands[opIdx]
			if !op.IsRegister() {
				continue
			}
			id := idOf(op.Reg)
			mask := fieldMask(op.Reg)
			if t >= ir.Write {
				if t == ir.ReadWrite {
					live[id] |= mask
				} else {
					live[id] &^= mask
				}
			} else {
				live[id] |= mask
			}
		}
		if ins.Base.Volatile {
			// A volatile instruction's effects (branches, calls, pins)
			// are always observable; treat every register it touches as
			// live regardless of type to be conservative.
			for opIdx := range ins.Base.OperandTypes {
				op := ins.Operands[opIdx]
				if op.IsRegister() {
					live[idOf(op.Reg)] |= fieldMask(op.Reg)
				}
			}
		}
	}

	old, existed := p.liveIn[blk]
	p.liveIn[blk] = live
	p.sealed[blk] = true
	if !existed {
		return true
	}
	return !maskEqual(old, live)
}

// sweep drops every non-volatile, non-branching instruction in blk whose
// writes are entirely dead at the point right after it, using the
// stabilized live-in of blk's successors (via liveOutOf) as ground truth
// and re-deriving the mask backward within blk itself.
func (p *Pass) sweep(blk *ir.BasicBlock) int {
	live := p.liveOutOf(blk)
	// Walk backward once more, this time deleting, since liveness is
	// naturally a backward analysis: a write is dead if nothing between
	// it and the block's live-out set reads it.
	removed := 0
	kept := make([]*ir.Instruction, 0, blk.Size())
	deadIdx := map[int]bool{}
	for i := blk.Size() - 1; i >= 0; i-- {
		ins := blk.Instructions[i]
		if !ins.Base.Volatile && !ins.Base.Branching && isFullyDeadWrite(ins, live) {
			deadIdx[i] = true
			removed++
			continue
		}
		for opIdx, t := range ins.Base.OperandTypes {
			op := ins.Operands[opIdx]
			if !op.IsRegister() {
				continue
			}
			id := idOf(op.Reg)
			mask := fieldMask(op.Reg)
			if t >= ir.Write {
				if t == ir.ReadWrite {
					live[id] |= mask
				} else {
					live[id] &^= mask
				}
			} else {
				live[id] |= mask
			}
		}
	}
	for i := 0; i < blk.Size(); i++ {
		if !deadIdx[i] {
			kept = append(kept, blk.Instructions[i])
		}
	}
	if removed > 0 {
		for i := blk.Size() - 1; i >= 0; i-- {
			if deadIdx[i] {
				blk.RemoveAt(i)
			}
		}
	}
	return removed
}

// isFullyDeadWrite reports whether every register bit ins writes to is
// absent from live (nothing downstream reads it before it would be
// overwritten again).
func isFullyDeadWrite(ins *ir.Instruction, live map[registerID]uint64) bool {
	wrote := false
	for opIdx, t := range ins.Base.OperandTypes {
		if t < ir.Write {
			continue
		}
		wrote = true
		op := ins.Operands[opIdx]
		id := idOf(op.Reg)
		mask := fieldMask(op.Reg)
		if live[id]&mask != 0 {
			return false
		}
	}
	return wrote
}

func cloneMask(m map[registerID]uint64) map[registerID]uint64 {
	c := make(map[registerID]uint64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func maskEqual(a, b map[registerID]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
