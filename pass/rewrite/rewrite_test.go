package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/trace"
	"github.com/xbl2022/VTIL-Core/vm"
)

// buildTestRoutine constructs a small single-block routine equivalent in
// shape to original_source/VTIL-Compiler/validation/test1.cpp's
// straight-line prologue: two virtual-register inputs pinned live, a run
// of pure arithmetic that leaves several dead intermediates behind, and a
// vexit exposing only the final result. It's a synthetic stand-in rather
// than a literal port, since test1.cpp's generate() depends on a
// serialized binary blob (test1.vtil.hpp) not present in this pack.
func buildTestRoutine(t *testing.T) (*ir.Routine, ir.RegisterDesc, ir.RegisterDesc, ir.RegisterDesc) {
	t.Helper()
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	blk, created := rtn.CreateBlock(0x1000, nil)
	require.True(t, created)

	r := ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 1, BitCount: 64}
	b := ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 2, BitCount: 64}
	dead := ir.RegisterDesc{Kind: ir.InternalTemporary, CombinedID: 3, BitCount: 64}
	result := ir.RegisterDesc{Kind: ir.Virtual, CombinedID: 4, BitCount: 64}

	blk.Append(&ir.Instruction{Base: ir.Vpinr, Operands: []ir.Operand{ir.MakeRegister(r)}})
	blk.Append(&ir.Instruction{Base: ir.Vpinr, Operands: []ir.Operand{ir.MakeRegister(b)}})

	// A dead computation that never feeds the result: the rewrite pass
	// should be able to drop it once it proves nothing reads `dead` again.
	blk.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(dead), ir.MakeRegister(r)}})
	blk.Append(&ir.Instruction{Base: ir.Add, Operands: []ir.Operand{ir.MakeRegister(dead), ir.MakeImmediate(42, 64)}})

	blk.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(result), ir.MakeRegister(r)}})
	blk.Append(&ir.Instruction{Base: ir.Add, Operands: []ir.Operand{ir.MakeRegister(result), ir.MakeRegister(b)}})
	blk.Append(&ir.Instruction{Base: ir.Sub, Operands: []ir.Operand{ir.MakeRegister(result), ir.MakeImmediate(1, 64)}})
	blk.Append(&ir.Instruction{Base: ir.Add, Operands: []ir.Operand{ir.MakeRegister(result), ir.MakeImmediate(1, 64)}})

	blk.Append(&ir.Instruction{Base: ir.Vexit, Operands: []ir.Operand{ir.MakeImmediate(0, 64)}})

	return rtn, r, b, result
}

func replayTrace(t *testing.T, rtn *ir.Routine, r, b, result ir.RegisterDesc, rv, bv uint64) []trace.Action {
	t.Helper()
	rec := trace.NewRecorder()
	vm.Replay(rtn, map[ir.RegisterDesc]uint64{r: rv, b: bv}, []ir.RegisterDesc{result}, rec)
	return rec.Actions()
}

func TestRewritePreservesBehavior(t *testing.T) {
	rtn, r, b, result := buildTestRoutine(t)
	before := replayTrace(t, rtn, r, b, result, 7, 9)

	blk := rtn.EntryPoint
	sizeBefore := blk.Size()

	p := New()
	p.RunBlock(rtn, blk)

	after := replayTrace(t, rtn, r, b, result, 7, 9)
	require.True(t, trace.Equal(before, after), "rewrite changed observable behavior: before=%v after=%v", before, after)
	require.LessOrEqual(t, blk.Size(), sizeBefore)
}

func TestRewriteDropsDeadTemporary(t *testing.T) {
	rtn, _, _, _ := buildTestRoutine(t)
	// The internal temporary buildTestRoutine writes and never reads.
	dead := ir.RegisterDesc{Kind: ir.InternalTemporary, CombinedID: 3, BitCount: 64}
	blk := rtn.EntryPoint

	p := New()
	p.RunBlock(rtn, blk)

	for _, ins := range blk.Instructions {
		for _, op := range ins.Operands {
			if op.IsRegister() {
				require.NotEqual(t, dead, op.Reg, "dead temporary should not survive the rewrite")
			}
		}
	}
}
