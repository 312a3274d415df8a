package vm

import (
	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/symbolic"
	"github.com/xbl2022/VTIL-Core/trace"
)

// Replay drives a routine from its entry point through every straight-line
// run it takes, following jmp targets, feeding unresolved memory reads a
// deterministic fixed value (rather than failing outright) and recording
// every externally observable effect into rec: unresolved reads, VXCALLs,
// and the final state of every register named in observe at a VEXIT. This
// is the harness the validation tests use to compare a routine's behavior
// before and after an optimizer pass, mirroring what the original's
// verify_symbolic does against a real re-execution of the generated
// native code.
func Replay(rtn *ir.Routine, args map[ir.RegisterDesc]uint64, observe []ir.RegisterDesc, rec *trace.Recorder) {
	state := NewState()
	for reg, val := range args {
		state.WriteRegister(reg, symbolic.NewConstant(val, reg.BitCount))
	}

	blk := rtn.EntryPoint
	idx := 0
	visited := map[*ir.BasicBlock]int{}

	for blk != nil {
		// A defensive bound against a routine whose IR loops without ever
		// hitting a VEXIT; the validation harness only ever exercises
		// finite test routines, so tripping this indicates a bug in the
		// pass under test, not a legitimate program shape.
		visited[blk]++
		if visited[blk] > 1<<16 {
			return
		}

		if idx >= blk.Size() {
			return
		}
		ins := blk.Instructions[idx]

		switch ins.Base {
		case ir.Vexit:
			exit := trace.Exit{Registers: map[ir.RegisterDesc]uint64{}}
			for _, reg := range observe {
				exit.Registers[reg] = state.ReadRegister(reg).Uint64()
			}
			rec.Record(exit)
			return

		case ir.Vxcall:
			target := cvtOperand(state, ins, 0)
			cc := rtn.GetCallConvention(ins.VIP)
			params := make([]uint64, len(cc.ParamRegisters))
			for i, reg := range cc.ParamRegisters {
				params[i] = state.ReadRegister(reg).Uint64()
			}
			rec.Record(trace.ExternalCall{Address: target.Uint64(), Parameters: params})
			idx++
			continue

		case ir.Ldd:
			reg, offset := ins.MemoryLocation()
			ptr := state.ReadRegister(reg).AddConstant(offset)
			size := ins.Operands[0].BitCount()
			val := state.Memory.Read(ptr, size)
			if val == nil {
				fixed := fixedMemoryValue(ptr)
				rec.Record(trace.MemoryRead{Address: ptr.Uint64(), Size: size, Value: fixed})
				state.WriteRegister(ins.Operands[0].Reg, symbolic.NewConstant(fixed, size))
				idx++
				continue
			}
		}

		if ins.Base == ir.Js {
			cc := cvtOperand(state, ins, 0)
			targetIdx := 2
			if cc.Uint64() != 0 {
				targetIdx = 1
			}
			target := cvtOperand(state, ins, targetIdx)
			next := rtn.FindBlock(target.Uint64())
			if next == nil {
				return
			}
			blk, idx = next, 0
			continue
		}

		if ins.Base.Branching {
			target := cvtOperand(state, ins, 0)
			next := rtn.FindBlock(target.Uint64())
			if next == nil {
				return
			}
			blk, idx = next, 0
			continue
		}

		if reason := Execute(state, ins); reason != None {
			return
		}
		idx++
	}
}

// fixedMemoryValue derives a stable value for an unresolved read so two
// replays of equivalent IR (pre- and post-optimization) that both fail to
// resolve the same pointer expression still agree.
func fixedMemoryValue(ptr *symbolic.Expression) uint64 {
	if c, ok := ptr.ConstantValue(); ok {
		return c.Uint64() ^ 0x1010101010101010
	}
	return 0xdeadbeef
}
