package vm

import (
	"testing"

	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/trace"
)

func TestReplayRecordsExitRegisters(t *testing.T) {
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	blk, _ := rtn.CreateBlock(0x1000, nil)

	r := reg64(1)
	blk.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(r), ir.MakeImmediate(7, 64)}})
	blk.Append(&ir.Instruction{Base: ir.Add, Operands: []ir.Operand{ir.MakeRegister(r), ir.MakeImmediate(3, 64)}})
	blk.Append(&ir.Instruction{Base: ir.Vexit, Operands: []ir.Operand{ir.MakeImmediate(0, 64)}})

	rec := trace.NewRecorder()
	Replay(rtn, nil, []ir.RegisterDesc{r}, rec)

	actions := rec.Actions()
	if len(actions) != 1 {
		t.Fatalf("Replay recorded %d actions, want 1", len(actions))
	}
	exit, ok := actions[0].(trace.Exit)
	if !ok {
		t.Fatalf("Replay's only action = %T, want trace.Exit", actions[0])
	}
	if exit.Registers[r] != 10 {
		t.Fatalf("exit register %v = %d, want 10", r, exit.Registers[r])
	}
}

func TestReplayFeedsArgsAsInitialRegisterValues(t *testing.T) {
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	blk, _ := rtn.CreateBlock(0x1000, nil)

	r := reg64(1)
	blk.Append(&ir.Instruction{Base: ir.Add, Operands: []ir.Operand{ir.MakeRegister(r), ir.MakeImmediate(5, 64)}})
	blk.Append(&ir.Instruction{Base: ir.Vexit, Operands: []ir.Operand{ir.MakeImmediate(0, 64)}})

	rec := trace.NewRecorder()
	Replay(rtn, map[ir.RegisterDesc]uint64{r: 100}, []ir.RegisterDesc{r}, rec)

	exit := rec.Actions()[0].(trace.Exit)
	if exit.Registers[r] != 105 {
		t.Fatalf("exit register %v = %d, want 105", r, exit.Registers[r])
	}
}

func TestReplayRecordsExternalCall(t *testing.T) {
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	blk, _ := rtn.CreateBlock(0x1000, nil)

	blk.Append(&ir.Instruction{Base: ir.Vxcall, Operands: []ir.Operand{ir.MakeImmediate(0x4141, 64)}})
	blk.Append(&ir.Instruction{Base: ir.Vexit, Operands: []ir.Operand{ir.MakeImmediate(0, 64)}})

	rec := trace.NewRecorder()
	Replay(rtn, nil, nil, rec)

	actions := rec.Actions()
	if len(actions) != 2 {
		t.Fatalf("Replay recorded %d actions, want 2", len(actions))
	}
	call, ok := actions[0].(trace.ExternalCall)
	if !ok || call.Address != 0x4141 {
		t.Fatalf("first action = %v, want ExternalCall(0x4141)", actions[0])
	}
	if _, ok := actions[1].(trace.Exit); !ok {
		t.Fatalf("second action = %T, want trace.Exit", actions[1])
	}
}

func TestReplayRecordsUnresolvedMemoryRead(t *testing.T) {
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	blk, _ := rtn.CreateBlock(0x1000, nil)

	dst := reg64(1)
	blk.Append(&ir.Instruction{Base: ir.Ldd, Operands: []ir.Operand{
		ir.MakeRegister(dst), ir.MakeRegister(ir.SP), ir.MakeImmediate(0, 64),
	}})
	blk.Append(&ir.Instruction{Base: ir.Vexit, Operands: []ir.Operand{ir.MakeImmediate(0, 64)}})

	rec := trace.NewRecorder()
	Replay(rtn, nil, nil, rec)

	actions := rec.Actions()
	if len(actions) != 2 {
		t.Fatalf("Replay recorded %d actions, want 2", len(actions))
	}
	read, ok := actions[0].(trace.MemoryRead)
	if !ok {
		t.Fatalf("first action = %T, want trace.MemoryRead", actions[0])
	}
	if read.Value == 0 {
		t.Error("an unresolved read's fixed value should be deterministic and non-zero for a non-zero pointer")
	}
}

func TestReplayFollowsJumpAcrossBlocks(t *testing.T) {
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	entry, _ := rtn.CreateBlock(0x1000, nil)
	target, _ := rtn.CreateBlock(0x2000, entry)

	r := reg64(1)
	entry.Append(&ir.Instruction{Base: ir.Mov, Operands: []ir.Operand{ir.MakeRegister(r), ir.MakeImmediate(1, 64)}})
	entry.Append(&ir.Instruction{Base: ir.Jmp, Operands: []ir.Operand{ir.MakeImmediate(0x2000, 64)}})

	target.Append(&ir.Instruction{Base: ir.Add, Operands: []ir.Operand{ir.MakeRegister(r), ir.MakeImmediate(1, 64)}})
	target.Append(&ir.Instruction{Base: ir.Vexit, Operands: []ir.Operand{ir.MakeImmediate(0, 64)}})

	rec := trace.NewRecorder()
	Replay(rtn, nil, []ir.RegisterDesc{r}, rec)

	actions := rec.Actions()
	if len(actions) != 1 {
		t.Fatalf("Replay recorded %d actions, want 1", len(actions))
	}
	exit := actions[0].(trace.Exit)
	if exit.Registers[r] != 2 {
		t.Fatalf("exit register %v = %d, want 2 (jmp should have been followed)", r, exit.Registers[r])
	}
}

func TestReplayStopsWhenJumpTargetIsUnexplored(t *testing.T) {
	rtn := ir.NewRoutine(ir.DefaultCallConvention)
	entry, _ := rtn.CreateBlock(0x1000, nil)
	entry.Append(&ir.Instruction{Base: ir.Jmp, Operands: []ir.Operand{ir.MakeImmediate(0x9999, 64)}})

	rec := trace.NewRecorder()
	Replay(rtn, nil, nil, rec)

	if len(rec.Actions()) != 0 {
		t.Fatalf("Replay recorded %d actions, want 0 when the jump target does not exist", len(rec.Actions()))
	}
}
