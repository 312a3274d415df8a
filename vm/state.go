package vm

import (
	"github.com/xbl2022/VTIL-Core/ir"
	"github.com/xbl2022/VTIL-Core/symbolic"
)

type regKey struct {
	kind ir.RegisterKind
	id   uint64
}

// regState tracks a register's full natural-width symbolic value together
// with a bitmap of which bits have actually been written since the state
// was created. Bits never explicitly written still read back as part of
// Full (a fresh symbolic variable materialized on first touch), but the
// mask lets a pass distinguish "genuinely written here" from "inherited
// from before this VM run" without re-deriving it from the expression
// tree.
type regState struct {
	Full        *symbolic.Expression
	WrittenMask uint64
}

const nativeWidth = 64

// State is the symbolic machine state a VM run operates over: one
// abstract register file plus one symbolic memory store. Distinct State
// values are how the rewrite pass runs a fresh, isolated virtualization of
// a block without disturbing whatever state a caller already built up.
type State struct {
	registers map[regKey]*regState
	Memory    *symbolic.MemoryStore
}

func NewState() *State {
	return &State{registers: map[regKey]*regState{}, Memory: symbolic.NewMemoryStore()}
}

func keyOf(reg ir.RegisterDesc) regKey { return regKey{kind: reg.Kind, id: reg.CombinedID} }

func (s *State) fullOf(reg ir.RegisterDesc) *regState {
	k := keyOf(reg)
	rs, ok := s.registers[k]
	if !ok {
		full := symbolic.NewVariable(ir.RegisterDesc{Kind: reg.Kind, CombinedID: reg.CombinedID, BitCount: nativeWidth})
		rs = &regState{Full: full}
		s.registers[k] = rs
	}
	return rs
}

// ReadRegister returns the symbolic value currently held in the bit range
// reg addresses.
func (s *State) ReadRegister(reg ir.RegisterDesc) *symbolic.Expression {
	rs := s.fullOf(reg)
	if reg.BitOffset == 0 && reg.BitCount == nativeWidth {
		return rs.Full
	}
	shifted := rs.Full
	if reg.BitOffset != 0 {
		shifted = symbolic.NewBinary(rs.Full, opShiftRight, symbolic.NewConstant(uint64(reg.BitOffset), nativeWidth))
	}
	return shifted.Resize(reg.BitCount, false)
}

// WriteRegister merges value into the bit range reg addresses, leaving the
// rest of the underlying storage location untouched.
func (s *State) WriteRegister(reg ir.RegisterDesc, value *symbolic.Expression) {
	rs := s.fullOf(reg)
	fieldMask := uint64(1)<<reg.BitCount - 1
	if reg.BitCount >= 64 {
		fieldMask = ^uint64(0)
	}
	fieldMask <<= reg.BitOffset

	widened := value.Resize(nativeWidth, false)
	if reg.BitOffset != 0 {
		widened = symbolic.NewBinary(widened, opShiftLeft, symbolic.NewConstant(uint64(reg.BitOffset), nativeWidth))
	}

	if reg.BitOffset == 0 && reg.BitCount == nativeWidth {
		rs.Full = widened
	} else {
		keepMask := symbolic.NewConstant(^fieldMask, nativeWidth)
		kept := symbolic.NewBinary(rs.Full, opBitwiseAnd, keepMask)
		setMask := symbolic.NewConstant(fieldMask, nativeWidth)
		newBits := symbolic.NewBinary(widened, opBitwiseAnd, setMask)
		rs.Full = symbolic.NewBinary(kept, opBitwiseOr, newBits)
	}
	rs.WrittenMask |= fieldMask
}

// WrittenMask reports which native-width bit positions of reg's storage
// location have been explicitly written in this state.
func (s *State) WrittenMask(reg ir.RegisterDesc) uint64 {
	return s.fullOf(reg).WrittenMask
}

// MemoryCells forwards to the underlying store, used by passes that need
// to enumerate every memory write a run produced.
func (s *State) MemoryCells() []symbolic.Cell {
	return s.Memory.Cells()
}
