package ir

import "sync"

// BasicBlock is a straight-line run of instructions with explicit
// predecessor/successor edges into the owning routine's control-flow
// graph. Structural edits (append/insert/erase, edge rewiring) are
// serialized by mu, a plain non-reentrant mutex: nothing in this package
// re-enters a locked block's own methods while holding its lock.
type BasicBlock struct {
	mu sync.Mutex

	Owner    *Routine
	EntryVIP uint64

	Instructions []*Instruction

	Predecessors []*BasicBlock
	Successors   []*BasicBlock

	// SPOffset/SPIndex are the stack-pointer bookkeeping values in effect
	// at block entry; instructions carry them forward unchanged until an
	// SPReset (see Instruction.SPOffset/SPIndex).
	SPOffset int64
	SPIndex  uint64

	lastTemporaryIndex uint64
}

// NewBasicBlock creates a detached block at the given entry VIP. Callers
// attach it to a routine with Routine.AddBlock.
func NewBasicBlock(entryVIP uint64) *BasicBlock {
	return &BasicBlock{EntryVIP: entryVIP}
}

// Tmp allocates a fresh internal-temporary register scoped to this block,
// unique across the whole routine (the combined id folds in the block's
// entry VIP so two blocks never collide).
func (b *BasicBlock) Tmp(bitCount uint8) RegisterDesc {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTemporaryIndex++
	return RegisterDesc{
		Kind:       InternalTemporary,
		CombinedID: (b.EntryVIP << 20) | b.lastTemporaryIndex,
		BitOffset:  0,
		BitCount:   bitCount,
	}
}

// Append adds an instruction to the end of the block, threading
// stack-pointer bookkeeping forward from the previous instruction (or the
// block's entry state, if empty).
func (b *BasicBlock) Append(ins *Instruction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(ins)
}

func (b *BasicBlock) appendLocked(ins *Instruction) {
	spOffset, spIndex := b.SPOffset, b.SPIndex
	if n := len(b.Instructions); n > 0 {
		last := b.Instructions[n-1]
		spOffset, spIndex = last.SPOffset, last.SPIndex
	}
	if ins.SPReset {
		spIndex++
		spOffset = 0
	}
	ins.SPOffset = spOffset
	ins.SPIndex = spIndex
	b.Instructions = append(b.Instructions, ins)
}

// InsertAt inserts an instruction before the instruction currently at pos
// (pos == len(Instructions) appends).
func (b *BasicBlock) InsertAt(pos int, ins *Instruction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	Invariant(pos >= 0 && pos <= len(b.Instructions), "InsertAt: index %d out of range", pos)
	if pos == len(b.Instructions) {
		b.appendLocked(ins)
		return
	}
	b.Instructions = append(b.Instructions, nil)
	copy(b.Instructions[pos+1:], b.Instructions[pos:])
	b.Instructions[pos] = ins
	b.renumberFrom(pos)
}

// RemoveAt erases the instruction at pos.
func (b *BasicBlock) RemoveAt(pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	Invariant(pos >= 0 && pos < len(b.Instructions), "RemoveAt: index %d out of range", pos)
	b.Instructions = append(b.Instructions[:pos], b.Instructions[pos+1:]...)
	b.renumberFrom(pos)
}

// renumberFrom recomputes SPOffset/SPIndex for every instruction from pos
// onward, called after a structural edit invalidates the running totals.
// Caller must hold mu.
func (b *BasicBlock) renumberFrom(pos int) {
	spOffset, spIndex := b.SPOffset, b.SPIndex
	if pos > 0 {
		prev := b.Instructions[pos-1]
		spOffset, spIndex = prev.SPOffset, prev.SPIndex
	}
	for i := pos; i < len(b.Instructions); i++ {
		ins := b.Instructions[i]
		if ins.SPReset {
			spIndex++
			spOffset = 0
		}
		ins.SPOffset = spOffset
		ins.SPIndex = spIndex
	}
}

// Size returns the instruction count, used by the rewrite pass to compare
// a candidate replacement against the original block.
func (b *BasicBlock) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Instructions)
}

// Terminator returns the block's last instruction, or nil if empty.
func (b *BasicBlock) Terminator() *Instruction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}

// IsExit reports whether this block has no successors (a routine exit
// point, see Routine.GetExits).
func (b *BasicBlock) IsExit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Successors) == 0
}

// Assign adopts other's instruction list and temporary counter, the
// operation a pass uses to commit a replacement block it assembled off to
// the side back into b. other's own identity (EntryVIP, Owner, edges) is
// discarded; only its instructions and last-issued temporary index carry
// over, so a Tmp call on b after Assign never reissues an id other already
// handed out while it was being built.
func (b *BasicBlock) Assign(other *BasicBlock) {
	other.mu.Lock()
	instructions := other.Instructions
	lastTemp := other.lastTemporaryIndex
	other.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Instructions = instructions
	if lastTemp > b.lastTemporaryIndex {
		b.lastTemporaryIndex = lastTemp
	}
}
