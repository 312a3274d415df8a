package ir

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xbl2022/VTIL-Core/common"
)

// Routine owns the whole control-flow graph being translated: every
// explored block, the calling conventions in effect, and the epoch
// counters caches key off to detect staleness.
type Routine struct {
	mu sync.Mutex

	// ID correlates a routine across logs/traces. Assigned once at
	// construction; ContentHash gives a second, structural identity that
	// stays stable across separate NewRoutine calls describing the same
	// program, for callers that want path-cache reuse across process
	// restarts.
	ID uuid.UUID

	exploredBlocks map[uint64]*BasicBlock
	EntryPoint     *BasicBlock

	paths *pathCache

	lastInternalID uint64

	RoutineConvention    CallConvention
	SubroutineConvention CallConvention
	specConventions      map[uint64]CallConvention

	// epoch increments on any modification; cfgEpoch increments only on a
	// structural (CFG-shape) modification. Passes and caches compare
	// these to detect staleness without diffing content.
	epoch    uint64
	cfgEpoch uint64

	depthListCache [2]depthOrderedList
}

type DepthPlacement struct {
	LevelDependency int
	LevelDepth      int
	Block           *BasicBlock
}

type depthOrderedList struct {
	epoch uint64
	valid bool
	list  []DepthPlacement
}

const invalidEpoch = ^uint64(0)

// NewRoutine constructs an empty routine with the given default calling
// convention applied to both the routine itself and unspecialized VXCALL
// targets.
func NewRoutine(convention CallConvention) *Routine {
	return &Routine{
		ID:                   uuid.New(),
		exploredBlocks:       map[uint64]*BasicBlock{},
		paths:                newPathCache(),
		specConventions:      map[uint64]CallConvention{},
		RoutineConvention:    convention,
		SubroutineConvention: convention,
		depthListCache:       [2]depthOrderedList{{epoch: invalidEpoch}, {epoch: invalidEpoch}},
	}
}

// SignalModification bumps epoch, invalidating any cache keyed on it but
// not the CFG-shape-only ones.
func (r *Routine) SignalModification() { atomic.AddUint64(&r.epoch, 1) }

// SignalCFGModification bumps both epoch and cfgEpoch: use whenever an edge
// or block is added/removed.
func (r *Routine) SignalCFGModification() {
	atomic.AddUint64(&r.epoch, 1)
	atomic.AddUint64(&r.cfgEpoch, 1)
}

func (r *Routine) Epoch() uint64    { return atomic.LoadUint64(&r.epoch) }
func (r *Routine) CFGEpoch() uint64 { return atomic.LoadUint64(&r.cfgEpoch) }

// Alloc returns a fresh internal-register descriptor unique within this
// routine. The top bit of the combined id is set so these ids never equal
// a block-scoped BasicBlock.Tmp id ((EntryVIP << 20) | index).
func (r *Routine) Alloc(bitCount uint8) RegisterDesc {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastInternalID++
	return RegisterDesc{Kind: InternalTemporary, CombinedID: 1<<63 | r.lastInternalID, BitCount: bitCount}
}

// CreateBlock finds or creates the block at vip, wiring src as a
// predecessor when the block is newly created. Reports whether the block
// was newly created (mirrors routine::create_block's pair<block,bool>).
func (r *Routine) CreateBlock(vip uint64, src *BasicBlock) (*BasicBlock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if blk, ok := r.exploredBlocks[vip]; ok {
		return blk, false
	}
	blk := NewBasicBlock(vip)
	blk.Owner = r
	r.exploredBlocks[vip] = blk
	if r.EntryPoint == nil {
		r.EntryPoint = blk
	}
	if src != nil {
		src.Successors = append(src.Successors, blk)
		blk.Predecessors = append(blk.Predecessors, src)
	}
	r.flushPathsLocked()
	r.signalCFGModificationLocked()
	return blk, true
}

// DeleteBlock removes a block that must already have no remaining edges.
func (r *Routine) DeleteBlock(blk *BasicBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	Invariant(len(blk.Predecessors) == 0 && len(blk.Successors) == 0, "DeleteBlock: block %d still has edges", blk.EntryVIP)
	delete(r.exploredBlocks, blk.EntryVIP)
	if r.EntryPoint == blk {
		r.EntryPoint = nil
	}
	r.flushPathsLocked()
	r.signalCFGModificationLocked()
}

func (r *Routine) signalCFGModificationLocked() {
	atomic.AddUint64(&r.epoch, 1)
	atomic.AddUint64(&r.cfgEpoch, 1)
}

// FindBlock returns the block at vip, or nil.
func (r *Routine) FindBlock(vip uint64) *BasicBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exploredBlocks[vip]
}

// GetBlock is FindBlock but panics if the block does not exist.
func (r *Routine) GetBlock(vip uint64) *BasicBlock {
	blk := r.FindBlock(vip)
	Invariant(blk != nil, "GetBlock: no block at vip %#x", vip)
	return blk
}

// ForEach invokes fn for every explored block; fn returning false stops
// the enumeration early.
func (r *Routine) ForEach(fn func(*BasicBlock) bool) {
	r.mu.Lock()
	blocks := make([]*BasicBlock, 0, len(r.exploredBlocks))
	for _, b := range r.exploredBlocks {
		blocks = append(blocks, b)
	}
	r.mu.Unlock()
	for _, b := range blocks {
		if !fn(b) {
			return
		}
	}
}

// GetCallConvention returns the convention bound to a specific VXCALL vip,
// falling back to the routine's subroutine convention.
func (r *Routine) GetCallConvention(vip uint64) CallConvention {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cc, ok := r.specConventions[vip]; ok {
		return cc
	}
	return r.SubroutineConvention
}

// SetCallConvention overrides the convention for a specific VXCALL vip.
func (r *Routine) SetCallConvention(vip uint64, cc CallConvention) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specConventions[vip] = cc
}

// GetPath returns the set of blocks lying on some path from src to dst,
// exploring and caching it on first use.
func (r *Routine) GetPath(src, dst *BasicBlock) map[*BasicBlock]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.paths.get(src, dst); ok {
		return set
	}
	r.explorePathsLocked(src)
	set, _ := r.paths.get(src, dst)
	return set
}

// explorePathsLocked caches, for every dst reachable from src, the blocks
// reachable from src that can themselves reach dst.
func (r *Routine) explorePathsLocked(src *BasicBlock) {
	reachable := explorePaths(src)
	downstream := make(map[*BasicBlock]map[*BasicBlock]map[*BasicBlock]struct{}, len(reachable))
	for mid := range reachable {
		downstream[mid] = explorePaths(mid)
	}
	for dst := range reachable {
		set := map[*BasicBlock]struct{}{}
		for mid, down := range downstream {
			if _, ok := down[dst]; ok {
				set[mid] = struct{}{}
			}
		}
		r.paths.put(src, dst, set)
	}
}

// HasPath reports whether dst is reachable from src.
func (r *Routine) HasPath(src, dst *BasicBlock) bool {
	set := r.GetPath(src, dst)
	return set != nil
}

// IsLooping reports whether blk lies on a genuine cycle: some successor of
// blk can reach back to it. HasPath(blk, blk) alone can't answer this,
// since every block trivially "reaches" itself via a zero-length path.
func (r *Routine) IsLooping(blk *BasicBlock) bool {
	for _, succ := range blk.Successors {
		if r.HasPath(succ, blk) {
			return true
		}
	}
	return false
}

// FlushPaths discards the entire path cache, e.g. after a batch of CFG
// edits.
func (r *Routine) FlushPaths() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushPathsLocked()
}

func (r *Routine) flushPathsLocked() {
	r.paths.flush()
}

// GetExits returns every block with no successors.
func (r *Routine) GetExits() []*BasicBlock {
	var exits []*BasicBlock
	r.ForEach(func(b *BasicBlock) bool {
		if b.IsExit() {
			exits = append(exits, b)
		}
		return true
	})
	return exits
}

// NumBlocks, NumInstructions and NumBranches provide basic complexity
// statistics used by the CLI's --stats output.
func (r *Routine) NumBlocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exploredBlocks)
}

func (r *Routine) NumInstructions() int {
	total := 0
	r.ForEach(func(b *BasicBlock) bool {
		total += b.Size()
		return true
	})
	return total
}

func (r *Routine) NumBranches() int {
	total := 0
	r.ForEach(func(b *BasicBlock) bool {
		if term := b.Terminator(); term != nil && term.Base.Branching {
			total++
		}
		return true
	})
	return total
}

// ContentHash derives a structural identity for the routine's current CFG
// shape: every block's VIP and disassembled instruction stream, in
// ascending VIP order, hashed with the same content-addressing primitives
// this pack's other binaries use for hashing chain data. Unlike ID, two
// separate NewRoutine calls that end up building the same program produce
// the same ContentHash, so it doubles as a path-cache key that survives a
// process restart (see PersistPathsByContent/WarmPathByContent).
func (r *Routine) ContentHash() common.Hash {
	r.mu.Lock()
	vips := make([]uint64, 0, len(r.exploredBlocks))
	for vip := range r.exploredBlocks {
		vips = append(vips, vip)
	}
	blocks := r.exploredBlocks
	r.mu.Unlock()

	sort.Slice(vips, func(i, j int) bool { return vips[i] < vips[j] })

	var buf []byte
	for _, vip := range vips {
		buf = append(buf, common.Uint64ToBytes(vip)...)
		for _, ins := range blocks[vip].Instructions {
			buf = append(buf, ins.String()...)
		}
	}
	return common.BytesToHash(common.ComputeHash(buf))
}

// GetDepthOrderedList returns blocks grouped by CFG depth from the entry
// point (fwd) or from the exits (!fwd), suitable for driving a pass across
// depth layers in parallel with no data dependency within a layer. The
// result is cached per direction and invalidated by cfgEpoch.
func (r *Routine) GetDepthOrderedList(fwd bool) []DepthPlacement {
	r.mu.Lock()
	idx := 0
	if !fwd {
		idx = 1
	}
	if cache := r.depthListCache[idx]; cache.valid && cache.epoch == r.cfgEpoch {
		r.mu.Unlock()
		return cache.list
	}
	r.mu.Unlock()

	depth := map[*BasicBlock]int{}
	var roots []*BasicBlock
	if fwd {
		if r.EntryPoint != nil {
			roots = []*BasicBlock{r.EntryPoint}
		}
	} else {
		roots = r.GetExits()
	}

	next := func(b *BasicBlock) []*BasicBlock {
		if fwd {
			return b.Successors
		}
		return b.Predecessors
	}

	// Longest-path-from-root over the edges that don't close a cycle: a
	// routine's CFG routinely loops, and relaxing unconditionally around a
	// back edge would grow depth forever. onStack marks the current DFS
	// path's ancestors; an edge into one of them is a back edge and is
	// skipped rather than relaxed. A node can still be revisited and its
	// depth increased along a different, longer forward/cross path, but
	// each such increase strictly grows a value bounded by the block
	// count, so this always terminates.
	onStack := map[*BasicBlock]bool{}
	var visit func(cur *BasicBlock, d int)
	visit = func(cur *BasicBlock, d int) {
		if onStack[cur] {
			return
		}
		if prev, ok := depth[cur]; ok && prev >= d {
			return
		}
		depth[cur] = d
		onStack[cur] = true
		for _, nb := range next(cur) {
			visit(nb, d+1)
		}
		onStack[cur] = false
	}
	for _, root := range roots {
		visit(root, 0)
	}

	var list []DepthPlacement
	r.ForEach(func(b *BasicBlock) bool {
		d, ok := depth[b]
		if !ok {
			d = 0
		}
		list = append(list, DepthPlacement{LevelDepth: d, Block: b})
		return true
	})

	r.mu.Lock()
	r.depthListCache[idx] = depthOrderedList{epoch: r.cfgEpoch, valid: true, list: list}
	r.mu.Unlock()
	return list
}

// Clone deep-copies the routine and every block it owns; edges are
// rewired to point within the clone. Grounded on routine::clone(), used by
// the validation harness to run a pass against a pristine copy.
func (r *Routine) Clone() *Routine {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := NewRoutine(r.RoutineConvention)
	clone.SubroutineConvention = r.SubroutineConvention
	for vip, cc := range r.specConventions {
		clone.specConventions[vip] = cc
	}
	clone.lastInternalID = r.lastInternalID

	blockClones := map[*BasicBlock]*BasicBlock{}
	for vip, b := range r.exploredBlocks {
		nb := &BasicBlock{
			Owner:    clone,
			EntryVIP: vip,
			SPOffset: b.SPOffset,
			SPIndex:  b.SPIndex,
		}
		for _, ins := range b.Instructions {
			cp := *ins
			cp.Operands = append([]Operand{}, ins.Operands...)
			nb.Instructions = append(nb.Instructions, &cp)
		}
		clone.exploredBlocks[vip] = nb
		blockClones[b] = nb
		if b == r.EntryPoint {
			clone.EntryPoint = nb
		}
	}
	for _, b := range r.exploredBlocks {
		nb := blockClones[b]
		for _, p := range b.Predecessors {
			nb.Predecessors = append(nb.Predecessors, blockClones[p])
		}
		for _, s := range b.Successors {
			nb.Successors = append(nb.Successors, blockClones[s])
		}
	}
	return clone
}
