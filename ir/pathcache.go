package ir

// pathCache memoizes the set of blocks lying on some path from src to dst,
// a two-level map keyed first by src then by dst, matching the layout of
// the routine's path_map. flush drops everything, forcing re-exploration;
// callers hold the routine's mutex while touching this.
type pathCache struct {
	entries map[*BasicBlock]map[*BasicBlock]map[*BasicBlock]struct{}
}

func newPathCache() *pathCache {
	return &pathCache{entries: map[*BasicBlock]map[*BasicBlock]map[*BasicBlock]struct{}{}}
}

func (c *pathCache) get(src, dst *BasicBlock) (map[*BasicBlock]struct{}, bool) {
	byDst, ok := c.entries[src]
	if !ok {
		return nil, false
	}
	set, ok := byDst[dst]
	return set, ok
}

func (c *pathCache) put(src, dst *BasicBlock, set map[*BasicBlock]struct{}) {
	byDst, ok := c.entries[src]
	if !ok {
		byDst = map[*BasicBlock]map[*BasicBlock]struct{}{}
		c.entries[src] = byDst
	}
	byDst[dst] = set
}

func (c *pathCache) flush() {
	c.entries = map[*BasicBlock]map[*BasicBlock]map[*BasicBlock]struct{}{}
}

// explorePaths performs a DFS from blk over successor edges. Its keys are
// every block reachable from blk (blk included); each value is that
// block's downstream set as seen by this DFS (the block itself plus what
// it reaches). Only blk's own set is guaranteed complete: a block inside
// a cycle stops at the ancestor still being visited. Routine.GetPath
// builds the src-to-dst path sets from the key sets of these results.
func explorePaths(blk *BasicBlock) map[*BasicBlock]map[*BasicBlock]struct{} {
	result := map[*BasicBlock]map[*BasicBlock]struct{}{}
	visiting := map[*BasicBlock]bool{}

	var visit func(cur *BasicBlock) map[*BasicBlock]struct{}
	visit = func(cur *BasicBlock) map[*BasicBlock]struct{} {
		if set, ok := result[cur]; ok {
			return set
		}
		self := map[*BasicBlock]struct{}{cur: {}}
		if visiting[cur] {
			// Loop back-edge: cur is reachable from itself, contributes no
			// further downstream blocks beyond itself.
			return self
		}
		visiting[cur] = true
		for _, succ := range cur.Successors {
			for b := range visit(succ) {
				self[b] = struct{}{}
			}
		}
		visiting[cur] = false
		result[cur] = self
		return self
	}
	visit(blk)
	return result
}
