package symbolic

// MemoryStore models the VM's symbolic memory: a conservative map from
// pointer expression to the last value written there. It never attempts
// to prove two structurally different pointers happen to alias, only the
// converse (that two pointers are provably disjoint, so a write to one
// cannot invalidate a stored value at the other). Merging aliasing writes
// into a single conservative value is deliberately not attempted: it would
// trade a clean AliasFailure for a silently wrong result.
type MemoryStore struct {
	cells map[string]memCell
}

type memCell struct {
	ptr   *Expression
	value *Expression
	width uint8
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cells: map[string]memCell{}}
}

// Read returns the value last written at ptr, resized to width, or nil if
// no write is known to have produced exactly that value (the caller
// should treat nil as vm.AliasFailure, mirroring read_memory returning a
// null expression reference in the original).
func (m *MemoryStore) Read(ptr *Expression, width uint8) *Expression {
	key := canonicalKey(ptr)
	cell, ok := m.cells[key]
	if !ok {
		return nil
	}
	if cell.width == width {
		return cell.value
	}
	return cell.value.Resize(width, false)
}

// Write records value at ptr, invalidating every previously stored cell
// that cannot be proven disjoint from the new write.
func (m *MemoryStore) Write(ptr *Expression, value *Expression, width uint8) {
	key := canonicalKey(ptr)
	for k, cell := range m.cells {
		if k == key {
			continue
		}
		if provablyDisjoint(ptr, width, cell.ptr, cell.width) {
			continue
		}
		delete(m.cells, k)
	}
	m.cells[key] = memCell{ptr: ptr, value: value, width: width}
}

// Cell is a snapshot of one stored memory write, exposed read-only so a
// pass can enumerate everything a symbolic run touched.
type Cell struct {
	Ptr   *Expression
	Value *Expression
	Width uint8
}

// Cells returns every live memory cell in unspecified order.
func (m *MemoryStore) Cells() []Cell {
	out := make([]Cell, 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, Cell{Ptr: c.ptr, Value: c.value, Width: c.width})
	}
	return out
}

func canonicalKey(ptr *Expression) string {
	return ptr.Simplify(true).String()
}

// provablyDisjoint reports whether the byte ranges starting at a and b,
// widthA and widthB bits long (rounded up to whole bytes), cannot overlap.
// This is only decidable here when a and b share the same base per
// MatchAdditivePointer, or when both are constant addresses.
func provablyDisjoint(a *Expression, widthA uint8, b *Expression, widthB uint8) bool {
	baseA, offA, okA := MatchAdditivePointer(a)
	baseB, offB, okB := MatchAdditivePointer(b)
	if !okA {
		baseA, offA, okA = a, 0, true
	}
	if !okB {
		baseB, offB, okB = b, 0, true
	}
	if a.IsConstant() && b.IsConstant() {
		// Two absolute addresses share the implicit base zero.
		baseA, offA = NewConstant(0, 64), int64(a.Uint64())
		baseB, offB = baseA, int64(b.Uint64())
	}
	if !okA || !okB || !baseA.Equal(baseB) {
		return false
	}
	sizeA := int64((widthA + 7) / 8)
	sizeB := int64((widthB + 7) / 8)
	return offA+sizeA <= offB || offB+sizeB <= offA
}
