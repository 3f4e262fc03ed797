package runtime

import (
	"github.com/sandboxwasm/wasmcore/api"
)

// GrowFailed is the sentinel Table.Grow returns on failure (spec.md §3
// Table: "Grow returns the previous size or a sentinel indicating
// failure").
const GrowFailed uint32 = 0xffffffff

// Table is a grow-able sequence of reference values, typed to funcref or
// externref, bounded by a minimum and optional maximum length.
type Table struct {
	ElemType api.ValueType
	Max      *uint32
	elems    []Val
}

// NewTable allocates a table of min entries, all set to the typed null.
func NewTable(elemType api.ValueType, min uint32, max *uint32) *Table {
	t := &Table{ElemType: elemType, Max: max}
	t.elems = make([]Val, min)
	for i := range t.elems {
		t.elems[i] = typedNull(elemType)
	}
	return t
}

// Size returns the current element count.
func (t *Table) Size() uint32 { return uint32(len(t.elems)) }

// Get returns the value at i, trapping on out-of-bounds.
func (t *Table) Get(i uint32) (Val, error) {
	if i >= t.Size() {
		return 0, api.NewTrap("table index %d out of bounds (size %d)", i, t.Size())
	}
	return t.elems[i], nil
}

// Set stores v at i, trapping on out-of-bounds.
func (t *Table) Set(i uint32, v Val) error {
	if i >= t.Size() {
		return api.NewTrap("table index %d out of bounds (size %d)", i, t.Size())
	}
	t.elems[i] = v
	return nil
}

// Grow appends delta copies of fill and returns the previous size, or
// GrowFailed if the new size would exceed Max or indexMask.
func (t *Table) Grow(delta uint32, fill Val) uint32 {
	old := t.Size()
	newSize := uint64(old) + uint64(delta)
	if t.Max != nil && newSize > uint64(*t.Max) {
		return GrowFailed
	}
	if newSize > indexMask {
		return GrowFailed
	}
	grown := make([]Val, delta)
	for i := range grown {
		grown[i] = fill
	}
	t.elems = append(t.elems, grown...)
	return old
}

// Fill sets count entries starting at i to v, trapping on an out-of-range
// run (including a zero-length run past the end, per the Wasm spec's
// bounds-then-no-op ordering).
func (t *Table) Fill(i, count uint32, v Val) error {
	if _, err := boundedRange(i, count, t.Size()); err != nil {
		return err
	}
	for k := uint32(0); k < count; k++ {
		t.elems[i+k] = v
	}
	return nil
}

// Copy copies count entries from src[srcIdx:] to dst[dstIdx:], permitting
// overlap (spec.md's memory.copy overlap note carried to tables per
// original_source's shared check_bounds treatment).
func Copy(dst, src *Table, dstIdx, srcIdx, count uint32) error {
	if _, err := boundedRange(dstIdx, count, dst.Size()); err != nil {
		return err
	}
	if _, err := boundedRange(srcIdx, count, src.Size()); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	tmp := make([]Val, count)
	copy(tmp, src.elems[srcIdx:srcIdx+count])
	copy(dst.elems[dstIdx:dstIdx+count], tmp)
	return nil
}

// Init copies count entries from an element segment's already-materialised
// values starting at srcIdx into the table at dstIdx.
func (t *Table) Init(dstIdx uint32, seg []Val, srcIdx, count uint32) error {
	if _, err := boundedRange(dstIdx, count, t.Size()); err != nil {
		return err
	}
	if _, err := boundedRange(srcIdx, count, uint32(len(seg))); err != nil {
		return err
	}
	copy(t.elems[dstIdx:dstIdx+count], seg[srcIdx:srcIdx+count])
	return nil
}

// boundedRange validates that [start, start+count) fits within [0, limit).
// A zero-length range still traps if start is past limit: the original's
// check_bounds computes end = start+count and rejects end > limit
// unconditionally, so only start == limit (not start > limit) is a
// non-trapping empty range.
func boundedRange(start, count, limit uint32) (uint32, error) {
	end := uint64(start) + uint64(count)
	if end > uint64(limit) {
		return 0, api.NewTrap("range [%d, %d) out of bounds (limit %d)", start, end, limit)
	}
	return start, nil
}
