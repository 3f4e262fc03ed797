// Package sidetable implements the auxiliary branch-metadata table the
// validator emits (spec.md §3 "Side table", §6 wire format). It is a pure
// data package: construction happens in internal/validator, consumption
// in internal/runtime; this package only owns the in-memory shape and its
// (de)serialization to the custom section `wasefire-sidetable`.
package sidetable

import (
	"encoding/binary"
	"fmt"
)

// CustomSectionName is the name of the custom section the validator emits
// and the `Verify` parser mode expects to find immediately after the
// module header (spec.md §6).
const CustomSectionName = "wasefire-sidetable"

// Entry is one BranchTableEntry: the metadata attached to a single branch
// site (a block end, `br`, `br_if`, each `br_table` target, or `if`/`else`
// stitching).
type Entry struct {
	// DeltaIP is the signed byte offset added to the current instruction
	// pointer when the branch is taken.
	DeltaIP int32
	// DeltaSTP is the signed offset applied to the side-table cursor.
	DeltaSTP int32
	// ValCount is the number of result values the branch preserves on the
	// value stack.
	ValCount uint32
	// PopCount is the number of extra values to drain between the
	// preserved values and the frame's pre-branch stack floor.
	PopCount uint32
}

// invalidEntry is the placeholder the validator allocates for a branch
// source before its target is known. A well-formed table has none left by
// the time validation completes (spec.md §3 invariants).
var invalidEntry = Entry{DeltaIP: 0, DeltaSTP: 0, ValCount: 0, PopCount: 0xffffffff}

// IsInvalid reports whether e is an unpatched placeholder.
func (e Entry) IsInvalid() bool { return e.PopCount == 0xffffffff }

// Table is the full sequence of entries for one module's code section, in
// allocation order: index 0 is the first branch site encountered during a
// left-to-right pass of the code section.
type Table struct {
	Entries []Entry
}

// New returns an empty side table.
func New() *Table { return &Table{} }

// Alloc appends an invalid placeholder and returns its index, for a
// branch source whose target has not yet been reached.
func (t *Table) Alloc() uint32 {
	t.Entries = append(t.Entries, invalidEntry)
	return uint32(len(t.Entries) - 1)
}

// Patch overwrites the entry at idx, turning a placeholder into a real
// entry once its target is known.
func (t *Table) Patch(idx uint32, e Entry) {
	t.Entries[idx] = e
}

// AllPatched reports whether every entry in the table has been patched
// (no residual placeholders), the invariant spec.md §3 requires of a
// well-formed table.
func (t *Table) AllPatched() bool {
	for _, e := range t.Entries {
		if e.IsInvalid() {
			return false
		}
	}
	return true
}

const recordSize = 16 // 4 x int32/uint32, little-endian

// Encode serializes t as a fixed-width 4-byte little-endian uint32 entry
// count (not a LEB128 varint) followed by one 16-byte record per entry:
// DeltaIP, DeltaSTP, ValCount and PopCount, each a little-endian 32-bit
// field.
func Encode(t *Table) []byte {
	out := make([]byte, 4+len(t.Entries)*recordSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(t.Entries)))
	for i, e := range t.Entries {
		off := 4 + i*recordSize
		binary.LittleEndian.PutUint32(out[off:], uint32(e.DeltaIP))
		binary.LittleEndian.PutUint32(out[off+4:], uint32(e.DeltaSTP))
		binary.LittleEndian.PutUint32(out[off+8:], e.ValCount)
		binary.LittleEndian.PutUint32(out[off+12:], e.PopCount)
	}
	return out
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (*Table, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("sidetable: truncated count")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	need := 4 + int(count)*recordSize
	if len(data) < need {
		return nil, fmt.Errorf("sidetable: truncated table: need %d bytes, have %d", need, len(data))
	}
	t := &Table{Entries: make([]Entry, count)}
	for i := range t.Entries {
		off := 4 + i*recordSize
		t.Entries[i] = Entry{
			DeltaIP:  int32(binary.LittleEndian.Uint32(data[off:])),
			DeltaSTP: int32(binary.LittleEndian.Uint32(data[off+4:])),
			ValCount: binary.LittleEndian.Uint32(data[off+8:]),
			PopCount: binary.LittleEndian.Uint32(data[off+12:]),
		}
	}
	return t, nil
}
