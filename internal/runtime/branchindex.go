package runtime

import "github.com/sandboxwasm/wasmcore/internal/validator"

// branchIndex maps a function body's post-decode instruction offsets (the
// byte position immediately after an instruction's own immediates are
// decoded) to the side-table entries allocated for it, in allocation order.
// br_table allocates one entry per target plus the default, all sharing the
// same offset, hence the slice; every other branch-bearing instruction
// (if, else, br, br_if) has exactly one.
//
// This lets Thread resolve a branch by looking at where it already is,
// instead of carrying a side-table cursor register forward through
// execution the way the validator does — validator.Result.SourceOffsets
// records the same offsets in entry-index order, which is the information
// this index is built from.
type branchIndex map[uint32][]uint32

func buildBranchIndex(res *validator.Result, base, limit uint32) branchIndex {
	idx := make(branchIndex)
	for i := base; i < limit; i++ {
		off := res.SourceOffsets[i]
		idx[off] = append(idx[off], i)
	}
	return idx
}
