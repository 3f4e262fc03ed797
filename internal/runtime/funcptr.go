package runtime

import "github.com/sandboxwasm/wasmcore/api"

// indexBits is the width given to the index portion of a packed function
// pointer (spec.md §3 "Function pointer"): the remaining bits of a uint32
// encode the side, so a module may declare at most 1<<indexBits functions
// per side before instantiation is rejected.
const indexBits = 20
const indexMask = 1<<indexBits - 1

// FuncPtr is the packed (side, index) function pointer: bits [0,indexBits)
// hold the index, the remaining high bits hold the side (0 = Host, k+1 =
// Wasm instance k).
type FuncPtr uint32

// HostFuncPtr builds a function pointer into the store's host function
// table.
func HostFuncPtr(index uint32) (FuncPtr, error) {
	if index > indexMask {
		return 0, api.NewTrap("host function index %d overflows %d-bit packed pointer", index, indexBits)
	}
	return FuncPtr(index), nil
}

// WasmFuncPtr builds a function pointer into instance instID's function
// table.
func WasmFuncPtr(instID InstID, index uint32) (FuncPtr, error) {
	if index > indexMask {
		return 0, api.NewTrap("function index %d overflows %d-bit packed pointer", index, indexBits)
	}
	side := uint64(instID) + 1
	if side > (1<<(32-indexBits))-1 {
		return 0, api.NewTrap("instance id %d overflows packed pointer side width", instID)
	}
	return FuncPtr(uint32(side)<<indexBits | index), nil
}

// IsHost reports whether p points at a host function.
func (p FuncPtr) IsHost() bool { return uint32(p)>>indexBits == 0 }

// Index returns the index component of p.
func (p FuncPtr) Index() uint32 { return uint32(p) & indexMask }

// WasmInstID returns the instance this pointer targets, valid only when
// !IsHost().
func (p FuncPtr) WasmInstID() InstID { return InstID(uint32(p)>>indexBits - 1) }
