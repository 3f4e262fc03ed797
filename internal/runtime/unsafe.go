package runtime

import "unsafe"

// uintptrOf returns the address of b as a uintptr, used only to check the
// host-supplied memory backing's alignment (spec.md §3 Memory).
func uintptrOf(b *byte) uintptr { return uintptr(unsafe.Pointer(b)) }
