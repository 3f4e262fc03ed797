package runtime

import "github.com/sandboxwasm/wasmcore/api"

// PageSize is the Wasm linear memory page size (spec.md §3 Memory).
const PageSize = 65536

// memoryAlignment is the minimum alignment the host-supplied backing slice
// must satisfy (spec.md §3 Memory: "an alignment constraint (16 bytes)").
const memoryAlignment = 16

// Memory wraps a host-supplied mutable byte slice; the engine never
// allocates or reallocates it. Size tracks the current page count
// separately from len(backing), since Grow only adjusts Size — the
// addressable length is min(len(backing), Size*PageSize).
type Memory struct {
	backing []byte
	Size    uint32
	Max     *uint32
}

// NewMemory validates alignment and clamps backing to the module's
// declared bounds, zeroing it (spec.md §4.3 instantiate: "clamping the
// byte slice to min(max_pages*65536, slice_len) and zeroing it").
func NewMemory(backing []byte, min uint32, max *uint32) (*Memory, error) {
	if len(backing) == 0 || uintptrAlignment(backing)%memoryAlignment != 0 {
		return nil, api.NewTrap("memory backing is not %d-byte aligned", memoryAlignment)
	}
	ceiling := uint64(len(backing))
	if max != nil && uint64(*max)*PageSize < ceiling {
		ceiling = uint64(*max) * PageSize
	}
	b := backing[:ceiling]
	for i := range b {
		b[i] = 0
	}
	return &Memory{backing: b, Size: min, Max: max}, nil
}

// Bytes returns the addressable portion of the backing slice.
func (m *Memory) Bytes() []byte {
	n := uint64(m.Size) * PageSize
	if n > uint64(len(m.backing)) {
		n = uint64(len(m.backing))
	}
	return m.backing[:n]
}

// Grow adds delta pages, returning the previous size or GrowFailed.
func (m *Memory) Grow(delta uint32) uint32 {
	old := m.Size
	newSize := uint64(old) + uint64(delta)
	if m.Max != nil && newSize > uint64(*m.Max) {
		return GrowFailed
	}
	if newSize*PageSize > uint64(len(m.backing)) {
		return GrowFailed
	}
	m.Size = uint32(newSize)
	return old
}

// effectiveAddress computes i + offset over 32-bit checked arithmetic,
// trapping on overflow or on an access exceeding the addressable length
// (spec.md §4.4 Memory: "checked arithmetic over 32-bit... out-of-range
// (including ea + size/8 > mem.len()) traps").
func (m *Memory) effectiveAddress(i, offset uint32, size int) (uint64, error) {
	ea := uint64(i) + uint64(offset)
	if ea+uint64(size) > uint64(len(m.Bytes())) {
		return 0, api.NewTrap("out of bounds memory access")
	}
	return ea, nil
}

// Fill writes count copies of b starting at dst, sharing Table.Fill's
// bounds-then-no-op-on-empty-range treatment.
func (m *Memory) Fill(dst, count uint32, b byte) error {
	bs := m.Bytes()
	if _, err := boundedRange(dst, count, uint32(len(bs))); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		bs[dst+i] = b
	}
	return nil
}

// CopyMem copies count bytes from src to dst within the same memory,
// tolerating overlap (spec.md memory.copy).
func CopyMem(dst, src *Memory, dstIdx, srcIdx, count uint32) error {
	dbs, sbs := dst.Bytes(), src.Bytes()
	if _, err := boundedRange(dstIdx, count, uint32(len(dbs))); err != nil {
		return err
	}
	if _, err := boundedRange(srcIdx, count, uint32(len(sbs))); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	tmp := make([]byte, count)
	copy(tmp, sbs[srcIdx:srcIdx+count])
	copy(dbs[dstIdx:dstIdx+count], tmp)
	return nil
}

// Init copies count bytes from a data segment's bytes starting at srcIdx
// into the memory at dstIdx.
func (m *Memory) Init(dstIdx uint32, seg []byte, srcIdx, count uint32) error {
	bs := m.Bytes()
	if _, err := boundedRange(dstIdx, count, uint32(len(bs))); err != nil {
		return err
	}
	if _, err := boundedRange(srcIdx, count, uint32(len(seg))); err != nil {
		return err
	}
	copy(bs[dstIdx:dstIdx+count], seg[srcIdx:srcIdx+count])
	return nil
}

func uintptrAlignment(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptrOf(&b[0])
}
