// Package wasmtest builds minimal, hand-assembled Wasm binaries for use in
// tests across internal/binary, internal/validator, and internal/runtime.
// It is intentionally low-level (little more than LEB128 + section
// framing) so that what a test asserts about parsing/validation/execution
// isn't laundered through a second copy of the engine's own encoder.
package wasmtest

import (
	"github.com/sandboxwasm/wasmcore/internal/leb128"
)

// Module accumulates sections in the order they must appear on the wire.
type Module struct {
	sections [][]byte
}

func New() *Module { return &Module{} }

func u32(v uint32) []byte { return leb128.EncodeUint32(v) }
func s32(v int32) []byte  { return leb128.EncodeInt32(v) }
func s64(v int64) []byte  { return leb128.EncodeInt64(v) }

func vec(items ...[]byte) []byte {
	out := u32(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(u32(uint32(len(s))), []byte(s)...)
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, u32(uint32(len(body)))...)
	out = append(out, body...)
	return out
}

// Bytes assembles the full module: header then every added section, plus
// any custom sections queued via CustomSection (always emitted first, to
// support Verify-mode side-table placement).
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range m.sections {
		out = append(out, s...)
	}
	return out
}

// CustomSection prepends a custom section (e.g. the side table) right
// after the header.
func (m *Module) CustomSection(sectionName string, data []byte) *Module {
	body := append(name(sectionName), data...)
	m.sections = append([][]byte{section(0, body)}, m.sections...)
	return m
}

const (
	valI32       = 0x7f
	valI64       = 0x7e
	valF32       = 0x7d
	valF64       = 0x7c
	valFuncref   = 0x70
	valExternref = 0x6f
)

// FuncSig is a parameter/result shape for the Type section.
type FuncSig struct {
	Params, Results []byte
}

// Types adds the type section.
func (m *Module) Types(sigs ...FuncSig) *Module {
	items := make([][]byte, len(sigs))
	for i, s := range sigs {
		body := []byte{0x60}
		body = append(body, vec(byteItems(s.Params)...)...)
		body = append(body, vec(byteItems(s.Results)...)...)
		items[i] = body
	}
	m.sections = append(m.sections, section(1, vec(items...)))
	return m
}

func byteItems(bs []byte) [][]byte {
	out := make([][]byte, len(bs))
	for i, b := range bs {
		out[i] = []byte{b}
	}
	return out
}

// Import is one entry for the Import section.
type Import struct {
	Module, Name string
	Kind         byte // 0=func,1=table,2=mem,3=global
	FuncType     uint32
	TableElem    byte
	TableMin     uint32
	TableMax     *uint32
	MemMin       uint32
	MemMax       *uint32
	GlobalType   byte
	GlobalMut    bool
}

func limitsBytes(min uint32, max *uint32) []byte {
	if max == nil {
		return append([]byte{0x00}, u32(min)...)
	}
	out := append([]byte{0x01}, u32(min)...)
	return append(out, u32(*max)...)
}

// Imports adds the import section.
func (m *Module) Imports(imports ...Import) *Module {
	items := make([][]byte, len(imports))
	for i, im := range imports {
		b := append(name(im.Module), name(im.Name)...)
		b = append(b, im.Kind)
		switch im.Kind {
		case 0:
			b = append(b, u32(im.FuncType)...)
		case 1:
			b = append(b, im.TableElem)
			b = append(b, limitsBytes(im.TableMin, im.TableMax)...)
		case 2:
			b = append(b, limitsBytes(im.MemMin, im.MemMax)...)
		case 3:
			b = append(b, im.GlobalType)
			mut := byte(0)
			if im.GlobalMut {
				mut = 1
			}
			b = append(b, mut)
		}
		items[i] = b
	}
	m.sections = append(m.sections, section(2, vec(items...)))
	return m
}

// Functions adds the function section: one type index per defined function.
func (m *Module) Functions(typeIndices ...uint32) *Module {
	items := make([][]byte, len(typeIndices))
	for i, t := range typeIndices {
		items[i] = u32(t)
	}
	m.sections = append(m.sections, section(3, vec(items...)))
	return m
}

// Table adds a single-entry table section.
func (m *Module) Table(elemType byte, min uint32, max *uint32) *Module {
	body := append([]byte{elemType}, limitsBytes(min, max)...)
	m.sections = append(m.sections, section(4, vec(body)))
	return m
}

// Memory adds a single-entry memory section.
func (m *Module) Memory(min uint32, max *uint32) *Module {
	m.sections = append(m.sections, section(5, vec(limitsBytes(min, max))))
	return m
}

// ConstExprI32 builds a constant expression body for `i32.const v` `end`.
func ConstExprI32(v int32) []byte {
	return append(append([]byte{0x41}, s32(v)...), 0x0b)
}

// ConstExprGlobalGet builds `global.get idx` `end`.
func ConstExprGlobalGet(idx uint32) []byte {
	return append(append([]byte{0x23}, u32(idx)...), 0x0b)
}

// ConstExprRefNull builds `ref.null t` `end`.
func ConstExprRefNull(t byte) []byte {
	return []byte{0xd0, t, 0x0b}
}

// GlobalDef is one Global-section entry.
type GlobalDef struct {
	ValType byte
	Mutable bool
	Init    []byte // a full const-expr body, see ConstExprI32
}

// Globals adds the global section.
func (m *Module) Globals(globals ...GlobalDef) *Module {
	items := make([][]byte, len(globals))
	for i, g := range globals {
		mut := byte(0)
		if g.Mutable {
			mut = 1
		}
		items[i] = append([]byte{g.ValType, mut}, g.Init...)
	}
	m.sections = append(m.sections, section(6, vec(items...)))
	return m
}

// ExportDef is one Export-section entry.
type ExportDef struct {
	Name  string
	Kind  byte
	Index uint32
}

// Exports adds the export section.
func (m *Module) Exports(exports ...ExportDef) *Module {
	items := make([][]byte, len(exports))
	for i, e := range exports {
		items[i] = append(append(name(e.Name), e.Kind), u32(e.Index)...)
	}
	m.sections = append(m.sections, section(7, vec(items...)))
	return m
}

// Start adds the start section.
func (m *Module) Start(funcIdx uint32) *Module {
	m.sections = append(m.sections, section(8, u32(funcIdx)))
	return m
}

// ElementActiveFuncs adds an active (flags=0) element segment of function
// indices targeting table 0.
func (m *Module) ElementActiveFuncs(offset []byte, funcIdxs ...uint32) *Module {
	body := append(u32(0), offset...)
	items := make([][]byte, len(funcIdxs))
	for i, f := range funcIdxs {
		items[i] = u32(f)
	}
	body = append(body, vec(items...)...)
	m.sections = append(m.sections, section(9, vec(body)))
	return m
}

// CodeFunc is one Code-section entry: raw instruction bytes (no locals
// beyond those declared here).
type CodeFunc struct {
	Locals []byte // repeated (count u32, type byte) pairs, already encoded
	Body   []byte // instructions, NOT including the trailing end
}

// Code adds the code section. f.Locals must already be a complete encoded
// locals vector, i.e. the output of Locals(...) (or nil for none).
func (m *Module) Code(funcs ...CodeFunc) *Module {
	items := make([][]byte, len(funcs))
	for i, f := range funcs {
		locals := f.Locals
		if locals == nil {
			locals = u32(0)
		}
		body := append(append([]byte{}, locals...), f.Body...)
		body = append(body, 0x0b)
		items[i] = append(u32(uint32(len(body))), body...)
	}
	m.sections = append(m.sections, section(10, vec(items...)))
	return m
}

// LocalEntry is one (count, type) pair of a function's locals vector.
type LocalEntry struct {
	Count uint32
	Type  byte
}

// Locals encodes a full locals vector (count-prefixed) ready to embed as
// CodeFunc.Locals.
func Locals(entries ...LocalEntry) []byte {
	items := make([][]byte, len(entries))
	for i, e := range entries {
		items[i] = append(u32(e.Count), e.Type)
	}
	return vec(items...)
}

// Data adds the data section.
func (m *Module) Data(offset []byte, init []byte) *Module {
	body := append(u32(0), offset...)
	body = append(body, u32(uint32(len(init)))...)
	body = append(body, init...)
	m.sections = append(m.sections, section(11, vec(body)))
	return m
}

const (
	ValI32       byte = valI32
	ValI64       byte = valI64
	ValF32       byte = valF32
	ValF64       byte = valF64
	ValFuncref   byte = valFuncref
	ValExternref byte = valExternref
)
