// Package wasm holds the pure syntax model for the WebAssembly binary
// format: value types, function types, limits, instructions and the
// decoded (but not yet validated) module shape. It has no parsing or
// execution behavior of its own; internal/binary decodes into these types,
// internal/validator checks them, and internal/runtime executes them.
package wasm

import "github.com/sandboxwasm/wasmcore/api"

// Re-exported for convenience so callers of this package rarely need to
// import api directly for the vocabulary.
type (
	ValueType = api.ValueType
	ExternType = api.ExternType
	FuncType  = api.FuncType
)

const (
	ValueTypeI32       = api.ValueTypeI32
	ValueTypeI64       = api.ValueTypeI64
	ValueTypeF32       = api.ValueTypeF32
	ValueTypeF64       = api.ValueTypeF64
	ValueTypeV128      = api.ValueTypeV128
	ValueTypeFuncref   = api.ValueTypeFuncref
	ValueTypeExternref = api.ValueTypeExternref
)

// ValueTypeName re-exports api.ValueTypeName so validator/runtime code that
// otherwise never needs api directly can format types without the extra
// import.
func ValueTypeName(t ValueType) string { return api.ValueTypeName(t) }

// IsReferenceType re-exports api.IsReferenceType.
func IsReferenceType(t ValueType) bool { return api.IsReferenceType(t) }

// Limits bound a table or memory's size, in table elements or 64KiB pages
// respectively. Max is nil when absent.
type Limits struct {
	Min uint32
	Max *uint32
}

// TableType describes a table import/definition.
type TableType struct {
	ElemType api.ValueType // ValueTypeFuncref or ValueTypeExternref
	Limits   Limits
}

// MemoryType describes a memory import/definition. Wasm 1.0 permits at
// most one memory per module (spec.md §3 Memory: "exactly one logical
// slot").
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global import/definition.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// BlockType is the signature of a structured control instruction
// (block/loop/if). It is encoded on the wire as a signed 33-bit LEB128:
// negative single-result shorthands, or a non-negative index into the
// type section.
type BlockType struct {
	// Raw is the raw decoded value: -0x40 for the empty type, -0x01..-0x04,
	// -0x10 or -0x11 for the single-value shorthands (mapped to one of the
	// ValueType consts), or >=0 for a type-section index.
	Raw int64
}

const blockTypeEmpty = -0x40

// EmptyBlockType is the `() -> ()` shorthand.
var EmptyBlockType = BlockType{Raw: blockTypeEmpty}

// IsValueShorthand reports whether b denotes `() -> (t)` for a single
// value type t, returning that type.
func (b BlockType) IsValueShorthand() (ValueType, bool) {
	// The single-result shorthands re-use the negated value-type byte,
	// sign-extended from a 7-bit encoding; compare directly against the
	// known value type bytes cast to int64 and negated via two's
	// complement over 7 bits (i.e. Raw == int64(vt)-0x80 for vt in
	// {i32,i64,f32,f64,funcref,externref}).
	for _, vt := range []ValueType{ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64, ValueTypeFuncref, ValueTypeExternref} {
		if b.Raw == int64(vt)-0x80 {
			return vt, true
		}
	}
	return 0, false
}

// IsEmpty reports whether b denotes `() -> ()`.
func (b BlockType) IsEmpty() bool { return b.Raw == blockTypeEmpty }

// TypeIndex returns the type-section index this block type refers to, if
// it is not one of the shorthands.
func (b BlockType) TypeIndex() (uint32, bool) {
	if b.Raw >= 0 {
		return uint32(b.Raw), true
	}
	return 0, false
}

// Import describes one entry of the import section.
type Import struct {
	Module, Name string
	Type         api.ExternType
	// Exactly one of the following is meaningful, selected by Type.
	FuncTypeIndex uint32
	Table         TableType
	Memory        MemoryType
	Global        GlobalType
}

// Export describes one entry of the export section.
type Export struct {
	Name  string
	Type  api.ExternType
	Index uint32
}

// ConstExpr is a constant expression: exactly one instruction restricted to
// *.const, ref.null, ref.func, or global.get of an imported immutable
// global (spec.md §4.2), followed by `end`. The parser decodes that single
// instruction eagerly (rather than keeping a byte offset to re-parse
// later) since const expressions never need more than the one immediate
// already on Instr.
type ConstExpr struct {
	Instr Instr
}

// ElementMode classifies an element segment.
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is one entry of the element section.
type ElementSegment struct {
	Mode       ElementMode
	TableIndex uint32 // meaningful when Mode == ElementModeActive
	Offset     ConstExpr
	Type       ValueType
	// Init is either a list of function indices (common case for
	// `ref.func` elements) or a list of constant expressions.
	Init     []uint32
	InitExpr []ConstExpr
	IsFuncIndices bool
}

// DataMode classifies a data segment.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is one entry of the data section.
type DataSegment struct {
	Mode   DataMode
	Offset ConstExpr
	Init   []byte
}

// Code is one entry of the code section: a function body.
type Code struct {
	LocalTypes []ValueType // expanded per-local types, params excluded
	Body       []byte      // raw instruction bytes, from right after locals to the matching `end`
	BodyOffset uint32      // absolute byte offset of Body[0] within the module
}

// CustomSection is a named, otherwise-opaque section.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the raw, decoded-but-not-yet-validated shape of a Wasm binary:
// every section as parsed, indices unchecked. internal/validator consumes
// this and produces a side table; internal/runtime consumes a validated
// Module.
type Module struct {
	Types    []FuncType
	Imports  []Import
	// FuncTypeIndices has one entry per function declared in the Function
	// section (not counting imported functions), each indexing Types.
	FuncTypeIndices []uint32
	Tables   []TableType
	Memories []MemoryType
	Globals  []GlobalEntry
	Exports  []Export
	// StartFuncIndex is the index of the start function in the combined
	// (imports-then-defined) function index space, or nil if absent.
	StartFuncIndex *uint32
	Elements       []ElementSegment
	DataCount      *uint32
	Code           []Code
	Datas          []DataSegment
	Customs        []CustomSection

	// SideTable is populated once the validator has run in Prepare or
	// Verify mode. nil until then.
	SideTable any // *sidetable.Table; any to avoid an import cycle

	raw []byte
}

// GlobalEntry is one entry of the global section: a type plus its
// initializer constant expression.
type GlobalEntry struct {
	Type GlobalType
	Init ConstExpr
}

// Raw returns the exact bytes this module was decoded from.
func (m *Module) Raw() []byte { return m.raw }

// SetRaw records the exact bytes this module was decoded from. Called once
// by the parser immediately after a successful decode.
func (m *Module) SetRaw(b []byte) { m.raw = b }

// NumFuncs returns the combined (imported + defined) function count.
func (m *Module) NumFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Type == api.ExternTypeFunc {
			n++
		}
	}
	return n + len(m.FuncTypeIndices)
}

// FuncTypeIndex resolves the type index of the function at the given
// combined index (imports first, then module-defined functions).
func (m *Module) FuncTypeIndex(funcIdx uint32) (uint32, bool) {
	i := uint32(0)
	for _, imp := range m.Imports {
		if imp.Type != api.ExternTypeFunc {
			continue
		}
		if i == funcIdx {
			return imp.FuncTypeIndex, true
		}
		i++
	}
	defIdx := funcIdx - i
	if int(defIdx) >= len(m.FuncTypeIndices) {
		return 0, false
	}
	return m.FuncTypeIndices[defIdx], true
}

// ImportCount returns the number of imports of the given extern type.
func (m *Module) ImportCount(t api.ExternType) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Type == t {
			n++
		}
	}
	return n
}
