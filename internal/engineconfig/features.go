// Package engineconfig carries the engine's compile-time-ish feature
// configuration: which optional parts of the Wasm opcode space the
// parser, validator, and interpreter accept. Grounded on the teacher's
// internal/features / internal/buildoptions pattern (REDESIGN FLAGS: "a
// global mutable registry of supported opcodes keyed by feature flags" is
// explicitly called out as something to avoid; this is the plain struct
// threaded by value instead).
package engineconfig

// Features toggles optional parts of the instruction and type space.
// Unset features are rejected by the parser/validator with
// api.ErrUnsupported, not api.ErrInvalid: the module may be valid Wasm,
// just not within what this build was configured to run (spec.md §4.2).
type Features struct {
	// FloatTypes enables f32/f64 value types and their opcodes.
	FloatTypes bool
	// VectorTypes enables v128 parsing (never computed on, spec.md §1 Non-goals).
	VectorTypes bool
	// Threads enables shared memories and atomic opcodes.
	Threads bool
	// BulkMemory enables memory.copy/fill/init, table.copy/init/fill/grow,
	// and passive element/data segments.
	BulkMemory bool
	// MultiValue enables function types and block types with more than one
	// result.
	MultiValue bool
	// ReferenceTypes enables externref, table.get/set, and non-funcref
	// tables.
	ReferenceTypes bool
	// SignExtensionOps enables i32/i64.extendN_s.
	SignExtensionOps bool
	// SaturatingFloatToInt enables the 0xfc trunc_sat family.
	SaturatingFloatToInt bool
}

// Default returns the Wasm MVP (2019-12-05) feature set plus the opcode
// families that later became "phase 2" and ubiquitous in practice
// (sign-extension ops, saturating truncation, bulk memory, reference
// types, multi-value): this matches what the teacher enables by default.
func Default() Features {
	return Features{
		FloatTypes:           true,
		BulkMemory:           true,
		MultiValue:           true,
		ReferenceTypes:       true,
		SignExtensionOps:     true,
		SaturatingFloatToInt: true,
	}
}

// All enables every optional feature, including the ones this engine
// parses but never computes on (vector types) or only partially executes
// (threads: only the opcodes the `threads` feature contributes per
// spec.md §1).
func All() Features {
	f := Default()
	f.VectorTypes = true
	f.Threads = true
	return f
}

// Minimal returns the strict Wasm 1.0 MVP surface with none of the
// phase-2 extensions enabled. Useful for conformance-testing against
// embedders that only implement the MVP.
func Minimal() Features {
	return Features{FloatTypes: true}
}
