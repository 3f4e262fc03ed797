// Package api includes constants and interfaces used by both end-users and
// the internal engine. It is free of any parsing, validation, or
// interpretation logic so that host code can depend on it without pulling
// in the rest of the engine.
package api

import (
	"fmt"
	"math"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the Text Format field name of the given extern type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a numeric or reference type used by the WebAssembly
// binary format.
//
// Note: this is a type alias (not a distinct type) to keep encoding and
// decoding symmetric with the raw byte seen on the wire.
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the Text Format name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// IsReferenceType reports whether t is funcref or externref.
func IsReferenceType(t ValueType) bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref
}

// FuncType is a pair of value-type sequences: the parameters a function
// consumes and the results it produces.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

func (t *FuncType) String() string {
	return fmt.Sprintf("(%s) -> (%s)", namesOf(t.Params), namesOf(t.Results))
}

// Equal reports whether t and o describe the same parameter/result shape.
func (t *FuncType) Equal(o *FuncType) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i, p := range t.Params {
		if o.Params[i] != p {
			return false
		}
	}
	for i, r := range t.Results {
		if o.Results[i] != r {
			return false
		}
	}
	return true
}

func namesOf(ts []ValueType) string {
	s := ""
	for i, t := range ts {
		if i > 0 {
			s += ", "
		}
		s += ValueTypeName(t)
	}
	return s
}

// Encode/Decode helpers translate between Go numeric types and the raw
// uint64 lanes the interpreter keeps on its value stack.

// EncodeI32 encodes input as a ValueTypeI32 lane.
func EncodeI32(input int32) uint64 { return uint64(uint32(input)) }

// EncodeI64 encodes input as a ValueTypeI64 lane.
func EncodeI64(input int64) uint64 { return uint64(input) }

// EncodeF32 encodes input as a ValueTypeF32 lane.
func EncodeF32(input float32) uint64 { return uint64(math.Float32bits(input)) }

// DecodeF32 decodes a ValueTypeF32 lane.
func DecodeF32(input uint64) float32 { return math.Float32frombits(uint32(input)) }

// EncodeF64 encodes input as a ValueTypeF64 lane.
func EncodeF64(input float64) uint64 { return math.Float64bits(input) }

// DecodeF64 decodes a ValueTypeF64 lane.
func DecodeF64(input uint64) float64 { return math.Float64frombits(input) }

// EncodeExternref encodes input as a ValueTypeExternref lane.
func EncodeExternref(input uintptr) uint64 { return uint64(input) }

// DecodeExternref decodes a ValueTypeExternref lane.
func DecodeExternref(input uint64) uintptr { return uintptr(input) }
