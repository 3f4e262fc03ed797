package api

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExternTypeName(t *testing.T) {
	tests := []struct {
		name     string
		input    ExternType
		expected string
	}{
		{"func", ExternTypeFunc, "func"},
		{"table", ExternTypeTable, "table"},
		{"mem", ExternTypeMemory, "memory"},
		{"global", ExternTypeGlobal, "global"},
		{"unknown", 100, "0x64"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ExternTypeName(tc.input))
		})
	}
}

func TestValueTypeName(t *testing.T) {
	tests := []struct {
		name     string
		input    ValueType
		expected string
	}{
		{"i32", ValueTypeI32, "i32"},
		{"i64", ValueTypeI64, "i64"},
		{"f32", ValueTypeF32, "f32"},
		{"f64", ValueTypeF64, "f64"},
		{"v128", ValueTypeV128, "v128"},
		{"funcref", ValueTypeFuncref, "funcref"},
		{"externref", ValueTypeExternref, "externref"},
		{"unknown", 100, "unknown"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ValueTypeName(tc.input))
		})
	}
}

func TestIsReferenceType(t *testing.T) {
	require.True(t, IsReferenceType(ValueTypeFuncref))
	require.True(t, IsReferenceType(ValueTypeExternref))
	require.False(t, IsReferenceType(ValueTypeI32))
}

func TestFuncType_Equal(t *testing.T) {
	a := &FuncType{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	b := &FuncType{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	c := &FuncType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(nil))
	require.Equal(t, "(i32, i32) -> (i32)", a.String())
}

func TestEncodeDecode32(t *testing.T) {
	require.Equal(t, uint64(1), EncodeI32(1))
	require.Equal(t, uint64(0xffffffff), EncodeI32(-1))

	v := float32(1.12345)
	encoded := EncodeF32(v)
	require.Equal(t, uint64(math.Float32bits(v)), encoded)
	require.Equal(t, v, DecodeF32(encoded))
}

func TestEncodeDecode64(t *testing.T) {
	require.Equal(t, uint64(1), EncodeI64(1))

	v := 1.12345
	encoded := EncodeF64(v)
	require.Equal(t, math.Float64bits(v), encoded)
	require.Equal(t, v, DecodeF64(encoded))
}

func TestEncodeDecodeExternref(t *testing.T) {
	v := uintptr(12345)
	encoded := EncodeExternref(v)
	require.Equal(t, uint64(v), encoded)
	require.Equal(t, v, DecodeExternref(encoded))
}
