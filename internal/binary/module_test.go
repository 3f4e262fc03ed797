package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
	"github.com/sandboxwasm/wasmcore/internal/wasmtest"
)

func addModuleBytes() []byte {
	return wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32, wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "add", Kind: 0x00, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a, // i32.add
		}}).
		Bytes()
}

func TestDecodeModule_Add(t *testing.T) {
	m, err := DecodeModule(addModuleBytes(), engineconfig.Default())
	require.NoError(t, err)
	require.Len(t, m.Types, 1)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, m.Types[0].Params)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeI32}, m.Types[0].Results)
	require.Len(t, m.Code, 1)
	require.Equal(t, "add", m.Exports[0].Name)
}

func TestDecodeModule_BadMagic(t *testing.T) {
	b := addModuleBytes()
	b[0] = 'X'
	_, err := DecodeModule(b, engineconfig.Default())
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestDecodeModule_SectionOutOfOrder(t *testing.T) {
	m := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Exports(wasmtest.ExportDef{Name: "x", Kind: 0, Index: 0}).
		Functions(0).
		Bytes()
	_, err := DecodeModule(m, engineconfig.Default())
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestDecodeModule_DuplicateSectionRejected(t *testing.T) {
	m := wasmtest.New().
		Memory(1, nil).
		Memory(2, nil).
		Bytes()
	_, err := DecodeModule(m, engineconfig.Default())
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestDecodeModule_FloatsUnsupportedWhenDisabled(t *testing.T) {
	m := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValF32}, Results: []byte{wasmtest.ValF32}}).
		Bytes()
	_, err := DecodeModule(m, engineconfig.Minimal())
	require.NoError(t, err) // Minimal() still enables FloatTypes

	disabled := engineconfig.Features{}
	_, err = DecodeModule(m, disabled)
	require.Error(t, err)
	require.True(t, IsUnsupported(err))
}

func TestLimitsRejectsMaxBelowMin(t *testing.T) {
	max := uint32(2)
	m := wasmtest.New().Memory(4, &max).Bytes()
	_, err := DecodeModule(m, engineconfig.Default())
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestDecodeModule_TableAndElement(t *testing.T) {
	m := wasmtest.New().
		Types(wasmtest.FuncSig{}).
		Functions(0, 0).
		Table(wasmtest.ValFuncref, 2, nil).
		Exports(wasmtest.ExportDef{Name: "t", Kind: 0x01, Index: 0}).
		ElementActiveFuncs(wasmtest.ConstExprI32(0), 0, 1).
		Code(
			wasmtest.CodeFunc{Body: []byte{0x01}},
			wasmtest.CodeFunc{Body: []byte{0x01}},
		).
		Bytes()
	mod, err := DecodeModule(m, engineconfig.Default())
	require.NoError(t, err)
	require.Len(t, mod.Tables, 1)
	require.Len(t, mod.Elements, 1)
}

func TestDecodeModule_GlobalConstExpr(t *testing.T) {
	m := wasmtest.New().
		Globals(wasmtest.GlobalDef{ValType: wasmtest.ValI32, Mutable: true, Init: wasmtest.ConstExprI32(42)}).
		Bytes()
	mod, err := DecodeModule(m, engineconfig.Default())
	require.NoError(t, err)
	require.Len(t, mod.Globals, 1)
}

func TestDecodeModule_DataSegment(t *testing.T) {
	m := wasmtest.New().
		Memory(1, nil).
		Data(wasmtest.ConstExprI32(0), []byte("hi")).
		Bytes()
	mod, err := DecodeModule(m, engineconfig.Default())
	require.NoError(t, err)
	require.Len(t, mod.Datas, 1)
}
