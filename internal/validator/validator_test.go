package validator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxwasm/wasmcore/internal/binary"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
	"github.com/sandboxwasm/wasmcore/internal/validator"
	"github.com/sandboxwasm/wasmcore/internal/wasmtest"
)

func TestValidate_AddFunction(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32, wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "add", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a, // i32.add
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)
	require.NotNil(t, res.SideTable)
	require.True(t, res.SideTable.AllPatched())
}

func TestValidate_TypeMismatchRejected(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x20, 0x00, // local.get 0 -> i32
			0x43, 0x00, 0x00, 0x00, 0x00, // f32.const 0 -> f32
			0x6a, // i32.add expects two i32
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	_, err = validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.Error(t, err)
}

func TestValidate_StackUnderflowRejected(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x6a, // i32.add with nothing on the stack
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	_, err = validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.Error(t, err)
}

func TestValidate_IfElseBranches(t *testing.T) {
	// (func (param i32) (result i32)
	//   local.get 0
	//   if (result i32)
	//     i32.const 1
	//   else
	//     i32.const 2
	//   end)
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x20, 0x00, // local.get 0
			0x04, 0x7f, // if (result i32)
			0x41, 0x01, // i32.const 1
			0x05, // else
			0x41, 0x02, // i32.const 2
			0x0b, // end (if)
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)
	require.True(t, res.SideTable.AllPatched())
	// One entry for the if's conditional-false jump into the else branch,
	// one for the then-branch's fallthrough skip over the else branch.
	require.Len(t, res.SideTable.Entries, 2)
}

func TestValidate_BrTableWithinLoop(t *testing.T) {
	// (func (param i32)
	//   block
	//     loop
	//       local.get 0
	//       br_table 0 1
	//     end
	//   end)
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x02, 0x40, // block
			0x03, 0x40, // loop
			0x20, 0x00, // local.get 0
			0x0e, 0x01, 0x00, 0x01, // br_table [0] 1
			0x0b, // end (loop)
			0x0b, // end (block)
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)
	require.True(t, res.SideTable.AllPatched())
	require.Len(t, res.SideTable.Entries, 2)
}

func TestValidate_BranchDepthOutOfRangeRejected(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x0c, 0x05, // br 5, no enclosing labels
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	_, err = validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.Error(t, err)
}

func TestValidate_PrepareThenVerifyRoundTrip(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x02, 0x7f, // block (result i32)
			0x20, 0x00,
			0x0c, 0x00, // br 0
			0x0b, // end
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)

	encoded := sidetable.Encode(res.SideTable)

	b2 := wasmtest.New().
		CustomSection(sidetable.CustomSectionName, encoded).
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x02, 0x7f,
			0x20, 0x00,
			0x0c, 0x00,
			0x0b,
		}})
	m2, err := binary.DecodeModule(b2.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	require.NotNil(t, m2.SideTable)

	res2, err := validator.Validate(m2, engineconfig.Default(), validator.Verify)
	require.NoError(t, err)
	require.Equal(t, res.SideTable.Entries, res2.SideTable.Entries)
}

func TestValidate_DuplicateMemoryImportAndSectionRejected(t *testing.T) {
	b := wasmtest.New().
		Imports(wasmtest.Import{Module: "env", Name: "mem", Kind: 2, MemMin: 1}).
		Memory(1, nil)

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	_, err = validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.Error(t, err)
}

func TestValidate_GlobalConstExprBadMutabilityRejected(t *testing.T) {
	b := wasmtest.New().
		Imports(wasmtest.Import{Module: "env", Name: "g", Kind: 3, GlobalType: wasmtest.ValI32, GlobalMut: true}).
		Globals(wasmtest.GlobalDef{ValType: wasmtest.ValI32, Init: wasmtest.ConstExprGlobalGet(0)})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)

	_, err = validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.Error(t, err)
}
