package runtime_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/binary"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/runtime"
	"github.com/sandboxwasm/wasmcore/internal/validator"
	"github.com/sandboxwasm/wasmcore/internal/wasmtest"
)

func TestInstantiate_UnresolvedImportIsNotFound(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{}).
		Imports(wasmtest.Import{Module: "env", Name: "missing", Kind: 0, FuncType: 0})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)

	s := runtime.NewStore()
	_, err = s.Instantiate(m, nil, engineconfig.Default(), res)
	require.ErrorIs(t, err, api.ErrNotFound)
}

// link_func_default materialises a single-i32-result import lazily and
// deduplicates by exact signature across multiple unresolved imports.
func TestLinkFuncDefault_DedupesBySignature(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Imports(
			wasmtest.Import{Module: "env", Name: "a", Kind: 0, FuncType: 0},
			wasmtest.Import{Module: "env", Name: "b", Kind: 0, FuncType: 0},
		).
		Functions(0, 0).
		Exports(wasmtest.ExportDef{Name: "callA", Kind: 0, Index: 2}, wasmtest.ExportDef{Name: "callB", Kind: 0, Index: 3}).
		Code(
			wasmtest.CodeFunc{Body: []byte{0x10, 0x00}}, // callA: call 0 (imported env.a)
			wasmtest.CodeFunc{Body: []byte{0x10, 0x01}}, // callB: call 1 (imported env.b)
		)

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)

	s := runtime.NewStore()
	s.LinkFuncDefault("env")
	id, err := s.Instantiate(m, nil, engineconfig.Default(), res)
	require.NoError(t, err)

	resA, err := s.Invoke(id, "callA", nil)
	require.NoError(t, err)
	require.False(t, resA.Done)
	resB, err := s.Invoke(id, "callB", nil)
	require.NoError(t, err)
	require.False(t, resB.Done)

	require.Equal(t, resA.Call.Index(), resB.Call.Index(), "same signature must dedupe to one default host index")
}

func TestInvoke_DivideByZeroTraps(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "f", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x41, 0x01, // i32.const 1
			0x41, 0x00, // i32.const 0
			0x6d, // i32.div_s
		}})

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)

	s := runtime.NewStore()
	id, err := s.Instantiate(m, nil, engineconfig.Default(), res)
	require.NoError(t, err)

	_, err = s.Invoke(id, "f", nil)
	require.Error(t, err)
	var trap *api.Trap
	require.ErrorAs(t, err, &trap)
}
