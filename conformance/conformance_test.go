// Package conformance cross-checks three literal end-to-end scenarios (an
// exported add, a little-endian memory load, and a successful
// call_indirect) against an independent embedder (github.com/
// bytecodealliance/wasmtime-go/v3): the same module bytes, run through
// wasmcore and through wasmtime, must observably agree. Side-table round
// trips and host calls are not exercised here.
// Grounded on the teacher's vs/wasmtime comparator packages (SPEC_FULL.md
// §D); open-policy-agent/opa's independent use of the same library
// corroborates it as a legitimate embedding-conformance dependency rather
// than a teacher-only oddity.
package conformance

import (
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v3"
	"github.com/stretchr/testify/require"

	"github.com/sandboxwasm/wasmcore"
	"github.com/sandboxwasm/wasmcore/internal/wasmtest"
)

// spec.md §8 scenario 1.
func TestAdd_AgreesWithWasmtime(t *testing.T) {
	data := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32, wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "add", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a, // i32.add
		}}).
		Bytes()

	// wasmcore side.
	m, err := wasmcore.Prepare(data, wasmcore.DefaultFeatures())
	require.NoError(t, err)
	s := wasmcore.NewStore()
	id, err := s.Instantiate(m, nil)
	require.NoError(t, err)
	res, err := s.Invoke(id, "add", []wasmcore.Val{40, 2})
	require.NoError(t, err)
	require.True(t, res.Done)

	// wasmtime side.
	engine := wasmtime.NewEngine()
	wm, err := wasmtime.NewModule(engine, data)
	require.NoError(t, err)
	wstore := wasmtime.NewStore(engine)
	winst, err := wasmtime.NewInstance(wstore, wm, nil)
	require.NoError(t, err)
	wf := winst.GetFunc(wstore, "add")
	require.NotNil(t, wf)
	wresult, err := wf.Call(wstore, int32(40), int32(2))
	require.NoError(t, err)

	require.Equal(t, int32(42), int32(res.Values[0]))
	require.Equal(t, int32(42), wresult.(int32))
}

// spec.md §8 scenario 3.
func TestMemoryLoad_AgreesWithWasmtime(t *testing.T) {
	data := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Memory(1, nil).
		Exports(wasmtest.ExportDef{Name: "read", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x41, 0x00, // i32.const 0
			0x28, 0x02, 0x00, // i32.load align=2 offset=0
		}}).
		Data(wasmtest.ConstExprI32(0), []byte{0x01, 0x02, 0x03, 0x04}).
		Bytes()

	m, err := wasmcore.Prepare(data, wasmcore.DefaultFeatures())
	require.NoError(t, err)
	s := wasmcore.NewStore()
	id, err := s.Instantiate(m, make([]byte, 65536))
	require.NoError(t, err)
	res, err := s.Invoke(id, "read", nil)
	require.NoError(t, err)
	require.True(t, res.Done)

	engine := wasmtime.NewEngine()
	wm, err := wasmtime.NewModule(engine, data)
	require.NoError(t, err)
	wstore := wasmtime.NewStore(engine)
	winst, err := wasmtime.NewInstance(wstore, wm, nil)
	require.NoError(t, err)
	wf := winst.GetFunc(wstore, "read")
	require.NotNil(t, wf)
	wresult, err := wf.Call(wstore)
	require.NoError(t, err)

	require.Equal(t, uint32(0x04030201), uint32(int32(res.Values[0])))
	require.Equal(t, int32(0x04030201), wresult.(int32))
}

// spec.md §8 scenario 4, minus the OOB/null-trap arms (wasmtime's own trap
// reporting is exercised separately by its own test suite; this only
// confirms the success path agrees).
func TestCallIndirect_AgreesWithWasmtime(t *testing.T) {
	data := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}, wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0, 1).
		Table(wasmtest.ValFuncref, 2, nil).
		Exports(wasmtest.ExportDef{Name: "call_at", Kind: 0, Index: 1}).
		ElementActiveFuncs(wasmtest.ConstExprI32(0), 0).
		Code(
			wasmtest.CodeFunc{Body: []byte{0x41, 0x2a}},
			wasmtest.CodeFunc{Body: []byte{
				0x20, 0x00,
				0x11, 0x00, 0x00,
			}},
		).
		Bytes()

	m, err := wasmcore.Prepare(data, wasmcore.DefaultFeatures())
	require.NoError(t, err)
	s := wasmcore.NewStore()
	id, err := s.Instantiate(m, nil)
	require.NoError(t, err)
	res, err := s.Invoke(id, "call_at", []wasmcore.Val{0})
	require.NoError(t, err)
	require.True(t, res.Done)

	engine := wasmtime.NewEngine()
	wm, err := wasmtime.NewModule(engine, data)
	require.NoError(t, err)
	wstore := wasmtime.NewStore(engine)
	winst, err := wasmtime.NewInstance(wstore, wm, nil)
	require.NoError(t, err)
	wf := winst.GetFunc(wstore, "call_at")
	require.NotNil(t, wf)
	wresult, err := wf.Call(wstore, int32(0))
	require.NoError(t, err)

	require.Equal(t, int32(42), int32(res.Values[0]))
	require.Equal(t, int32(42), wresult.(int32))
}
