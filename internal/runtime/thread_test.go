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

func mustInstantiate(t *testing.T, s *runtime.Store, b *wasmtest.Module, mem []byte) runtime.InstID {
	t.Helper()
	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)
	id, err := s.Instantiate(m, mem, engineconfig.Default(), res)
	require.NoError(t, err)
	return id
}

// spec.md §8 scenario 1: add(40, 2) == 42.
func TestInvoke_Add(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32, wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "add", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a, // i32.add
		}})

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, nil)

	res, err := s.Invoke(id, "add", []runtime.Val{api.EncodeI32(40), api.EncodeI32(2)})
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, []runtime.Val{api.EncodeI32(42)}, res.Values)
}

// spec.md §8 scenario 2: calling an imported host function suspends, then
// resume(nil) completes the void-returning export.
func TestInvoke_HostCallSuspendsAndResumes(t *testing.T) {
	b := wasmtest.New().
		Types(
			wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}},
			wasmtest.FuncSig{},
		).
		Imports(wasmtest.Import{Module: "env", Name: "log", Kind: 0, FuncType: 0}).
		Functions(1).
		Exports(wasmtest.ExportDef{Name: "run", Kind: 0, Index: 1}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x41, 0x07, // i32.const 7
			0x10, 0x00, // call 0 (imported env.log)
		}})

	s := runtime.NewStore()
	require.NoError(t, s.LinkFunc("env", "log", []api.ValueType{api.ValueTypeI32}, nil))
	id := mustInstantiate(t, s, b, nil)

	res, err := s.Invoke(id, "run", nil)
	require.NoError(t, err)
	require.False(t, res.Done)
	require.NotNil(t, res.Call)
	require.Equal(t, uint32(0), res.Call.Index())
	require.Equal(t, []runtime.Val{api.EncodeI32(7)}, res.Call.Args())

	res, err = res.Call.Resume(nil)
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Empty(t, res.Values)
}

// spec.md §8 scenario 3: little-endian i32.load of a 4-byte data segment.
func TestInvoke_MemoryLoadLittleEndian(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Memory(1, nil).
		Exports(wasmtest.ExportDef{Name: "read", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x41, 0x00, // i32.const 0
			0x28, 0x02, 0x00, // i32.load align=2 offset=0
		}}).
		Data(wasmtest.ConstExprI32(0), []byte{0x01, 0x02, 0x03, 0x04})

	s := runtime.NewStore()
	mem := make([]byte, 65536)
	id := mustInstantiate(t, s, b, mem)

	res, err := s.Invoke(id, "read", nil)
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, []runtime.Val{api.EncodeI32(0x04030201)}, res.Values)
}

// spec.md §8 scenario 4: call_indirect success, null trap, out-of-bounds trap.
func TestInvoke_CallIndirect(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}, wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0, 1).
		Table(wasmtest.ValFuncref, 2, nil).
		Exports(wasmtest.ExportDef{Name: "call_at", Kind: 0, Index: 1}).
		ElementActiveFuncs(wasmtest.ConstExprI32(0), 0).
		Code(
			wasmtest.CodeFunc{Body: []byte{0x41, 0x2a}}, // func 0: i32.const 42
			wasmtest.CodeFunc{Body: []byte{
				0x20, 0x00, // local.get 0
				0x11, 0x00, 0x00, // call_indirect (type 0) (table 0)
			}},
		)

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, nil)

	res, err := s.Invoke(id, "call_at", []runtime.Val{api.EncodeI32(0)})
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, []runtime.Val{api.EncodeI32(42)}, res.Values)

	_, err = s.Invoke(id, "call_at", []runtime.Val{api.EncodeI32(1)})
	require.Error(t, err)
	var trap1 *api.Trap
	require.ErrorAs(t, err, &trap1)

	_, err = s.Invoke(id, "call_at", []runtime.Val{api.EncodeI32(2)})
	require.Error(t, err)
	var trap2 *api.Trap
	require.ErrorAs(t, err, &trap2)
}

// spec.md §8 scenario 5: a start function that traps aborts instantiate.
func TestInstantiate_StartTraps(t *testing.T) {
	b := wasmtest.New().
		Types(wasmtest.FuncSig{}).
		Functions(0).
		Start(0).
		Code(wasmtest.CodeFunc{Body: []byte{0x00}}) // unreachable

	m, err := binary.DecodeModule(b.Bytes(), engineconfig.Default())
	require.NoError(t, err)
	res, err := validator.Validate(m, engineconfig.Default(), validator.Prepare)
	require.NoError(t, err)

	s := runtime.NewStore()
	_, err = s.Instantiate(m, nil, engineconfig.Default(), res)
	require.Error(t, err)
	var trap *api.Trap
	require.ErrorAs(t, err, &trap)
}

// spec.md §8 scenario 6: cross-instance mutable global import, mutated by
// an imported instance's function, observed via get_global on the owner.
func TestInvoke_CrossInstanceMutableGlobal(t *testing.T) {
	modA := wasmtest.New().
		Globals(wasmtest.GlobalDef{ValType: wasmtest.ValI32, Mutable: true, Init: wasmtest.ConstExprI32(5)}).
		Exports(wasmtest.ExportDef{Name: "g", Kind: 3, Index: 0})

	modB := wasmtest.New().
		Types(wasmtest.FuncSig{}).
		Imports(wasmtest.Import{Module: "a", Name: "g", Kind: 3, GlobalType: wasmtest.ValI32, GlobalMut: true}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "bump", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x23, 0x00, // global.get 0 (imported a.g)
			0x41, 0x01, // i32.const 1
			0x6a,       // i32.add
			0x24, 0x00, // global.set 0
		}})

	s := runtime.NewStore()
	idA := mustInstantiate(t, s, modA, nil)
	s.SetName(idA, "a")

	idB := mustInstantiate(t, s, modB, nil)

	res, err := s.Invoke(idB, "bump", nil)
	require.NoError(t, err)
	require.True(t, res.Done)

	v, ok := s.GetGlobal(idA, "g")
	require.True(t, ok)
	require.Equal(t, api.EncodeI32(6), v)
}

// A nested block/br exercises the side-table-driven branch resolution path
// rather than only plain fallthrough `end`s.
func TestInvoke_BranchOutOfNestedBlock(t *testing.T) {
	// (func (result i32)
	//   block (result i32)
	//     i32.const 1
	//     br 0
	//     i32.const 2  ;; unreachable, never pushed
	//   end)
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "f", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x02, 0x7f, // block (result i32)
			0x41, 0x01, // i32.const 1
			0x0c, 0x00, // br 0
			0x41, 0x02, // i32.const 2 (dead)
			0x0b, // end (of block)
		}})

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, nil)

	res, err := s.Invoke(id, "f", nil)
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, []runtime.Val{api.EncodeI32(1)}, res.Values)
}

// `return` inside an open block must unwind past any operands the block
// itself had already accumulated (Frame.stackBase truncation).
func TestInvoke_ReturnInsideOpenBlock(t *testing.T) {
	// (func (result i32)
	//   block
	//     i32.const 99   ;; pushed, but not part of this block's result type
	//     i32.const 42
	//     return
	//     drop
	//   end
	//   unreachable)
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "f", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x02, 0x40, // block (empty type)
			0x41, 0xe3, 0x00, // i32.const 99
			0x41, 0x2a, // i32.const 42
			0x0f, // return
			0x1a, // drop (unreachable, dead code)
			0x0b, // end
			0x00, // unreachable (never reached; gives the function end its i32)
		}})

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, nil)

	res, err := s.Invoke(id, "f", nil)
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, []runtime.Val{api.EncodeI32(42)}, res.Values)
}

// br_table selects among explicit targets and falls back to the default.
func TestInvoke_BrTable(t *testing.T) {
	// (func (param i32) (result i32)
	//   block
	//     block
	//       block
	//         local.get 0
	//         br_table 0 1 2
	//       end
	//       i32.const 100  ;; selector == 0
	//       return
	//     end
	//     i32.const 200    ;; selector == 1
	//     return
	//   end
	//   i32.const 300)      ;; default
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Params: []byte{wasmtest.ValI32}, Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "pick", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x02, 0x40, // block (empty type)
			0x02, 0x40, // block (empty type)
			0x02, 0x40, // block (empty type)
			0x20, 0x00, // local.get 0
			0x0e, 0x02, 0x00, 0x01, 0x02, // br_table [0, 1] default=2
			0x0b,             // end
			0x41, 0xe4, 0x00, // i32.const 100
			0x0f, // return
			0x0b, // end
			0x41, 0xc8, 0x01, // i32.const 200
			0x0f, // return
			0x0b,             // end
			0x41, 0xac, 0x02, // i32.const 300
		}})

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, nil)

	for sel, want := range map[int32]int32{0: 100, 1: 200, 2: 300, 5: 300} {
		res, err := s.Invoke(id, "pick", []runtime.Val{api.EncodeI32(sel)})
		require.NoError(t, err)
		require.True(t, res.Done)
		require.Equal(t, []runtime.Val{api.EncodeI32(want)}, res.Values, "selector %d", sel)
	}
}

// A branch out of a block entered with a non-empty enclosing operand stack
// must leave the operands beneath the block's own floor untouched: pop_cnt
// is computed relative to the target label's floor, not the function's
// absolute stack height.
func TestInvoke_BranchOutOfBlockWithNonEmptyFloor(t *testing.T) {
	// (func (result i32)
	//   i32.const 10
	//   block (result i32)
	//     i32.const 1
	//     br 0
	//   end
	//   i32.add)
	b := wasmtest.New().
		Types(wasmtest.FuncSig{Results: []byte{wasmtest.ValI32}}).
		Functions(0).
		Exports(wasmtest.ExportDef{Name: "f", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x41, 0x0a, // i32.const 10
			0x02, 0x7f, // block (result i32)
			0x41, 0x01, // i32.const 1
			0x0c, 0x00, // br 0
			0x0b, // end (of block)
			0x6a, // i32.add
		}})

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, nil)

	res, err := s.Invoke(id, "f", nil)
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, []runtime.Val{api.EncodeI32(11)}, res.Values)
}

// A zero-length bulk op still traps if its start offset is past the end of
// the target: boundedRange must not short-circuit on count == 0.
func TestInvoke_MemoryFillZeroLengthOutOfBoundsTraps(t *testing.T) {
	// (func (export "f")
	//   memory (0)        ;; min 0 pages, so Bytes() is empty
	//   i32.const 1
	//   i32.const 0
	//   i32.const 0
	//   memory.fill)
	b := wasmtest.New().
		Types(wasmtest.FuncSig{}).
		Functions(0).
		Memory(0, nil).
		Exports(wasmtest.ExportDef{Name: "f", Kind: 0, Index: 0}).
		Code(wasmtest.CodeFunc{Body: []byte{
			0x41, 0x01, // i32.const 1 (dst, past the empty memory's end)
			0x41, 0x00, // i32.const 0 (fill value)
			0x41, 0x00, // i32.const 0 (count)
			0xfc, 0x0b, 0x00, // memory.fill
		}})

	s := runtime.NewStore()
	id := mustInstantiate(t, s, b, make([]byte, 65536))

	_, err := s.Invoke(id, "f", nil)
	require.Error(t, err)
	var trap *api.Trap
	require.ErrorAs(t, err, &trap)
}
