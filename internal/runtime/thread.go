package runtime

import (
	"encoding/binary"

	"github.com/sandboxwasm/wasmcore/api"
	wbinary "github.com/sandboxwasm/wasmcore/internal/binary"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// maxCallDepth bounds how many frames a single Thread may nest (spec.md §5
// "a frame depth cap, since this engine has no other recursion guard").
const maxCallDepth = 1000

// Thread is one logical strand of execution through a Store: a value stack
// shared by all of its frames, plus the frame stack itself (spec.md §3
// Thread). A Thread is single-shot — it runs until it finishes or suspends
// on a host call, and Call.Resume drives the same Thread onward.
type Thread struct {
	store  *Store
	frames []*Frame
	values []Val
}

func (t *Thread) curFrame() *Frame { return t.frames[len(t.frames)-1] }

func (t *Thread) push(v Val) { t.values = append(t.values, v) }

func (t *Thread) pushAll(vs []Val) { t.values = append(t.values, vs...) }

func (t *Thread) pop() Val {
	v := t.values[len(t.values)-1]
	t.values = t.values[:len(t.values)-1]
	return v
}

func (t *Thread) popN(n int) []Val {
	out := make([]Val, n)
	copy(out, t.values[len(t.values)-n:])
	t.values = t.values[:len(t.values)-n]
	return out
}

func (t *Thread) pushBool(b bool) {
	if b {
		t.push(1)
	} else {
		t.push(0)
	}
}

func (t *Thread) pushI32(v int32)     { t.push(api.EncodeI32(v)) }
func (t *Thread) pushI64(v int64)     { t.push(api.EncodeI64(v)) }
func (t *Thread) pushF32(v float32)   { t.push(api.EncodeF32(v)) }
func (t *Thread) pushF64(v float64)   { t.push(api.EncodeF64(v)) }

func (t *Thread) popI32() int32   { return int32(uint32(t.pop())) }
func (t *Thread) popU32() uint32  { return uint32(t.pop()) }
func (t *Thread) popI64() int64   { return int64(t.pop()) }
func (t *Thread) popU64() uint64  { return t.pop() }
func (t *Thread) popF32() float32 { return api.DecodeF32(t.pop()) }
func (t *Thread) popF64() float64 { return api.DecodeF64(t.pop()) }

// invoke dispatches a call through a packed function pointer: a host
// pointer suspends immediately with a Call, a Wasm pointer pushes a fresh
// frame and drives the interpreter loop.
func (t *Thread) invoke(callerInst InstID, ptr FuncPtr, args []Val, resultArity int) (RunResult, error) {
	if ptr.IsHost() {
		return RunResult{Call: &Call{thread: t, hostIndex: ptr.Index(), args: args, instID: callerInst, resultArity: resultArity}}, nil
	}
	inst := t.store.mustInstance(ptr.WasmInstID())
	f, err := inst.BuildFrame(int(ptr.Index()), args)
	if err != nil {
		return RunResult{}, err
	}
	f.stackBase = len(t.values)
	t.frames = append(t.frames, f)
	return t.run()
}

// run drives the interpreter until every frame completes (Done, with the
// shared value stack's tail as results) or an instruction suspends on a
// host call boundary.
func (t *Thread) run() (RunResult, error) {
	for len(t.frames) > 0 {
		call, err := t.step()
		if err != nil {
			return RunResult{}, err
		}
		if call != nil {
			return RunResult{Call: call}, nil
		}
	}
	return RunResult{Done: true, Values: t.values}, nil
}

// step decodes and executes exactly one instruction of the current frame,
// returning a non-nil *Call only when execution must suspend for a host
// function's results.
func (t *Thread) step() (*Call, error) {
	f := t.curFrame()
	inst := t.store.instance(f.InstID)
	r := wbinary.NewReader(f.body[f.ip:], inst.Features)
	in, err := r.Instr()
	if err != nil {
		return nil, api.NewTrap("%v", err)
	}
	postIP := f.ip + r.Pos()
	f.ip = postIP

	switch in.Opcode {
	case wasm.OpcodeUnreachable:
		return nil, api.NewTrap("unreachable")
	case wasm.OpcodeNop:
		return nil, nil
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		f.depth++
		return nil, nil
	case wasm.OpcodeIf:
		cond := t.popI32()
		f.depth++
		if cond == 0 {
			return nil, t.takeBranch(f, uint32(postIP))
		}
		return nil, nil
	case wasm.OpcodeElse:
		return nil, t.takeBranch(f, uint32(postIP))
	case wasm.OpcodeEnd:
		f.depth--
		if f.depth == 0 {
			t.finishFrame()
			return nil, nil
		}
		return nil, nil
	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		if in.Opcode == wasm.OpcodeBrIf && t.popI32() == 0 {
			return nil, nil
		}
		return nil, t.takeBranch(f, uint32(postIP))
	case wasm.OpcodeBrTable:
		return nil, t.execBrTable(f, uint32(postIP))
	case wasm.OpcodeReturn:
		return nil, t.doReturn(f)
	case wasm.OpcodeCall:
		return t.call(f, in.FuncIndex)
	case wasm.OpcodeCallIndirect:
		return t.callIndirect(f, in)
	case wasm.OpcodeDrop:
		t.pop()
		return nil, nil
	case wasm.OpcodeSelect, wasm.OpcodeSelectT:
		cond := t.popI32()
		b := t.pop()
		a := t.pop()
		if cond != 0 {
			t.push(a)
		} else {
			t.push(b)
		}
		return nil, nil
	case wasm.OpcodeLocalGet:
		t.push(f.Locals[in.Index])
		return nil, nil
	case wasm.OpcodeLocalSet:
		f.Locals[in.Index] = t.pop()
		return nil, nil
	case wasm.OpcodeLocalTee:
		f.Locals[in.Index] = t.values[len(t.values)-1]
		return nil, nil
	case wasm.OpcodeGlobalGet:
		g, ok := inst.Globals.At(in.Index)
		if !ok {
			return nil, api.NewTrap("global.get: index %d out of range", in.Index)
		}
		t.push(g.Value)
		return nil, nil
	case wasm.OpcodeGlobalSet:
		g, ok := inst.Globals.At(in.Index)
		if !ok {
			return nil, api.NewTrap("global.set: index %d out of range", in.Index)
		}
		g.Value = t.pop()
		return nil, nil
	case wasm.OpcodeTableGet:
		return nil, t.tableGet(inst, in.Index)
	case wasm.OpcodeTableSet:
		return nil, t.tableSet(inst, in.Index)
	case wasm.OpcodeI32Const:
		t.pushI32(in.I32)
		return nil, nil
	case wasm.OpcodeI64Const:
		t.pushI64(in.I64)
		return nil, nil
	case wasm.OpcodeF32Const:
		t.pushF32(in.F32)
		return nil, nil
	case wasm.OpcodeF64Const:
		t.pushF64(in.F64)
		return nil, nil
	case wasm.OpcodeRefNull:
		t.push(typedNull(in.RefType))
		return nil, nil
	case wasm.OpcodeRefIsNull:
		t.pushBool(isNullRef(t.pop()))
		return nil, nil
	case wasm.OpcodeRefFunc:
		ptr, ok := inst.Funcs.At(in.FuncIndex)
		if !ok {
			return nil, api.NewTrap("ref.func: index %d out of range", in.FuncIndex)
		}
		t.push(EncodeFuncPtr(ptr))
		return nil, nil
	case wasm.OpcodeMemorySize:
		return nil, t.memSize(inst)
	case wasm.OpcodeMemoryGrow:
		return nil, t.memGrow(inst)
	}

	switch {
	case in.Opcode >= wasm.OpcodeI32Load && in.Opcode <= wasm.OpcodeMemoryGrow:
		return nil, t.memOp(inst, in)
	case in.Opcode >= wasm.OpcodeI32Eqz && in.Opcode <= wasm.OpcodeI64Extend32S:
		return nil, t.execNumeric(in.Opcode)
	case in.Opcode >= 0x100:
		return nil, t.bulkOp(inst, in)
	}
	return nil, api.NewTrap("unhandled opcode %#x", in.Opcode)
}

// takeBranch resolves the single side-table entry allocated for a
// non-br_table branch site at offset and applies it.
func (t *Thread) takeBranch(f *Frame, offset uint32) error {
	entries := f.branches[offset]
	if len(entries) == 0 {
		return api.NewTrap("internal: no side-table entry at offset %d", offset)
	}
	return t.applyBranch(f, entries[0])
}

// execBrTable selects among the entries allocated for a br_table site: the
// explicit targets in LabelIndices order, then the default last
// (internal/validator/func.go's branchTo allocation order).
func (t *Thread) execBrTable(f *Frame, offset uint32) error {
	entries := f.branches[offset]
	if len(entries) == 0 {
		return api.NewTrap("internal: no side-table entries at offset %d", offset)
	}
	n := len(entries) - 1
	sel := int(t.popU32())
	idx := n
	if sel >= 0 && sel < n {
		idx = sel
	}
	return t.applyBranch(f, entries[idx])
}

// applyBranch performs the runtime effect of one side-table entry: carry
// ValCount values across the discarded PopCount beneath them, then jump.
func (t *Thread) applyBranch(f *Frame, entryIdx uint32) error {
	inst := t.store.instance(f.InstID)
	e := inst.SideTable.Entries[entryIdx]
	kept := t.popN(int(e.ValCount))
	if int(e.PopCount) > len(t.values) {
		return api.NewTrap("internal: side-table pop count exceeds stack depth")
	}
	t.values = t.values[:len(t.values)-int(e.PopCount)]
	t.pushAll(kept)
	f.ip = int(int32(f.ip) + e.DeltaIP)
	f.depth = int(inst.TargetDepths[entryIdx])
	if f.depth == 0 {
		t.finishFrame()
	}
	return nil
}

// doReturn implements `return`, which bypasses the side table entirely: it
// drains the value stack to the frame's entry height and pushes back
// exactly Arity result values taken from the top (spec.md §3 Frame
// prev_value_stack_length).
func (t *Thread) doReturn(f *Frame) error {
	if len(t.values) < f.Arity {
		return api.NewTrap("internal: return stack underflow")
	}
	results := t.popN(f.Arity)
	t.values = t.values[:f.stackBase]
	t.pushAll(results)
	t.finishFrame()
	return nil
}

func (t *Thread) finishFrame() {
	t.frames = t.frames[:len(t.frames)-1]
}

func (t *Thread) call(f *Frame, funcIdx uint32) (*Call, error) {
	inst := t.store.instance(f.InstID)
	ft, ok := inst.FuncType(funcIdx)
	if !ok {
		return nil, api.NewTrap("call: function index %d out of range", funcIdx)
	}
	ptr, ok := inst.Funcs.At(funcIdx)
	if !ok {
		return nil, api.NewTrap("call: function index %d out of range", funcIdx)
	}
	return t.doCall(ptr, ft)
}

func (t *Thread) callIndirect(f *Frame, in wasm.Instr) (*Call, error) {
	inst := t.store.instance(f.InstID)
	tbl, ok := inst.Tables.At(in.TableIndex)
	if !ok {
		return nil, api.NewTrap("call_indirect: table %d out of range", in.TableIndex)
	}
	elemIdx := t.popU32()
	v, err := tbl.Get(elemIdx)
	if err != nil {
		return nil, err
	}
	if isNullRef(v) {
		return nil, api.NewTrap("call_indirect: null function reference")
	}
	ptr := DecodeFuncPtr(v)
	if int(in.TypeIndex) >= len(inst.Module.Types) {
		return nil, api.NewTrap("call_indirect: type index %d out of range", in.TypeIndex)
	}
	want := inst.Module.Types[in.TypeIndex]
	got, ok := t.store.funcPtrType(ptr)
	if !ok || !want.Equal(&got) {
		return nil, api.NewTrap("call_indirect: type mismatch")
	}
	return t.doCall(ptr, want)
}

func (t *Thread) doCall(ptr FuncPtr, ft wasm.FuncType) (*Call, error) {
	if len(t.frames) >= maxCallDepth {
		return nil, api.NewTrap("call stack exceeds depth limit %d", maxCallDepth)
	}
	args := t.popN(len(ft.Params))
	if ptr.IsHost() {
		return &Call{thread: t, hostIndex: ptr.Index(), args: args, instID: t.curFrame().InstID, resultArity: len(ft.Results)}, nil
	}
	target := t.store.mustInstance(ptr.WasmInstID())
	nf, err := target.BuildFrame(int(ptr.Index()), args)
	if err != nil {
		return nil, err
	}
	nf.stackBase = len(t.values)
	t.frames = append(t.frames, nf)
	return nil, nil
}

func (t *Thread) tableGet(inst *Instance, idx uint32) error {
	tbl, ok := inst.Tables.At(idx)
	if !ok {
		return api.NewTrap("table.get: table %d out of range", idx)
	}
	i := t.popU32()
	v, err := tbl.Get(i)
	if err != nil {
		return err
	}
	t.push(v)
	return nil
}

func (t *Thread) tableSet(inst *Instance, idx uint32) error {
	tbl, ok := inst.Tables.At(idx)
	if !ok {
		return api.NewTrap("table.set: table %d out of range", idx)
	}
	v := t.pop()
	i := t.popU32()
	return tbl.Set(i, v)
}

func (t *Thread) memSize(inst *Instance) error {
	mem, ok := inst.Memory.At(0)
	if !ok {
		return api.NewTrap("memory.size: module declares no memory")
	}
	t.pushI32(int32(mem.Size))
	return nil
}

func (t *Thread) memGrow(inst *Instance) error {
	mem, ok := inst.Memory.At(0)
	if !ok {
		return api.NewTrap("memory.grow: module declares no memory")
	}
	delta := t.popU32()
	t.pushI32(int32(mem.Grow(delta)))
	return nil
}

func isMemStoreOp(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32
}

func (t *Thread) memOp(inst *Instance, in wasm.Instr) error {
	mem, ok := inst.Memory.At(0)
	if !ok {
		return api.NewTrap("memory operation: module declares no memory")
	}
	if isMemStoreOp(in.Opcode) {
		return t.memStore(mem, in)
	}
	return t.memLoad(mem, in)
}

func (t *Thread) memLoad(mem *Memory, in wasm.Instr) error {
	i := t.popU32()
	bs := mem.Bytes()
	switch in.Opcode {
	case wasm.OpcodeI32Load:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		t.push(Val(binary.LittleEndian.Uint32(bs[ea:])))
	case wasm.OpcodeI64Load:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 8)
		if err != nil {
			return err
		}
		t.push(binary.LittleEndian.Uint64(bs[ea:]))
	case wasm.OpcodeF32Load:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		t.push(Val(binary.LittleEndian.Uint32(bs[ea:])))
	case wasm.OpcodeF64Load:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 8)
		if err != nil {
			return err
		}
		t.push(binary.LittleEndian.Uint64(bs[ea:]))
	case wasm.OpcodeI32Load8S:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 1)
		if err != nil {
			return err
		}
		t.pushI32(int32(int8(bs[ea])))
	case wasm.OpcodeI32Load8U:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 1)
		if err != nil {
			return err
		}
		t.pushI32(int32(bs[ea]))
	case wasm.OpcodeI32Load16S:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 2)
		if err != nil {
			return err
		}
		t.pushI32(int32(int16(binary.LittleEndian.Uint16(bs[ea:]))))
	case wasm.OpcodeI32Load16U:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 2)
		if err != nil {
			return err
		}
		t.pushI32(int32(binary.LittleEndian.Uint16(bs[ea:])))
	case wasm.OpcodeI64Load8S:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 1)
		if err != nil {
			return err
		}
		t.pushI64(int64(int8(bs[ea])))
	case wasm.OpcodeI64Load8U:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 1)
		if err != nil {
			return err
		}
		t.pushI64(int64(bs[ea]))
	case wasm.OpcodeI64Load16S:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 2)
		if err != nil {
			return err
		}
		t.pushI64(int64(int16(binary.LittleEndian.Uint16(bs[ea:]))))
	case wasm.OpcodeI64Load16U:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 2)
		if err != nil {
			return err
		}
		t.pushI64(int64(binary.LittleEndian.Uint16(bs[ea:])))
	case wasm.OpcodeI64Load32S:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		t.pushI64(int64(int32(binary.LittleEndian.Uint32(bs[ea:]))))
	case wasm.OpcodeI64Load32U:
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		t.pushI64(int64(binary.LittleEndian.Uint32(bs[ea:])))
	default:
		return api.NewTrap("unhandled load opcode %#x", in.Opcode)
	}
	return nil
}

func (t *Thread) memStore(mem *Memory, in wasm.Instr) error {
	switch in.Opcode {
	case wasm.OpcodeI32Store:
		v := t.popU32()
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(mem.Bytes()[ea:], v)
	case wasm.OpcodeI64Store:
		v := t.popU64()
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(mem.Bytes()[ea:], v)
	case wasm.OpcodeF32Store:
		v := t.popU32()
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(mem.Bytes()[ea:], v)
	case wasm.OpcodeF64Store:
		v := t.popU64()
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(mem.Bytes()[ea:], v)
	case wasm.OpcodeI32Store8:
		v := byte(t.popU32())
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 1)
		if err != nil {
			return err
		}
		mem.Bytes()[ea] = v
	case wasm.OpcodeI32Store16:
		v := uint16(t.popU32())
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(mem.Bytes()[ea:], v)
	case wasm.OpcodeI64Store8:
		v := byte(t.popU64())
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 1)
		if err != nil {
			return err
		}
		mem.Bytes()[ea] = v
	case wasm.OpcodeI64Store16:
		v := uint16(t.popU64())
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(mem.Bytes()[ea:], v)
	case wasm.OpcodeI64Store32:
		v := uint32(t.popU64())
		i := t.popU32()
		ea, err := mem.effectiveAddress(i, in.MemArg.Offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(mem.Bytes()[ea:], v)
	default:
		return api.NewTrap("unhandled store opcode %#x", in.Opcode)
	}
	return nil
}

// bulkOp handles the 0xfc-prefixed family: saturating truncation delegates
// straight to execNumeric, the rest are the bulk memory/table operations
// (internal/validator/bulk.go fixes their exact stack-operand order).
func (t *Thread) bulkOp(inst *Instance, in wasm.Instr) error {
	switch in.Opcode {
	case wasm.OpcodeI32TruncSatF32S, wasm.OpcodeI32TruncSatF32U, wasm.OpcodeI32TruncSatF64S, wasm.OpcodeI32TruncSatF64U,
		wasm.OpcodeI64TruncSatF32S, wasm.OpcodeI64TruncSatF32U, wasm.OpcodeI64TruncSatF64S, wasm.OpcodeI64TruncSatF64U:
		return t.execNumeric(in.Opcode)

	case wasm.OpcodeMemoryInit:
		n := t.popU32()
		src := t.popU32()
		dst := t.popU32()
		mem, ok := inst.Memory.At(0)
		if !ok {
			return api.NewTrap("memory.init: module declares no memory")
		}
		if inst.DataDropped(in.DataIndex) {
			if n == 0 {
				return nil
			}
			return api.NewTrap("memory.init: data segment %d has been dropped", in.DataIndex)
		}
		seg := inst.Module.Datas[in.DataIndex].Init
		return mem.Init(dst, seg, src, n)

	case wasm.OpcodeDataDrop:
		inst.DropData(in.DataIndex)
		return nil

	case wasm.OpcodeMemoryCopy:
		n := t.popU32()
		src := t.popU32()
		dst := t.popU32()
		mem, ok := inst.Memory.At(0)
		if !ok {
			return api.NewTrap("memory.copy: module declares no memory")
		}
		return CopyMem(mem, mem, dst, src, n)

	case wasm.OpcodeMemoryFill:
		n := t.popU32()
		val := byte(t.popU32())
		dst := t.popU32()
		mem, ok := inst.Memory.At(0)
		if !ok {
			return api.NewTrap("memory.fill: module declares no memory")
		}
		return mem.Fill(dst, n, val)

	case wasm.OpcodeTableInit:
		n := t.popU32()
		src := t.popU32()
		dst := t.popU32()
		tbl, ok := inst.Tables.At(in.TableIndex)
		if !ok {
			return api.NewTrap("table.init: table %d out of range", in.TableIndex)
		}
		if inst.ElemDropped(in.Index) {
			if n == 0 {
				return nil
			}
			return api.NewTrap("table.init: element segment %d has been dropped", in.Index)
		}
		return tbl.Init(dst, inst.ElemValues(in.Index), src, n)

	case wasm.OpcodeElemDrop:
		inst.DropElem(in.Index)
		return nil

	case wasm.OpcodeTableCopy:
		n := t.popU32()
		src := t.popU32()
		dst := t.popU32()
		dstTbl, ok := inst.Tables.At(in.TableIndex)
		if !ok {
			return api.NewTrap("table.copy: table %d out of range", in.TableIndex)
		}
		srcTbl, ok := inst.Tables.At(in.Index)
		if !ok {
			return api.NewTrap("table.copy: table %d out of range", in.Index)
		}
		return Copy(dstTbl, srcTbl, dst, src, n)

	case wasm.OpcodeTableGrow:
		tbl, ok := inst.Tables.At(in.TableIndex)
		if !ok {
			return api.NewTrap("table.grow: table %d out of range", in.TableIndex)
		}
		delta := t.popU32()
		fill := t.pop()
		t.pushI32(int32(tbl.Grow(delta, fill)))
		return nil

	case wasm.OpcodeTableSize:
		tbl, ok := inst.Tables.At(in.TableIndex)
		if !ok {
			return api.NewTrap("table.size: table %d out of range", in.TableIndex)
		}
		t.pushI32(int32(tbl.Size()))
		return nil

	case wasm.OpcodeTableFill:
		tbl, ok := inst.Tables.At(in.TableIndex)
		if !ok {
			return api.NewTrap("table.fill: table %d out of range", in.TableIndex)
		}
		n := t.popU32()
		val := t.pop()
		i := t.popU32()
		return tbl.Fill(i, n, val)
	}
	return api.NewTrap("unhandled bulk opcode %#x", in.Opcode)
}
