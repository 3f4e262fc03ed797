package validator

import (
	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/binary"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

type labelKind int

const (
	labelBlock labelKind = iota
	labelLoop
	labelIf
)

// label is one entry of the per-function control stack. Branch bookkeeping
// (spec.md §4.2) happens entirely through the source/target capture below:
// Prepare mode allocates a placeholder side-table entry the first time a
// branch *source* is seen and patches it once the matching target position
// is known; a Loop's target is known immediately (its header), a
// Block/If's target (its End, or for an If with an Else, the instruction
// right after Else) is only known once that instruction is reached.
type label struct {
	kind    labelKind
	params  []wasm.ValueType // types consumed entering the label (loop branch target shape)
	results []wasm.ValueType // types produced leaving the label (block/if branch target shape)
	floor   int              // value-stack height directly below this label's own operands
	unreachable bool

	// pendingSources holds branch sites whose target is this label's
	// eventual End (everything except Loop, whose target is already fixed).
	pendingSources []pendingBranch

	// loopHeaderIP/loopHeaderSTP are valid only for labelLoop: the position
	// branches to this label jump back to.
	loopHeaderIP  uint32
	loopHeaderSTP uint32

	// ifElseSource, when kind == labelIf and no Else has been seen yet, is
	// the allocated entry for the conditional jump taken when the `if`
	// condition is false; it is stitched either when Else is reached (to
	// just after Else) or, absent an Else, when End is reached (same
	// target as every other pending source of this label).
	ifElseSource   *pendingBranch
	ifHasElse      bool
}

// pendingBranch is a branch source awaiting its target (Prepare mode) or,
// in Verify mode, the pre-existing entry index to re-check.
type pendingBranch struct {
	entryIdx uint32
	sourceIP uint32
	sourceSTP uint32
	stackHeightAtSource int
}

// funcValidator holds the mutable state for validating one function body.
type funcValidator struct {
	v       *validatorState
	r       *binary.Reader
	locals  []wasm.ValueType
	stack   stack
	labels  []*label
	bodyLen uint32
}

func (v *validatorState) validateFunc(idx int, code wasm.Code, ft *api.FuncType) error {
	locals := append(append([]wasm.ValueType{}, ft.Params...), code.LocalTypes...)
	fv := &funcValidator{
		v:       v,
		r:       binary.NewReader(code.Body, v.features),
		locals:  locals,
		bodyLen: uint32(len(code.Body)),
	}
	top := &label{kind: labelBlock, results: ft.Results, floor: 0}
	fv.labels = append(fv.labels, top)

	for len(fv.labels) > 0 {
		if fv.r.Len() == 0 {
			return Invalidf("function %d: missing final end", idx)
		}
		if err := fv.step(); err != nil {
			return err
		}
	}
	if fv.r.Len() != 0 {
		return Invalidf("function %d: trailing bytes after final end", idx)
	}
	return nil
}

func (fv *funcValidator) cur() *label { return fv.labels[len(fv.labels)-1] }

func (fv *funcValidator) allocSource() (pendingBranch, error) {
	ip := uint32(fv.r.Pos())
	if fv.v.mode == Prepare {
		idx := fv.v.st.Alloc()
		fv.v.sourceOffsets = append(fv.v.sourceOffsets, ip)
		fv.v.targetDepths = append(fv.v.targetDepths, 0)
		return pendingBranch{entryIdx: idx, sourceIP: ip, sourceSTP: idx, stackHeightAtSource: fv.stack.height()}, nil
	}
	idx := uint32(fv.v.verifyCursor)
	if int(idx) >= len(fv.v.existing.Entries) {
		return pendingBranch{}, Invalidf("side table exhausted re-checking branch site")
	}
	fv.v.verifyCursor++
	fv.v.sourceOffsets = append(fv.v.sourceOffsets, ip)
	fv.v.targetDepths = append(fv.v.targetDepths, 0)
	return pendingBranch{entryIdx: idx, sourceIP: ip, sourceSTP: idx, stackHeightAtSource: fv.stack.height()}, nil
}

// stitch resolves src against a target reached at (targetIP, targetSTP)
// with the given result arity, per the spec.md §4.2 formula. targetDepth is
// the count of control labels still open once the branch lands (the target
// label itself counted as open), recorded out-of-band for internal/runtime
// (see validatorState.targetDepths) since it never fits the fixed wire-format
// Entry. targetFloor is the target label's own stack floor: stack.height()
// is an absolute per-function measure, so pop_cnt must subtract both the
// carried values and everything below them down to the target's floor, not
// just the carried values (spec.md §4.2; original_source's valid.rs pop_cnt
// does the same subtraction).
func (fv *funcValidator) stitch(src pendingBranch, targetIP, targetSTP uint32, valCount, targetDepth, targetFloor int) error {
	deltaIP := int64(targetIP) - int64(src.sourceIP)
	deltaSTP := int64(targetSTP) - int64(src.sourceSTP)
	popCount := src.stackHeightAtSource - targetFloor - valCount
	if popCount < 0 {
		popCount = 0
	}
	if deltaIP < -(1<<31) || deltaIP >= (1<<31) || deltaSTP < -(1<<31) || deltaSTP >= (1<<31) {
		return Unsupportedf("side-table delta does not fit i32")
	}
	entry := sidetable.Entry{
		DeltaIP:  int32(deltaIP),
		DeltaSTP: int32(deltaSTP),
		ValCount: uint32(valCount),
		PopCount: uint32(popCount),
	}
	fv.v.targetDepths[src.entryIdx] = uint32(targetDepth)
	if fv.v.mode == Prepare {
		fv.v.st.Patch(src.entryIdx, entry)
		return nil
	}
	want := fv.v.existing.Entries[src.entryIdx]
	if want != entry {
		return Invalidf("side table entry %d disagrees with recomputed branch metadata", src.entryIdx)
	}
	return nil
}

// branchTo resolves a branch (br/br_if/br_table target) to the label at
// depth l from the top of the control stack (0 = innermost).
func (fv *funcValidator) branchTo(l uint32) error {
	if int(l) >= len(fv.labels) {
		return Invalidf("branch depth %d exceeds control stack", l)
	}
	target := fv.labels[len(fv.labels)-1-int(l)]
	src, err := fv.allocSource()
	if err != nil {
		return err
	}
	shape := target.results
	if target.kind == labelLoop {
		shape = target.params
	}
	if err := fv.popOperands(shape); err != nil {
		return err
	}
	if target.kind == labelLoop {
		// The loop label itself is still open at its own header.
		return fv.stitch(src, target.loopHeaderIP, target.loopHeaderSTP, len(shape), len(fv.labels)-int(l), target.floor)
	}
	target.pendingSources = append(target.pendingSources, src)
	return nil
}

func (fv *funcValidator) popOperands(types []wasm.ValueType) error {
	cur := fv.cur()
	for i := len(types) - 1; i >= 0; i-- {
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, types[i]); err != nil {
			return err
		}
	}
	// Re-push: a branch does not consume the operands from the
	// surrounding straight-line code, only checks their presence/shape.
	for _, t := range types {
		fv.stack.push(t)
	}
	return nil
}

func (fv *funcValidator) pushLabelResult(l *label) {
	for _, t := range l.results {
		fv.stack.push(t)
	}
}

func blockShape(v *validatorState, bt wasm.BlockType) (params, results []wasm.ValueType, err error) {
	if t, ok := bt.IsValueShorthand(); ok {
		return nil, []wasm.ValueType{t}, nil
	}
	if bt.IsEmpty() {
		return nil, nil, nil
	}
	idx, _ := bt.TypeIndex()
	if int(idx) >= len(v.m.Types) {
		return nil, nil, Invalidf("block type index %d out of range", idx)
	}
	ft := v.m.Types[idx]
	if len(ft.Params) > 0 && !v.features.MultiValue {
		return nil, nil, Unsupportedf("block with parameters")
	}
	return ft.Params, ft.Results, nil
}

func (fv *funcValidator) step() error {
	cur := fv.cur()
	in, err := fv.r.Instr()
	if err != nil {
		return err
	}

	switch in.Opcode {
	case wasm.OpcodeUnreachable:
		cur.unreachable = true
		fv.stack.truncateTo(cur.floor)
		return nil

	case wasm.OpcodeNop:
		return nil

	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		params, results, err := blockShape(fv.v, in.Block)
		if err != nil {
			return err
		}
		if err := fv.popOperandsConsuming(params); err != nil {
			return err
		}
		lb := &label{kind: labelBlock, params: params, results: results, floor: fv.stack.height()}
		if in.Opcode == wasm.OpcodeLoop {
			lb.kind = labelLoop
			lb.loopHeaderIP = uint32(fv.r.Pos())
			lb.loopHeaderSTP = fv.v.currentSTP()
		}
		for _, t := range params {
			fv.stack.push(t)
		}
		fv.labels = append(fv.labels, lb)
		return nil

	case wasm.OpcodeIf:
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
			return err
		}
		params, results, err := blockShape(fv.v, in.Block)
		if err != nil {
			return err
		}
		// Captured before params are popped: at runtime, a false condition
		// branches with those params still physically on the stack (they
		// become the else-body's initial operands), so the source's
		// recorded height must include them.
		src, err := fv.allocSource()
		if err != nil {
			return err
		}
		if err := fv.popOperandsConsuming(params); err != nil {
			return err
		}
		lb := &label{kind: labelIf, params: params, results: results, floor: fv.stack.height(), ifElseSource: &src}
		for _, t := range params {
			fv.stack.push(t)
		}
		fv.labels = append(fv.labels, lb)
		return nil

	case wasm.OpcodeElse:
		if cur.kind != labelIf {
			return Invalidf("else without matching if")
		}
		// A then-body that completes normally (condition was true) falls
		// through to this exact opcode and must jump over the else-body to
		// the matching end; that is itself a branch source, distinct from
		// the if's own conditional-false source, and gets stitched to the
		// same end target as every other pending source of this label.
		elseSkip, err := fv.allocSource()
		if err != nil {
			return err
		}
		if err := fv.popOperandsConsuming(cur.results); err != nil {
			return err
		}
		cur.ifHasElse = true
		cur.pendingSources = append(cur.pendingSources, elseSkip)
		// The if's conditional-false jump lands exactly here (first
		// instruction after else), still inside the if label's own scope.
		if err := fv.stitch(*cur.ifElseSource, uint32(fv.r.Pos()), fv.v.currentSTP(), len(cur.params), len(fv.labels), cur.floor); err != nil {
			return err
		}
		fv.stack.truncateTo(cur.floor)
		for _, t := range cur.params {
			fv.stack.push(t)
		}
		cur.unreachable = false
		return nil

	case wasm.OpcodeEnd:
		if err := fv.popOperandsConsuming(cur.results); err != nil {
			return err
		}
		endIP := uint32(fv.r.Pos())
		endSTP := fv.v.currentSTP()
		// cur is still on the control stack here; once it ends, control
		// resumes with it popped.
		targetDepth := len(fv.labels) - 1
		if cur.kind == labelIf && !cur.ifHasElse {
			if err := fv.stitch(*cur.ifElseSource, endIP, endSTP, len(cur.results), targetDepth, cur.floor); err != nil {
				return err
			}
			if len(cur.params) != len(cur.results) {
				return Invalidf("if without else must not change the value-type stack shape")
			}
		}
		for _, src := range cur.pendingSources {
			if err := fv.stitch(src, endIP, endSTP, len(cur.results), targetDepth, cur.floor); err != nil {
				return err
			}
		}
		fv.labels = fv.labels[:len(fv.labels)-1]
		fv.stack.truncateTo(cur.floor)
		for _, t := range cur.results {
			fv.stack.push(t)
		}
		return nil

	case wasm.OpcodeBr:
		if err := fv.branchTo(in.LabelIndex); err != nil {
			return err
		}
		cur.unreachable = true
		fv.stack.truncateTo(cur.floor)
		return nil

	case wasm.OpcodeBrIf:
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
			return err
		}
		return fv.branchTo(in.LabelIndex)

	case wasm.OpcodeBrTable:
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
			return err
		}
		for _, l := range in.LabelIndices {
			if err := fv.branchTo(l); err != nil {
				return err
			}
		}
		if err := fv.branchTo(in.LabelDefault); err != nil {
			return err
		}
		cur.unreachable = true
		fv.stack.truncateTo(cur.floor)
		return nil

	case wasm.OpcodeReturn:
		outer := fv.labels[0]
		if err := fv.popOperandsConsuming(outer.results); err != nil {
			return err
		}
		cur.unreachable = true
		fv.stack.truncateTo(cur.floor)
		return nil

	case wasm.OpcodeCall:
		return fv.checkCall(in.FuncIndex)

	case wasm.OpcodeCallIndirect:
		return fv.checkCallIndirect(in)

	case wasm.OpcodeDrop:
		_, err := fv.stack.pop(cur.floor, cur.unreachable)
		return err

	case wasm.OpcodeSelect:
		return fv.checkSelect(nil)

	case wasm.OpcodeSelectT:
		return fv.checkSelect(in.SelectTypes)

	case wasm.OpcodeLocalGet:
		t, err := fv.localType(in.Index)
		if err != nil {
			return err
		}
		fv.stack.push(t)
		return nil

	case wasm.OpcodeLocalSet:
		t, err := fv.localType(in.Index)
		if err != nil {
			return err
		}
		return fv.stack.popExpect(cur.floor, cur.unreachable, t)

	case wasm.OpcodeLocalTee:
		t, err := fv.localType(in.Index)
		if err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, t); err != nil {
			return err
		}
		fv.stack.push(t)
		return nil

	case wasm.OpcodeGlobalGet:
		t, mut, err := fv.globalType(in.Index)
		if err != nil {
			return err
		}
		_ = mut
		fv.stack.push(t)
		return nil

	case wasm.OpcodeGlobalSet:
		t, mut, err := fv.globalType(in.Index)
		if err != nil {
			return err
		}
		if !mut {
			return Invalidf("global.set of an immutable global %d", in.Index)
		}
		return fv.stack.popExpect(cur.floor, cur.unreachable, t)

	case wasm.OpcodeTableGet:
		tt, err := fv.tableType(in.Index)
		if err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
			return err
		}
		fv.stack.push(tt.ElemType)
		return nil

	case wasm.OpcodeTableSet:
		tt, err := fv.tableType(in.Index)
		if err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, tt.ElemType); err != nil {
			return err
		}
		return fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32)

	case wasm.OpcodeI32Const:
		fv.stack.push(wasm.ValueTypeI32)
		return nil
	case wasm.OpcodeI64Const:
		fv.stack.push(wasm.ValueTypeI64)
		return nil
	case wasm.OpcodeF32Const:
		fv.stack.push(wasm.ValueTypeF32)
		return nil
	case wasm.OpcodeF64Const:
		fv.stack.push(wasm.ValueTypeF64)
		return nil

	case wasm.OpcodeRefNull:
		fv.stack.push(in.RefType)
		return nil
	case wasm.OpcodeRefIsNull:
		v, err := fv.stack.pop(cur.floor, cur.unreachable)
		if err != nil {
			return err
		}
		if !v.unknown && !wasm.IsReferenceType(v.t) {
			return Invalidf("ref.is_null of non-reference type %s", v)
		}
		fv.stack.push(wasm.ValueTypeI32)
		return nil
	case wasm.OpcodeRefFunc:
		if int(in.FuncIndex) >= fv.v.m.NumFuncs() {
			return Invalidf("ref.func index %d out of range", in.FuncIndex)
		}
		fv.stack.push(wasm.ValueTypeFuncref)
		return nil

	case wasm.OpcodeMemorySize:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		fv.stack.push(wasm.ValueTypeI32)
		return nil
	case wasm.OpcodeMemoryGrow:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
			return err
		}
		fv.stack.push(wasm.ValueTypeI32)
		return nil
	}

	if in.Opcode >= 0x28 && in.Opcode <= 0x3e {
		return fv.checkMemOp(in)
	}
	if in.Opcode >= 0x45 && in.Opcode <= 0xc4 {
		return fv.checkNumeric(in.Opcode)
	}
	if in.Opcode >= 0x100 {
		return fv.checkBulk(in)
	}
	return Invalidf("unhandled opcode %#x during validation", in.Opcode)
}

// popOperandsConsuming pops and actually discards (not re-pushes) the given
// types, used wherever the instruction's operands really are consumed
// (entering a block, else, end, return).
func (fv *funcValidator) popOperandsConsuming(types []wasm.ValueType) error {
	cur := fv.cur()
	for i := len(types) - 1; i >= 0; i-- {
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fv *funcValidator) localType(idx uint32) (wasm.ValueType, error) {
	if int(idx) >= len(fv.locals) {
		return 0, Invalidf("local index %d out of range", idx)
	}
	return fv.locals[idx], nil
}

func (fv *funcValidator) globalType(idx uint32) (wasm.ValueType, bool, error) {
	m := fv.v.m
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Type != api.ExternTypeGlobal {
			continue
		}
		if n == idx {
			return imp.Global.ValType, imp.Global.Mutable, nil
		}
		n++
	}
	defIdx := idx - n
	if int(defIdx) >= len(m.Globals) {
		return 0, false, Invalidf("global index %d out of range", idx)
	}
	gt := m.Globals[defIdx].Type
	return gt.ValType, gt.Mutable, nil
}

func (fv *funcValidator) tableType(idx uint32) (wasm.TableType, error) {
	m := fv.v.m
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Type != api.ExternTypeTable {
			continue
		}
		if n == idx {
			return imp.Table, nil
		}
		n++
	}
	defIdx := idx - n
	if int(defIdx) >= len(m.Tables) {
		return wasm.TableType{}, Invalidf("table index %d out of range", idx)
	}
	return m.Tables[defIdx], nil
}

func (fv *funcValidator) requireMemory() error {
	if fv.v.numMemories() == 0 {
		return Invalidf("instruction requires a memory, module declares none")
	}
	return nil
}

func (fv *funcValidator) checkCall(funcIdx uint32) error {
	typeIdx, ok := fv.v.m.FuncTypeIndex(funcIdx)
	if !ok {
		return Invalidf("call: function index %d out of range", funcIdx)
	}
	ft := fv.v.m.Types[typeIdx]
	if err := fv.popOperandsConsuming(ft.Params); err != nil {
		return err
	}
	for _, t := range ft.Results {
		fv.stack.push(t)
	}
	return nil
}

func (fv *funcValidator) checkCallIndirect(in wasm.Instr) error {
	if _, err := fv.tableType(in.TableIndex); err != nil {
		return err
	}
	if int(in.TypeIndex) >= len(fv.v.m.Types) {
		return Invalidf("call_indirect: type index %d out of range", in.TypeIndex)
	}
	cur := fv.cur()
	if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
		return err
	}
	ft := fv.v.m.Types[in.TypeIndex]
	if err := fv.popOperandsConsuming(ft.Params); err != nil {
		return err
	}
	for _, t := range ft.Results {
		fv.stack.push(t)
	}
	return nil
}

func (fv *funcValidator) checkSelect(annotated []wasm.ValueType) error {
	cur := fv.cur()
	if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
		return err
	}
	if len(annotated) == 1 {
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, annotated[0]); err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, annotated[0]); err != nil {
			return err
		}
		fv.stack.push(annotated[0])
		return nil
	}
	b, err := fv.stack.pop(cur.floor, cur.unreachable)
	if err != nil {
		return err
	}
	a, err := fv.stack.pop(cur.floor, cur.unreachable)
	if err != nil {
		return err
	}
	if !a.unknown && !b.unknown && a.t != b.t {
		return Invalidf("select operands of different types %s/%s", a, b)
	}
	if a.unknown {
		a = b
	}
	if wasm.IsReferenceType(a.t) && !a.unknown {
		return Invalidf("select without type annotation requires numeric operands")
	}
	fv.stack.push(a.t)
	return nil
}

var memOpWidth = map[wasm.Opcode]wasm.ValueType{
	wasm.OpcodeI32Load: wasm.ValueTypeI32, wasm.OpcodeI32Load8S: wasm.ValueTypeI32, wasm.OpcodeI32Load8U: wasm.ValueTypeI32,
	wasm.OpcodeI32Load16S: wasm.ValueTypeI32, wasm.OpcodeI32Load16U: wasm.ValueTypeI32,
	wasm.OpcodeI64Load: wasm.ValueTypeI64, wasm.OpcodeI64Load8S: wasm.ValueTypeI64, wasm.OpcodeI64Load8U: wasm.ValueTypeI64,
	wasm.OpcodeI64Load16S: wasm.ValueTypeI64, wasm.OpcodeI64Load16U: wasm.ValueTypeI64,
	wasm.OpcodeI64Load32S: wasm.ValueTypeI64, wasm.OpcodeI64Load32U: wasm.ValueTypeI64,
	wasm.OpcodeF32Load: wasm.ValueTypeF32, wasm.OpcodeF64Load: wasm.ValueTypeF64,
	wasm.OpcodeI32Store: wasm.ValueTypeI32, wasm.OpcodeI32Store8: wasm.ValueTypeI32, wasm.OpcodeI32Store16: wasm.ValueTypeI32,
	wasm.OpcodeI64Store: wasm.ValueTypeI64, wasm.OpcodeI64Store8: wasm.ValueTypeI64, wasm.OpcodeI64Store16: wasm.ValueTypeI64, wasm.OpcodeI64Store32: wasm.ValueTypeI64,
	wasm.OpcodeF32Store: wasm.ValueTypeF32, wasm.OpcodeF64Store: wasm.ValueTypeF64,
}

func isMemStore(op wasm.Opcode) bool { return op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32 }

func (fv *funcValidator) checkMemOp(in wasm.Instr) error {
	if err := fv.requireMemory(); err != nil {
		return err
	}
	t, ok := memOpWidth[in.Opcode]
	if !ok {
		return Invalidf("unhandled memory opcode %#x", in.Opcode)
	}
	cur := fv.cur()
	if isMemStore(in.Opcode) {
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, t); err != nil {
			return err
		}
		return fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32)
	}
	if err := fv.stack.popExpect(cur.floor, cur.unreachable, wasm.ValueTypeI32); err != nil {
		return err
	}
	fv.stack.push(t)
	return nil
}
