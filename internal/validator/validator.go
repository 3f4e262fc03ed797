package validator

import (
	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// Mode selects whether Validate builds a fresh side table (Prepare) or
// re-checks one already embedded in the module (Verify), per spec.md §4.2.
type Mode int

const (
	Prepare Mode = iota
	Verify
)

// Result is everything the interpreter needs beyond the raw parsed module:
// the side table and, for each module-defined function, the table index at
// which that function's own entries begin (a Frame's initial
// side-table cursor, spec.md §3 Frame).
type Result struct {
	SideTable *sidetable.Table
	FuncBase  []uint32

	// SourceOffsets[i] is the byte offset, relative to the owning
	// function's body, of the branch source that allocated
	// SideTable.Entries[i]. It is never serialized to the wire (the side
	// table's wire format is the fixed 4-field record spec.md §6
	// describes) — internal/runtime rebuilds an IP-to-entry map from it
	// at instantiation time, in both Prepare and Verify mode, since this
	// pass always re-derives it fresh regardless of whether the side
	// table itself came from the wire or was just computed.
	SourceOffsets []uint32

	// TargetDepths parallels SourceOffsets: TargetDepths[i] is the open
	// label count in effect once entry i's branch lands (see
	// validatorState.targetDepths).
	TargetDepths []uint32
}

// Validate type-checks m and produces (Prepare) or re-checks (Verify) the
// module's side table. Structural section-order and count checks already
// happened in internal/binary; this pass enforces index-bounds, constant
// expression legality, and full instruction typing.
func Validate(m *wasm.Module, features engineconfig.Features, mode Mode) (*Result, error) {
	if mode == Verify && m.SideTable == nil {
		return nil, Invalidf("verify mode requires a module carrying a side table")
	}

	v := &validatorState{m: m, features: features, mode: mode}
	if mode == Verify {
		tbl, ok := m.SideTable.(*sidetable.Table)
		if !ok {
			return nil, Invalidf("side table custom section did not decode to the expected shape")
		}
		v.existing = tbl
	} else {
		v.st = sidetable.New()
	}

	if err := v.checkTypeSection(); err != nil {
		return nil, err
	}
	if err := v.checkImports(); err != nil {
		return nil, err
	}
	if err := v.checkFunctionSection(); err != nil {
		return nil, err
	}
	if err := v.checkMemorySection(); err != nil {
		return nil, err
	}
	if err := v.checkGlobalSection(); err != nil {
		return nil, err
	}
	if err := v.checkExportSection(); err != nil {
		return nil, err
	}
	if err := v.checkStart(); err != nil {
		return nil, err
	}
	if err := v.checkElementSection(); err != nil {
		return nil, err
	}
	if err := v.checkDataSection(); err != nil {
		return nil, err
	}

	v.funcBase = make([]uint32, len(m.Code))
	for i, code := range m.Code {
		typeIdx, ok := m.FuncTypeIndex(uint32(v.numImportedFuncs() + i))
		if !ok || int(typeIdx) >= len(m.Types) {
			return nil, Invalidf("function %d: type index out of range", i)
		}
		ft := m.Types[typeIdx]
		base := v.currentSTP()
		v.funcBase[i] = base
		if err := v.validateFunc(i, code, &ft); err != nil {
			return nil, err
		}
	}

	if mode == Prepare {
		if !v.st.AllPatched() {
			return nil, Unsupportedf("side table has unresolved branch sources after validation")
		}
		return &Result{SideTable: v.st, FuncBase: v.funcBase, SourceOffsets: v.sourceOffsets, TargetDepths: v.targetDepths}, nil
	}
	if v.verifyCursor != len(v.existing.Entries) {
		return nil, Invalidf("side table entry count disagrees with recomputed branch sites")
	}
	return &Result{SideTable: v.existing, FuncBase: v.funcBase, SourceOffsets: v.sourceOffsets, TargetDepths: v.targetDepths}, nil
}

// validatorState threads shared bookkeeping across the module-level and
// per-function checks.
type validatorState struct {
	m        *wasm.Module
	features engineconfig.Features
	mode     Mode

	st       *sidetable.Table // Prepare mode: table under construction
	existing *sidetable.Table // Verify mode: table being re-checked
	verifyCursor int          // Verify mode: next expected entry index

	refFuncs map[uint32]bool // func indices seen in a ref.func const-expr, eligible for declared elements
	funcBase []uint32

	// sourceOffsets[i] is the function-body-relative byte offset recorded
	// when allocSource() allocated entry i; both modes append to it in
	// lockstep with entry allocation, so its index always lines up with
	// the entry it describes regardless of mode.
	sourceOffsets []uint32

	// targetDepths[i] is the control-stack depth (count of still-open
	// block/loop/if labels, the target's own label included) in effect
	// once entry i's branch lands. The wire-format Entry carries only
	// delta_ip/delta_stp/val_count/pop_count, so this never round-trips
	// through Encode/Decode; internal/runtime uses it to know how many of
	// its own open labels to discard on a taken branch, without needing a
	// live side-table cursor register at run time.
	targetDepths []uint32
}

func (v *validatorState) currentSTP() uint32 {
	if v.mode == Prepare {
		return uint32(len(v.st.Entries))
	}
	return uint32(v.verifyCursor)
}

func (v *validatorState) numImportedFuncs() int { return v.m.ImportCount(api.ExternTypeFunc) }
func (v *validatorState) numTables() int {
	return v.m.ImportCount(api.ExternTypeTable) + len(v.m.Tables)
}
func (v *validatorState) numMemories() int {
	return v.m.ImportCount(api.ExternTypeMemory) + len(v.m.Memories)
}
func (v *validatorState) numGlobals() int {
	return v.m.ImportCount(api.ExternTypeGlobal) + len(v.m.Globals)
}

func (v *validatorState) checkTypeSection() error {
	for i, ft := range v.m.Types {
		if len(ft.Results) > 1 && !v.features.MultiValue {
			return Unsupportedf("type %d: multi-value results", i)
		}
	}
	return nil
}

func (v *validatorState) checkImports() error {
	for i, imp := range v.m.Imports {
		switch imp.Type {
		case api.ExternTypeFunc:
			if int(imp.FuncTypeIndex) >= len(v.m.Types) {
				return Invalidf("import %d (%s.%s): type index out of range", i, imp.Module, imp.Name)
			}
		case api.ExternTypeGlobal:
			if wasm.IsReferenceType(imp.Global.ValType) && !v.features.ReferenceTypes {
				return Unsupportedf("import %d: reference-typed global", i)
			}
		}
	}
	return nil
}

func (v *validatorState) checkFunctionSection() error {
	for i, typeIdx := range v.m.FuncTypeIndices {
		if int(typeIdx) >= len(v.m.Types) {
			return Invalidf("function %d: type index %d out of range", i, typeIdx)
		}
	}
	return nil
}

func (v *validatorState) checkMemorySection() error {
	if v.numMemories() > 1 {
		return Invalidf("at most one memory is supported (found %d)", v.numMemories())
	}
	return nil
}

func (v *validatorState) checkGlobalSection() error {
	importedGlobals := v.m.ImportCount(api.ExternTypeGlobal)
	v.refFuncs = map[uint32]bool{}
	for i, g := range v.m.Globals {
		if err := v.checkConstExpr(g.Init, g.Type.ValType, importedGlobals); err != nil {
			return Invalidf("global %d initializer: %v", i, err)
		}
	}
	return nil
}

// checkConstExpr validates a constant expression's single opcode against
// spec.md §4.2's restricted grammar: *.const, ref.null, ref.func, or
// global.get of an earlier-index immutable imported global (importedGlobals
// bounds which global.get indices are legal here).
func (v *validatorState) checkConstExpr(ce wasm.ConstExpr, want wasm.ValueType, importedGlobals int) error {
	in := ce.Instr
	switch in.Opcode {
	case wasm.OpcodeI32Const:
		if want != wasm.ValueTypeI32 {
			return Invalidf("const expr produces i32, want %s", wasm.ValueTypeName(want))
		}
	case wasm.OpcodeI64Const:
		if want != wasm.ValueTypeI64 {
			return Invalidf("const expr produces i64, want %s", wasm.ValueTypeName(want))
		}
	case wasm.OpcodeF32Const:
		if want != wasm.ValueTypeF32 {
			return Invalidf("const expr produces f32, want %s", wasm.ValueTypeName(want))
		}
	case wasm.OpcodeF64Const:
		if want != wasm.ValueTypeF64 {
			return Invalidf("const expr produces f64, want %s", wasm.ValueTypeName(want))
		}
	case wasm.OpcodeRefNull:
		if in.RefType != want {
			return Invalidf("ref.null %s in const expr, want %s", wasm.ValueTypeName(in.RefType), wasm.ValueTypeName(want))
		}
	case wasm.OpcodeRefFunc:
		if want != wasm.ValueTypeFuncref {
			return Invalidf("ref.func in const expr, want %s", wasm.ValueTypeName(want))
		}
		if int(in.FuncIndex) >= v.m.NumFuncs() {
			return Invalidf("ref.func index %d out of range", in.FuncIndex)
		}
		if v.refFuncs != nil {
			v.refFuncs[in.FuncIndex] = true
		}
	case wasm.OpcodeGlobalGet:
		if int(in.Index) >= importedGlobals {
			return Invalidf("global.get in const expr must reference an earlier imported global")
		}
		gt := v.m.Imports[v.globalImportOrdinal(in.Index)].Global
		if gt.Mutable {
			return Invalidf("global.get in const expr must reference an immutable global")
		}
		if gt.ValType != want {
			return Invalidf("global.get type %s in const expr, want %s", wasm.ValueTypeName(gt.ValType), wasm.ValueTypeName(want))
		}
	default:
		return Invalidf("opcode %#x is not legal in a constant expression", in.Opcode)
	}
	return nil
}

// globalImportOrdinal maps a global index (0-based among imported globals)
// back to its slot in m.Imports.
func (v *validatorState) globalImportOrdinal(globalIdx uint32) int {
	n := uint32(0)
	for i, imp := range v.m.Imports {
		if imp.Type != api.ExternTypeGlobal {
			continue
		}
		if n == globalIdx {
			return i
		}
		n++
	}
	return -1
}

func (v *validatorState) checkExportSection() error {
	for i, e := range v.m.Exports {
		var max int
		switch e.Type {
		case api.ExternTypeFunc:
			max = v.m.NumFuncs()
		case api.ExternTypeTable:
			max = v.numTables()
		case api.ExternTypeMemory:
			max = v.numMemories()
		case api.ExternTypeGlobal:
			max = v.numGlobals()
		default:
			return Invalidf("export %d: invalid extern type %#x", i, e.Type)
		}
		if int(e.Index) >= max {
			return Invalidf("export %d (%q): index %d out of range", i, e.Name, e.Index)
		}
	}
	return nil
}

func (v *validatorState) checkStart() error {
	if v.m.StartFuncIndex == nil {
		return nil
	}
	idx := *v.m.StartFuncIndex
	if int(idx) >= v.m.NumFuncs() {
		return Invalidf("start function index %d out of range", idx)
	}
	typeIdx, _ := v.m.FuncTypeIndex(idx)
	ft := v.m.Types[typeIdx]
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return Invalidf("start function must have signature () -> ()")
	}
	return nil
}

func (v *validatorState) checkElementSection() error {
	for i, seg := range v.m.Elements {
		if seg.Mode != wasm.ElementModeActive {
			if !v.features.BulkMemory {
				return Unsupportedf("element %d: passive/declarative segments", i)
			}
		} else {
			if int(seg.TableIndex) >= v.numTables() {
				return Invalidf("element %d: table index %d out of range", i, seg.TableIndex)
			}
			if err := v.checkConstExpr(seg.Offset, wasm.ValueTypeI32, v.m.ImportCount(api.ExternTypeGlobal)); err != nil {
				return Invalidf("element %d offset: %v", i, err)
			}
		}
		if seg.IsFuncIndices {
			for _, fi := range seg.Init {
				if int(fi) >= v.m.NumFuncs() {
					return Invalidf("element %d: function index %d out of range", i, fi)
				}
			}
			continue
		}
		for j, ce := range seg.InitExpr {
			if err := v.checkConstExpr(ce, seg.Type, v.m.ImportCount(api.ExternTypeGlobal)); err != nil {
				return Invalidf("element %d entry %d: %v", i, j, err)
			}
		}
	}
	return nil
}

func (v *validatorState) checkDataSection() error {
	for i, seg := range v.m.Datas {
		if seg.Mode == wasm.DataModePassive {
			if !v.features.BulkMemory {
				return Unsupportedf("data %d: passive segment", i)
			}
			continue
		}
		if v.numMemories() == 0 {
			return Invalidf("data %d: active segment requires a memory", i)
		}
		if err := v.checkConstExpr(seg.Offset, wasm.ValueTypeI32, v.m.ImportCount(api.ExternTypeGlobal)); err != nil {
			return Invalidf("data %d offset: %v", i, err)
		}
	}
	return nil
}
