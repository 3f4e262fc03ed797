package runtime

import (
	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
	"github.com/sandboxwasm/wasmcore/internal/validator"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// InstID identifies an instance within a Store. It is a bare index into
// Store.instances, validated against the owning store's id on every use
// (spec.md §9 "model with integer handles into an arena").
type InstID uint32

// Instance is one instantiation of a module inside a Store (spec.md §3
// Instance). Funcs resolves a combined function index to a fully-packed
// FuncPtr pointing either at this store's host function table or at a
// module-defined function of (possibly) another instance; Tables/Memory/
// Globals own the live mutable state directly (imports are followed
// through Ext, so only Int entries are ever locally owned).
type Instance struct {
	id InstID

	StoreID  uint32
	Name     string
	Module   *wasm.Module
	Features engineconfig.Features
	SideTable    *sidetable.Table
	FuncBase     []uint32 // per-defined-function side-table base, from validator.Result
	TargetDepths []uint32 // parallel to SideTable.Entries; see validator.Result.TargetDepths

	Funcs   Component[FuncPtr]
	Tables  Component[*Table]
	Memory  Component[*Memory] // at most one entry total (spec.md §3)
	Globals Component[*Global]

	elemDropped []bool
	dataDropped []bool

	// elemValues holds, for each element segment, its materialised
	// reference values (funcref/externref lanes), used by table.init.
	elemValues [][]Val

	// branchIndexes[i] resolves branch sites within module-defined
	// function i; built once from validator.Result at instantiation.
	branchIndexes []branchIndex
}

// NewInstance wires a parsed module's validator.Result into a fresh
// Instance's branch-resolution tables. Everything else (Funcs/Tables/
// Memory/Globals/elemValues) is populated by Store.Instantiate once imports
// are resolved.
func NewInstance(storeID uint32, m *wasm.Module, features engineconfig.Features, res *validator.Result) *Instance {
	inst := &Instance{
		StoreID:   storeID,
		Module:    m,
		Features:  features,
		SideTable:    res.SideTable,
		FuncBase:     res.FuncBase,
		TargetDepths: res.TargetDepths,

		elemDropped:   make([]bool, len(m.Elements)),
		dataDropped:   make([]bool, len(m.Datas)),
		branchIndexes: make([]branchIndex, len(m.Code)),
	}
	for i := range m.Code {
		base := res.FuncBase[i]
		limit := uint32(len(res.SideTable.Entries))
		if i+1 < len(m.Code) {
			limit = res.FuncBase[i+1]
		}
		inst.branchIndexes[i] = buildBranchIndex(res, base, limit)
	}
	return inst
}

// id is filled in by Store.Instantiate once the instance is registered.
// (Kept separate from NewInstance's constructor args since the store
// assigns the id only after construction succeeds.)
func (inst *Instance) setID(id InstID) { inst.id = id }

// NumImportedFuncs returns how many of this module's function indices are
// imports (combined indices below this count resolve through Funcs.Ext).
func (inst *Instance) NumImportedFuncs() int { return inst.Module.ImportCount(0) }

// BuildFrame constructs a fresh activation for the module-defined function
// at defIdx (0-based among non-imported functions), seeding its locals with
// args followed by zero-valued declared locals (spec.md §3 Frame).
func (inst *Instance) BuildFrame(defIdx int, args []Val) (*Frame, error) {
	if defIdx < 0 || defIdx >= len(inst.Module.Code) {
		return nil, api.NewTrap("function index %d out of range", defIdx)
	}
	code := inst.Module.Code[defIdx]
	ft, ok := inst.FuncType(uint32(inst.NumImportedFuncs() + defIdx))
	if !ok {
		return nil, api.NewTrap("function %d: missing type", defIdx)
	}
	locals := make([]Val, 0, len(args)+len(code.LocalTypes))
	locals = append(locals, args...)
	for _, t := range code.LocalTypes {
		if wasm.IsReferenceType(t) {
			locals = append(locals, typedNull(t))
		} else {
			locals = append(locals, 0)
		}
	}
	f := newFrame(inst.id, uint32(defIdx), code.Body, inst.branchIndexes[defIdx], locals, len(ft.Results))
	return f, nil
}

// FuncType resolves the signature of the function at combined index idx.
func (inst *Instance) FuncType(idx uint32) (wasm.FuncType, bool) {
	typeIdx, ok := inst.Module.FuncTypeIndex(idx)
	if !ok {
		return wasm.FuncType{}, false
	}
	if int(typeIdx) >= len(inst.Module.Types) {
		return wasm.FuncType{}, false
	}
	return inst.Module.Types[typeIdx], true
}

// Code returns the function body for a module-defined (non-imported)
// combined index idx, or ok=false if idx is an import.
func (inst *Instance) Code(idx uint32) (wasm.Code, uint32, bool) {
	numImported := inst.Module.ImportCount(0) // ExternTypeFunc == 0
	if int(idx) < numImported {
		return wasm.Code{}, 0, false
	}
	defIdx := int(idx) - numImported
	if defIdx >= len(inst.Module.Code) {
		return wasm.Code{}, 0, false
	}
	return inst.Module.Code[defIdx], inst.FuncBase[defIdx], true
}

// ElemDropped reports whether element segment i has been dropped.
func (inst *Instance) ElemDropped(i uint32) bool { return inst.elemDropped[i] }

// DropElem marks element segment i dropped.
func (inst *Instance) DropElem(i uint32) { inst.elemDropped[i] = true }

// DataDropped reports whether data segment i has been dropped.
func (inst *Instance) DataDropped(i uint32) bool { return inst.dataDropped[i] }

// DropData marks data segment i dropped.
func (inst *Instance) DropData(i uint32) { inst.dataDropped[i] = true }

// ElemValues returns element segment i's materialised reference values, or
// an empty slice if it has been dropped.
func (inst *Instance) ElemValues(i uint32) []Val {
	if inst.elemDropped[i] {
		return nil
	}
	return inst.elemValues[i]
}
