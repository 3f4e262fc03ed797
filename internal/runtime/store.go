package runtime

import (
	"fmt"
	"sync/atomic"

	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/validator"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

var storeIDCounter uint32

// hostFuncEntry is one registered host function, sorted by (Module, Name)
// in the order link_func calls arrive (spec.md §4.3: "append to a sorted
// sequence... a later lookup uses binary search").
type hostFuncEntry struct {
	Module, Name string
	Type         wasm.FuncType
}

// Store owns a set of instances and the host function table they link
// against (spec.md §3 Store). Store ids are unique per process; every
// InstID is checked against its owning store on use.
type Store struct {
	id        uint32
	instances []*Instance

	hostFuncs []hostFuncEntry

	hasDefaultHost    bool
	defaultHostModule string
	defaultHostBase   int // len(hostFuncs) captured when link_func_default was called
	defaultSlots      map[string]uint32
}

// NewStore draws a fresh store id.
func NewStore() *Store {
	return &Store{id: atomic.AddUint32(&storeIDCounter, 1)}
}

// ID returns this store's unique id.
func (s *Store) ID() uint32 { return s.id }

func cmpModName(m1, n1, m2, n2 string) int {
	if m1 != m2 {
		if m1 < m2 {
			return -1
		}
		return 1
	}
	switch {
	case n1 < n2:
		return -1
	case n1 > n2:
		return 1
	default:
		return 0
	}
}

// LinkFunc registers a host function import by a plain params/results
// signature. Registrations must be made before any instantiate call and
// must strictly increase in (module, name) order.
func (s *Store) LinkFunc(module, name string, params, results []wasm.ValueType) error {
	return s.LinkFuncCustom(module, name, wasm.FuncType{Params: params, Results: results})
}

// LinkFuncCustom registers a host function import with a full signature.
func (s *Store) LinkFuncCustom(module, name string, ft wasm.FuncType) error {
	if n := len(s.hostFuncs); n > 0 {
		last := s.hostFuncs[n-1]
		if cmpModName(module, name, last.Module, last.Name) <= 0 {
			return fmt.Errorf("link_func: registrations must strictly increase in (module,name) order, got (%s,%s) after (%s,%s)", module, name, last.Module, last.Name)
		}
	}
	s.hostFuncs = append(s.hostFuncs, hostFuncEntry{Module: module, Name: name, Type: ft})
	return nil
}

// LinkFuncDefault enables the named module's fallback policy: any later
// unresolved import from this module returning exactly one i32 is lazily
// materialised as a new host function, deduplicated by exact signature
// (spec.md §4.3).
func (s *Store) LinkFuncDefault(module string) {
	s.hasDefaultHost = true
	s.defaultHostModule = module
	s.defaultHostBase = len(s.hostFuncs)
	s.defaultSlots = make(map[string]uint32)
}

func (s *Store) findHostFunc(module, name string, limit int) (int, bool) {
	lo, hi := 0, limit
	for lo < hi {
		mid := (lo + hi) / 2
		if cmpModName(s.hostFuncs[mid].Module, s.hostFuncs[mid].Name, module, name) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < limit && s.hostFuncs[lo].Module == module && s.hostFuncs[lo].Name == name {
		return lo, true
	}
	return 0, false
}

func sigKey(ft wasm.FuncType) string {
	b := make([]byte, 0, len(ft.Params)+len(ft.Results)+1)
	b = append(b, ft.Params...)
	b = append(b, 0xff)
	b = append(b, ft.Results...)
	return string(b)
}

func limitsFit(curSize uint32, curMax *uint32, want wasm.Limits) bool {
	if curSize < want.Min {
		return false
	}
	if want.Max != nil {
		if curMax == nil || *curMax > *want.Max {
			return false
		}
	}
	return true
}

func (s *Store) findExportingInstance(module, name string, t api.ExternType) (*Instance, wasm.Export, bool) {
	for _, inst := range s.instances {
		if inst.Name != module {
			continue
		}
		for _, exp := range inst.Module.Exports {
			if exp.Name == name && exp.Type == t {
				return inst, exp, true
			}
		}
	}
	return nil, wasm.Export{}, false
}

// resolveFuncImport implements spec.md §4.3's three-step import resolution
// for a function import: registered host functions (binary search), the
// default-host lazy-materialisation policy, then cross-instance exports.
func (s *Store) resolveFuncImport(imp wasm.Import, ft wasm.FuncType) (FuncPtr, error) {
	limit := len(s.hostFuncs)
	if s.hasDefaultHost {
		limit = s.defaultHostBase
	}
	if idx, ok := s.findHostFunc(imp.Module, imp.Name, limit); ok {
		if !s.hostFuncs[idx].Type.Equal(&ft) {
			return 0, fmt.Errorf("%w: %s.%s signature mismatch", api.ErrNotFound, imp.Module, imp.Name)
		}
		return HostFuncPtr(uint32(idx))
	}
	if s.hasDefaultHost && imp.Module == s.defaultHostModule && len(ft.Results) == 1 && ft.Results[0] == wasm.ValueTypeI32 {
		key := sigKey(ft)
		if idx, ok := s.defaultSlots[key]; ok {
			return HostFuncPtr(idx)
		}
		idx := uint32(len(s.hostFuncs))
		s.hostFuncs = append(s.hostFuncs, hostFuncEntry{Module: imp.Module, Name: imp.Name, Type: ft})
		s.defaultSlots[key] = idx
		return HostFuncPtr(idx)
	}
	exporter, exp, ok := s.findExportingInstance(imp.Module, imp.Name, api.ExternTypeFunc)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", api.ErrNotFound, imp.Module, imp.Name)
	}
	got, ok := exporter.FuncType(exp.Index)
	if !ok || !got.Equal(&ft) {
		return 0, fmt.Errorf("%w: %s.%s signature mismatch", api.ErrNotFound, imp.Module, imp.Name)
	}
	ptr, ok := exporter.Funcs.At(exp.Index)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s unresolved export", api.ErrNotFound, imp.Module, imp.Name)
	}
	return ptr, nil
}

func (s *Store) resolveTableImport(imp wasm.Import) (*Table, error) {
	exporter, exp, ok := s.findExportingInstance(imp.Module, imp.Name, api.ExternTypeTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", api.ErrNotFound, imp.Module, imp.Name)
	}
	tbl, ok := exporter.Tables.At(exp.Index)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s unresolved export", api.ErrNotFound, imp.Module, imp.Name)
	}
	if tbl.ElemType != imp.Table.ElemType {
		return nil, fmt.Errorf("%w: %s.%s element type mismatch", api.ErrNotFound, imp.Module, imp.Name)
	}
	if !limitsFit(tbl.Size(), tbl.Max, imp.Table.Limits) {
		return nil, fmt.Errorf("%w: %s.%s limits mismatch", api.ErrNotFound, imp.Module, imp.Name)
	}
	return tbl, nil
}

func (s *Store) resolveMemoryImport(imp wasm.Import) (*Memory, error) {
	exporter, exp, ok := s.findExportingInstance(imp.Module, imp.Name, api.ExternTypeMemory)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", api.ErrNotFound, imp.Module, imp.Name)
	}
	mem, ok := exporter.Memory.At(exp.Index)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s unresolved export", api.ErrNotFound, imp.Module, imp.Name)
	}
	if !limitsFit(mem.Size, mem.Max, imp.Memory.Limits) {
		return nil, fmt.Errorf("%w: %s.%s limits mismatch", api.ErrNotFound, imp.Module, imp.Name)
	}
	return mem, nil
}

func (s *Store) resolveGlobalImport(imp wasm.Import) (*Global, error) {
	exporter, exp, ok := s.findExportingInstance(imp.Module, imp.Name, api.ExternTypeGlobal)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", api.ErrNotFound, imp.Module, imp.Name)
	}
	g, ok := exporter.Globals.At(exp.Index)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s unresolved export", api.ErrNotFound, imp.Module, imp.Name)
	}
	if g.Type != imp.Global.ValType || g.Mutable != imp.Global.Mutable {
		return nil, fmt.Errorf("%w: %s.%s type mismatch", api.ErrNotFound, imp.Module, imp.Name)
	}
	return g, nil
}

// funcPtrType resolves the static signature of a packed function pointer,
// whether it targets a host function or a module-defined one, for
// call_indirect's type check.
func (s *Store) funcPtrType(ptr FuncPtr) (wasm.FuncType, bool) {
	if ptr.IsHost() {
		idx := ptr.Index()
		if int(idx) >= len(s.hostFuncs) {
			return wasm.FuncType{}, false
		}
		return s.hostFuncs[idx].Type, true
	}
	inst := s.instance(ptr.WasmInstID())
	if inst == nil {
		return wasm.FuncType{}, false
	}
	combined := uint32(inst.NumImportedFuncs()) + ptr.Index()
	return inst.FuncType(combined)
}

// instance resolves id against this store, returning nil if it belongs to
// another store or is out of range.
func (s *Store) instance(id InstID) *Instance {
	if int(id) >= len(s.instances) {
		return nil
	}
	inst := s.instances[id]
	if inst.StoreID != s.id {
		return nil
	}
	return inst
}

// mustInstance panics if id does not resolve: every InstID the engine ever
// hands out or stores internally (Frame.InstID, Call.instID) is expected to
// remain valid for the lifetime of its Store, so a failure here means an
// internal bookkeeping bug, not a user-facing fault.
func (s *Store) mustInstance(id InstID) *Instance {
	inst := s.instance(id)
	if inst == nil {
		panic("wasmcore: invalid instance handle")
	}
	return inst
}

// SetName assigns the name other modules' imports resolve against.
func (s *Store) SetName(id InstID, name string) {
	if inst := s.instance(id); inst != nil {
		inst.Name = name
	}
}

func findExport(m *wasm.Module, name string, t api.ExternType) (wasm.Export, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name && exp.Type == t {
			return exp, true
		}
	}
	return wasm.Export{}, false
}

// Instantiate allocates a fresh Instance, resolves its imports, initialises
// tables/memory/globals/element/data segments, and runs the start function
// if present (spec.md §4.3). On any failure the reserved instance slot is
// dropped so ids stay append-only only for instances that actually succeed.
func (s *Store) Instantiate(m *wasm.Module, memoryBacking []byte, features engineconfig.Features, res *validator.Result) (InstID, error) {
	inst := NewInstance(s.id, m, features, res)
	id := InstID(len(s.instances))
	inst.setID(id)
	s.instances = append(s.instances, inst)

	if err := s.populateInstance(inst, m, memoryBacking); err != nil {
		s.instances = s.instances[:id]
		return 0, err
	}
	return id, nil
}

func (s *Store) populateInstance(inst *Instance, m *wasm.Module, memoryBacking []byte) error {
	for _, imp := range m.Imports {
		switch imp.Type {
		case api.ExternTypeFunc:
			ft := m.Types[imp.FuncTypeIndex]
			ptr, err := s.resolveFuncImport(imp, ft)
			if err != nil {
				return err
			}
			inst.Funcs.Ext = append(inst.Funcs.Ext, ptr)
		case api.ExternTypeTable:
			tbl, err := s.resolveTableImport(imp)
			if err != nil {
				return err
			}
			inst.Tables.Ext = append(inst.Tables.Ext, tbl)
		case api.ExternTypeMemory:
			mem, err := s.resolveMemoryImport(imp)
			if err != nil {
				return err
			}
			inst.Memory.Ext = append(inst.Memory.Ext, mem)
		case api.ExternTypeGlobal:
			g, err := s.resolveGlobalImport(imp)
			if err != nil {
				return err
			}
			inst.Globals.Ext = append(inst.Globals.Ext, g)
		}
	}

	for _, tt := range m.Tables {
		inst.Tables.Int = append(inst.Tables.Int, NewTable(tt.ElemType, tt.Limits.Min, tt.Limits.Max))
	}
	for _, mt := range m.Memories {
		mem, err := NewMemory(memoryBacking, mt.Limits.Min, mt.Limits.Max)
		if err != nil {
			return err
		}
		inst.Memory.Int = append(inst.Memory.Int, mem)
	}
	for _, ge := range m.Globals {
		v, err := s.evalConstExpr(inst, ge.Init)
		if err != nil {
			return err
		}
		inst.Globals.Int = append(inst.Globals.Int, &Global{Type: ge.Type.ValType, Mutable: ge.Type.Mutable, Value: v})
	}
	for i := range m.Code {
		ptr, err := WasmFuncPtr(inst.id, uint32(i))
		if err != nil {
			return err
		}
		inst.Funcs.Int = append(inst.Funcs.Int, ptr)
	}

	inst.elemValues = make([][]Val, len(m.Elements))
	for i, seg := range m.Elements {
		vals, err := s.materialiseElem(inst, seg)
		if err != nil {
			return err
		}
		inst.elemValues[i] = vals
		switch seg.Mode {
		case wasm.ElementModeDeclarative:
			inst.elemDropped[i] = true
		case wasm.ElementModeActive:
			off, err := s.evalConstExpr(inst, seg.Offset)
			if err != nil {
				return err
			}
			tbl, ok := inst.Tables.At(seg.TableIndex)
			if !ok {
				return api.NewTrap("element segment %d: table %d out of range", i, seg.TableIndex)
			}
			if err := tbl.Init(uint32(off), vals, 0, uint32(len(vals))); err != nil {
				return err
			}
			inst.elemDropped[i] = true
		}
	}

	for i, seg := range m.Datas {
		if seg.Mode == wasm.DataModeActive {
			off, err := s.evalConstExpr(inst, seg.Offset)
			if err != nil {
				return err
			}
			mem, ok := inst.Memory.At(0)
			if !ok {
				return api.NewTrap("data segment %d: module declares no memory", i)
			}
			if err := mem.Init(uint32(off), seg.Init, 0, uint32(len(seg.Init))); err != nil {
				return err
			}
			inst.dataDropped[i] = true
		}
	}

	if m.StartFuncIndex != nil {
		if err := s.invokeStart(inst, *m.StartFuncIndex); err != nil {
			return err
		}
	}
	return nil
}

// evalConstExpr runs the small constant-expression subset the parser
// already decoded eagerly into a single wasm.Instr (spec.md §4.2): it never
// needs a real Thread since the instruction set is restricted to *.const,
// ref.null, ref.func, and global.get of a previously-resolved global.
func (s *Store) evalConstExpr(inst *Instance, ce wasm.ConstExpr) (Val, error) {
	in := ce.Instr
	switch in.Opcode {
	case wasm.OpcodeI32Const:
		return api.EncodeI32(in.I32), nil
	case wasm.OpcodeI64Const:
		return api.EncodeI64(in.I64), nil
	case wasm.OpcodeF32Const:
		return api.EncodeF32(in.F32), nil
	case wasm.OpcodeF64Const:
		return api.EncodeF64(in.F64), nil
	case wasm.OpcodeRefNull:
		return typedNull(in.RefType), nil
	case wasm.OpcodeRefFunc:
		ptr, ok := inst.Funcs.At(in.FuncIndex)
		if !ok {
			return 0, api.NewTrap("ref.func: index %d out of range", in.FuncIndex)
		}
		return EncodeFuncPtr(ptr), nil
	case wasm.OpcodeGlobalGet:
		g, ok := inst.Globals.At(in.Index)
		if !ok {
			return 0, api.NewTrap("global.get: index %d out of range", in.Index)
		}
		return g.Value, nil
	}
	return 0, api.NewTrap("unsupported constant expression opcode %#x", in.Opcode)
}

func (s *Store) materialiseElem(inst *Instance, seg wasm.ElementSegment) ([]Val, error) {
	if seg.IsFuncIndices {
		vals := make([]Val, len(seg.Init))
		for i, fi := range seg.Init {
			ptr, ok := inst.Funcs.At(fi)
			if !ok {
				return nil, api.NewTrap("element segment: func index %d out of range", fi)
			}
			vals[i] = EncodeFuncPtr(ptr)
		}
		return vals, nil
	}
	vals := make([]Val, len(seg.InitExpr))
	for i, ce := range seg.InitExpr {
		v, err := s.evalConstExpr(inst, ce)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (s *Store) invokeStart(inst *Instance, idx uint32) error {
	ptr, ok := inst.Funcs.At(idx)
	if !ok {
		return api.NewTrap("start function index %d out of range", idx)
	}
	th := &Thread{store: s}
	res, err := th.invoke(inst.id, ptr, nil, 0)
	if err != nil {
		return err
	}
	if !res.Done {
		return api.NewTrap("start function suspended on a host call, which instantiate cannot resume")
	}
	return nil
}

// Invoke looks up an exported function, type-checks args, and drives a
// fresh Thread to completion or host suspension (spec.md §4.3 invoke).
func (s *Store) Invoke(id InstID, name string, args []Val) (RunResult, error) {
	inst := s.instance(id)
	if inst == nil {
		return RunResult{}, api.NewTrap("invalid instance handle")
	}
	exp, ok := findExport(inst.Module, name, api.ExternTypeFunc)
	if !ok {
		return RunResult{}, api.NewTrap("export %q not found", name)
	}
	ft, ok := inst.FuncType(exp.Index)
	if !ok {
		return RunResult{}, api.NewTrap("export %q: missing type", name)
	}
	if len(args) != len(ft.Params) {
		return RunResult{}, api.NewTrap("export %q: got %d args, want %d", name, len(args), len(ft.Params))
	}
	ptr, ok := inst.Funcs.At(exp.Index)
	if !ok {
		return RunResult{}, api.NewTrap("export %q: function index out of range", name)
	}
	th := &Thread{store: s}
	return th.invoke(id, ptr, args, len(ft.Results))
}

// GetGlobal reads an exported global's current value by name.
func (s *Store) GetGlobal(id InstID, name string) (Val, bool) {
	inst := s.instance(id)
	if inst == nil {
		return 0, false
	}
	exp, ok := findExport(inst.Module, name, api.ExternTypeGlobal)
	if !ok {
		return 0, false
	}
	g, ok := inst.Globals.At(exp.Index)
	if !ok {
		return 0, false
	}
	return g.Value, true
}

// Memory returns the addressable bytes of an instance's memory, if it
// declares one.
func (s *Store) Memory(id InstID) ([]byte, bool) {
	inst := s.instance(id)
	if inst == nil {
		return nil, false
	}
	mem, ok := inst.Memory.At(0)
	if !ok {
		return nil, false
	}
	return mem.Bytes(), true
}
