// Package wasmcore is the public entry point to the engine (spec.md §6
// Engine API). It is a thin wrapper over internal/binary, internal/validator
// and internal/runtime: Module owns validated bytes and their side table,
// Store owns instances and registered host functions, Call is the
// suspended-thread handle an embedder drives across a host function call.
package wasmcore

import (
	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/binary"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/runtime"
	"github.com/sandboxwasm/wasmcore/internal/telemetry"
	"github.com/sandboxwasm/wasmcore/internal/validator"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// Features re-exports the engine's feature-flag configuration so callers
// never need to import internal/engineconfig directly.
type Features = engineconfig.Features

// DefaultFeatures, AllFeatures and MinimalFeatures mirror
// internal/engineconfig's constructors.
func DefaultFeatures() Features { return engineconfig.Default() }
func AllFeatures() Features     { return engineconfig.All() }
func MinimalFeatures() Features { return engineconfig.Minimal() }

// FuncType is a function's parameter/result shape, re-exported from api.
type FuncType = api.FuncType

// Val is one lane of the interpreter's value stack: an i32/i64/f32/f64/ref
// bit pattern, untyped on its own (spec.md §3 Value types).
type Val = runtime.Val

// Module wraps a parsed and validated Wasm binary plus its side table
// (spec.md §2 "A Module value wraps the validated bytes").
type Module struct {
	raw      *wasm.Module
	res      *validator.Result
	features Features
}

// Prepare parses data and validates it in Prepare mode, building a fresh
// side table (spec.md §4.2 Prepare).
func Prepare(data []byte, features Features) (*Module, error) {
	m, err := binary.DecodeModule(data, features)
	if err != nil {
		return nil, err
	}
	res, err := validator.Validate(m, features, validator.Prepare)
	if err != nil {
		return nil, err
	}
	return &Module{raw: m, res: res, features: features}, nil
}

// Verify parses data — which must already embed a `wasefire-sidetable`
// custom section — and re-validates it in Verify mode, confirming the
// embedded side table against the recomputed one (spec.md §4.2 Verify).
func Verify(data []byte, features Features) (*Module, error) {
	m, err := binary.DecodeModule(data, features)
	if err != nil {
		return nil, err
	}
	res, err := validator.Validate(m, features, validator.Verify)
	if err != nil {
		return nil, err
	}
	return &Module{raw: m, res: res, features: features}, nil
}

// Merge re-emits binary with this module's side table spliced in as a
// custom section immediately after the header (spec.md §6 `merge`).
func (m *Module) Merge(binaryBytes []byte) ([]byte, error) {
	return binary.Merge(binaryBytes, m.res.SideTable)
}

// Store is a collection of instances and registered host functions sharing
// a lifetime (spec.md §3 Store, §4.3).
type Store struct {
	s   *runtime.Store
	log telemetry.Logger
}

// StoreOption configures a Store at construction time.
type StoreOption func(*Store)

// WithLogger attaches a structured logger used for instantiate/invoke/trap
// diagnostics (spec.md §7 "logging is a separate collaborator").
func WithLogger(l telemetry.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore draws a fresh store ID and returns an empty Store (spec.md §6
// `new_store`).
func NewStore(opts ...StoreOption) *Store {
	s := &Store{s: runtime.NewStore(), log: telemetry.New(nil)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the store's process-unique identifier (spec.md §6 `store.id`).
func (s *Store) ID() uint32 { return s.s.ID() }

// LinkFunc registers a host function by its plain i32/i64/f32/f64 parameter
// and result lists, before any instantiation (spec.md §6 `link_func`).
func (s *Store) LinkFunc(module, name string, params, results []api.ValueType) error {
	return s.s.LinkFunc(module, name, params, results)
}

// LinkFuncCustom registers a host function by an explicit FuncType,
// allowing reference-typed parameters/results (spec.md §6
// `link_func_custom`).
func (s *Store) LinkFuncCustom(module, name string, ft FuncType) error {
	return s.s.LinkFuncCustom(module, name, wasm.FuncType{Params: ft.Params, Results: ft.Results})
}

// LinkFuncDefault enables the lazily-materialised fallback policy for
// module: any unresolved single-i32-result import from that module becomes
// a deduplicated default host function (spec.md §4.3 `link_func_default`).
func (s *Store) LinkFuncDefault(module string) {
	s.s.LinkFuncDefault(module)
}

// InstID identifies an instance within a Store; it is only valid for the
// Store that produced it (spec.md §3 Instance, §9 "handles are validated on
// every use").
type InstID = runtime.InstID

// Instantiate allocates an instance from module backed by memory, resolving
// imports, running segment initialisation and the start function if
// present (spec.md §4.3 `instantiate`).
//
// A nil memory backing is valid for modules that declare no memory.
func (s *Store) Instantiate(m *Module, memory []byte) (InstID, error) {
	id, err := s.s.Instantiate(m.raw, memory, m.features, m.res)
	s.log.Instantiate(uint64(s.s.ID()), uint64(id), "", err)
	return id, err
}

// SetName assigns the name later imports resolve this instance by (spec.md
// §3 Instance "Names are used for inter-instance import resolution").
func (s *Store) SetName(id InstID, name string) {
	s.s.SetName(id, name)
}

// RunResult is the outcome of an invocation: either it ran to completion
// (Done, with Values) or it suspended on a host call (Call non-nil),
// per spec.md §4.4 "Suspension and resumption".
type RunResult struct {
	Done   bool
	Values []Val
	Call   *Call
}

func fromRuntimeResult(r runtime.RunResult) RunResult {
	out := RunResult{Done: r.Done, Values: r.Values}
	if r.Call != nil {
		out.Call = &Call{c: r.Call}
	}
	return out
}

// Invoke looks up the named export, checks args against its parameter
// types, and drives the resulting Thread to completion or host suspension
// (spec.md §6 `store.invoke`).
func (s *Store) Invoke(id InstID, name string, args []Val) (RunResult, error) {
	r, err := s.s.Invoke(id, name, args)
	if err, ok := err.(*api.Trap); ok && err != nil {
		s.log.Trap(uint64(id), err.Reason)
	}
	out := fromRuntimeResult(r)
	outcome := "done"
	if !r.Done {
		outcome = "suspended"
	}
	if err != nil {
		outcome = "error: " + err.Error()
	}
	s.log.Invoke(uint64(id), name, outcome)
	return out, err
}

// GetGlobal reads the current value of an exported global (spec.md §6
// `store.get_global`).
func (s *Store) GetGlobal(id InstID, name string) (Val, bool) {
	return s.s.GetGlobal(id, name)
}

// Memory returns the instance's single memory's addressable bytes, or false
// if it declares none (spec.md §3 Memory, §6 `store.memory`).
func (s *Store) Memory(id InstID) ([]byte, bool) {
	return s.s.Memory(id)
}

// Call is a Thread suspended at a host function boundary, handed across the
// store boundary to the embedder (spec.md §3 Continuation, §6 Call).
type Call struct {
	c *runtime.Call
}

// Index is the host function table index this call targets.
func (c *Call) Index() uint32 { return c.c.Index() }

// Args are the Wasm-side operands already popped for this call.
func (c *Call) Args() []Val { return c.c.Args() }

// Inst identifies the calling instance.
func (c *Call) Inst() InstID { return c.c.Inst() }

// Mem returns the calling instance's memory, or nil if it declares none.
func (c *Call) Mem() []byte {
	m := c.c.Mem()
	if m == nil {
		return nil
	}
	return m.Bytes()
}

// Resume supplies the host function's results and continues the suspended
// thread from exactly where it left off (spec.md §6 `call.resume`).
func (c *Call) Resume(results []Val) (RunResult, error) {
	r, err := c.c.Resume(results)
	return fromRuntimeResult(r), err
}

// re-export the error-kind sentinels so callers never need to import api
// directly for error comparisons (spec.md §6 "Error kinds").
var (
	ErrInvalid     = api.ErrInvalid
	ErrNotFound    = api.ErrNotFound
	ErrUnsupported = api.ErrUnsupported
)

// Trap is a runtime failure that aborts the current invocation (spec.md §3
// Trap, §4.5).
type Trap = api.Trap

// NewTrap is exported only for host functions that need to abort an
// invocation themselves (e.g. an imported function detecting a contract
// violation in its arguments).
func NewTrap(format string, args ...any) *Trap {
	return api.NewTrap(format, args...)
}

