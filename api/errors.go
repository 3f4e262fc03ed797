package api

import "fmt"

// ErrInvalid means a module failed validation: it is structurally
// malformed or violates a typing rule. The module is unusable and the
// failure is definitive; the engine never partially accepts a module.
var ErrInvalid = fmt.Errorf("invalid module")

// ErrNotFound means an import could not be resolved against the
// registered host functions or previously instantiated modules.
var ErrNotFound = fmt.Errorf("import not found")

// ErrUnsupported means the module uses an opcode or feature this build
// does not enable. It is distinct from ErrInvalid: the module may well be
// valid Wasm, just outside what this engine was configured to run.
var ErrUnsupported = fmt.Errorf("unsupported feature")

// Trap is a runtime failure that aborts the current invocation. The
// failing Thread is dropped; the Store and its other instances remain
// usable.
type Trap struct {
	// Reason is a short machine-stable identifier, e.g. "unreachable",
	// "integer divide by zero", "out of bounds memory access".
	Reason string
}

func (t *Trap) Error() string { return "trap: " + t.Reason }

// NewTrap builds a Trap with a formatted reason.
func NewTrap(format string, args ...any) *Trap {
	return &Trap{Reason: fmt.Sprintf(format, args...)}
}
