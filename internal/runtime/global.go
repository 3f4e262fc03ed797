package runtime

import "github.com/sandboxwasm/wasmcore/api"

// Global holds one mutable-or-constant value (spec.md §3 Global: mutability
// is validator-enforced, not re-checked here).
type Global struct {
	Type    api.ValueType
	Mutable bool
	Value   Val
}
