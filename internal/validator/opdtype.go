package validator

import "github.com/sandboxwasm/wasmcore/internal/wasm"

// opdType is one entry of the abstract value-type stack. unknown represents
// Bottom: the "polymorphic after unreachable" marker that matches any
// concrete type (spec.md §4.2).
type opdType struct {
	t       wasm.ValueType
	unknown bool
}

func known(t wasm.ValueType) opdType { return opdType{t: t} }

var bottom = opdType{unknown: true}

func (o opdType) matches(want wasm.ValueType) bool {
	return o.unknown || o.t == want
}

func (o opdType) String() string {
	if o.unknown {
		return "<any>"
	}
	return wasm.ValueTypeName(o.t)
}

// stack is the per-function abstract value-type stack, scoped by label: a
// label only ever pops down to its own floor, and once unreachable is set
// any pop below the floor silently yields Bottom rather than underflowing.
type stack struct {
	vals []opdType
}

func (s *stack) push(t wasm.ValueType) { s.vals = append(s.vals, known(t)) }

func (s *stack) pushUnknown() { s.vals = append(s.vals, bottom) }

func (s *stack) height() int { return len(s.vals) }

// pop removes and returns the top value, reporting Bottom (without error)
// if the stack has underflowed below floor while unreachable.
func (s *stack) pop(floor int, unreachable bool) (opdType, error) {
	if len(s.vals) <= floor {
		if unreachable {
			return bottom, nil
		}
		return opdType{}, Invalidf("value stack underflow")
	}
	v := s.vals[len(s.vals)-1]
	s.vals = s.vals[:len(s.vals)-1]
	return v, nil
}

func (s *stack) popExpect(floor int, unreachable bool, want wasm.ValueType) error {
	v, err := s.pop(floor, unreachable)
	if err != nil {
		return err
	}
	if !v.matches(want) {
		return Invalidf("type mismatch: expected %s, got %s", wasm.ValueTypeName(want), v)
	}
	return nil
}

// truncateTo resets the stack to exactly floor entries (used when a branch
// / end leaves residual values above the label's declared result types).
func (s *stack) truncateTo(floor int) {
	if floor < len(s.vals) {
		s.vals = s.vals[:floor]
	}
}
