// Package validator type-checks a parsed module (internal/wasm.Module) and
// emits the side table the interpreter needs to execute branches in O(1)
// (spec.md §4.2). It never touches raw bytes directly except through
// internal/binary's Check-mode Reader, so the same opcode table and section
// layout the parser uses is shared here; the two packages can never
// disagree about what a byte sequence means.
package validator

import (
	"fmt"

	"github.com/sandboxwasm/wasmcore/api"
)

// Invalidf builds an api.ErrInvalid-class error.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", api.ErrInvalid, fmt.Sprintf(format, args...))
}

// Unsupportedf builds an api.ErrUnsupported-class error.
func Unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", api.ErrUnsupported, fmt.Sprintf(format, args...))
}
