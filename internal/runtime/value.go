package runtime

import "github.com/sandboxwasm/wasmcore/api"

// Val is one entry of the interpreter's value stack: every Wasm value,
// numeric or reference, is carried as a single uint64 lane (api.Encode*/
// Decode* convert to/from the concrete Go type).
type Val = uint64

// nullRef is the encoded value of a null reference, for both funcref and
// externref: the all-ones lane. Zero cannot serve, since FuncPtr's zero
// value is the host function at index 0. isNullRef recognises null by this
// bit pattern alone; lanes carry no runtime type tag.
const nullRef Val = ^Val(0)

func isNullRef(v Val) bool { return v == nullRef }

// EncodeFuncPtr encodes a non-null function pointer as a value-stack lane.
func EncodeFuncPtr(p FuncPtr) Val { return Val(p) }

// DecodeFuncPtr decodes a funcref lane back into its packed pointer.
func DecodeFuncPtr(v Val) FuncPtr { return FuncPtr(v) }

// typedNull returns the null value for a reference value type.
func typedNull(_ api.ValueType) Val { return nullRef }
