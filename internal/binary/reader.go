// Package binary implements the Wasm binary parser (spec.md §4.1). Reader
// is written as a fallible `Check`-mode decoder: every call can return a
// structured error distinguishing malformed (Invalid) from
// not-compiled-in (Unsupported). internal/runtime's interpreter reuses the
// same Reader to decode already-validated instruction bytes rather than
// building a second infallible `Use`-mode decoder — by the time a function
// body runs it has already passed a Reader-driven validation pass, so a
// Check-mode error there signals an internal bug, not a user-facing fault,
// and gets surfaced as a trap. This trades the spec's dual-mode parser for
// one implementation reused at both call sites.
package binary

import (
	"fmt"
	"unicode/utf8"

	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/leb128"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// Magic and version header every module begins with.
var Magic = [8]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Reader decodes a byte slice in Check mode: every operation can fail with
// a structured error distinguishing malformed (Invalid) from
// not-compiled-in (Unsupported).
type Reader struct {
	data     []byte
	pos      int
	Features engineconfig.Features
}

// NewReader wraps data for Check-mode decoding.
func NewReader(data []byte, features engineconfig.Features) *Reader {
	return &Reader{data: data, Features: features}
}

// Pos returns the current byte offset.
func (r *Reader) Pos() int { return r.pos }

// Len returns the number of unconsumed bytes.
func (r *Reader) Len() int { return len(r.data) - r.pos }

// Save snapshots the current position for a later Restore (used for
// lookahead, e.g. peeking a section id).
func (r *Reader) Save() int { return r.pos }

// Restore rewinds to a position previously returned by Save.
func (r *Reader) Restore(p int) { r.pos = p }

// Bytes consumes exactly n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", errInvalid, n, r.pos, r.Len())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Byte consumes a single byte.
func (r *Reader) Byte() (byte, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

var errInvalid = api.ErrInvalid
var errUnsupported = api.ErrUnsupported

// Invalidf builds an Invalid-class error at the current position.
func (r *Reader) Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", errInvalid, r.pos, fmt.Sprintf(format, args...))
}

// Unsupportedf builds an Unsupported-class error at the current position.
func (r *Reader) Unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", errUnsupported, r.pos, fmt.Sprintf(format, args...))
}

// IsInvalid reports whether err originated from Invalidf (or wraps it).
func IsInvalid(err error) bool { return errorsIs(err, errInvalid) }

// IsUnsupported reports whether err originated from Unsupportedf (or wraps it).
func IsUnsupported(err error) bool { return errorsIs(err, errUnsupported) }

func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// U32 decodes an unsigned LEB128 u32.
func (r *Reader) U32() (uint32, error) {
	v, n, err := leb128.DecodeUint32(r.data[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("%w at offset %d: %v", errInvalid, r.pos, err)
	}
	r.pos += int(n)
	return v, nil
}

// U64 decodes an unsigned LEB128 u64.
func (r *Reader) U64() (uint64, error) {
	v, n, err := leb128.DecodeUint64(r.data[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("%w at offset %d: %v", errInvalid, r.pos, err)
	}
	r.pos += int(n)
	return v, nil
}

// S32 decodes a signed LEB128 i32.
func (r *Reader) S32() (int32, error) {
	v, n, err := leb128.DecodeInt32(r.data[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("%w at offset %d: %v", errInvalid, r.pos, err)
	}
	r.pos += int(n)
	return v, nil
}

// S33 decodes a signed LEB128 value of 33 bits, used only by BlockType.
func (r *Reader) S33() (int64, error) {
	v, n, err := leb128.DecodeInt33AsInt64(r.data[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("%w at offset %d: %v", errInvalid, r.pos, err)
	}
	r.pos += int(n)
	return v, nil
}

// S64 decodes a signed LEB128 i64.
func (r *Reader) S64() (int64, error) {
	v, n, err := leb128.DecodeInt64(r.data[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("%w at offset %d: %v", errInvalid, r.pos, err)
	}
	r.pos += int(n)
	return v, nil
}

// Name decodes a length-prefixed UTF-8 string, validating encoding.
func (r *Reader) Name() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", r.Invalidf("name is not valid utf-8")
	}
	return string(b), nil
}

// ValType decodes a single value type byte.
func (r *Reader) ValType() (wasm.ValueType, error) {
	b, err := r.Byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64:
		return b, nil
	case wasm.ValueTypeF32, wasm.ValueTypeF64:
		if !r.Features.FloatTypes {
			return 0, r.Unsupportedf("float types")
		}
		return b, nil
	case wasm.ValueTypeV128:
		if !r.Features.VectorTypes {
			return 0, r.Unsupportedf("vector types")
		}
		return b, nil
	case wasm.ValueTypeFuncref:
		return b, nil
	case wasm.ValueTypeExternref:
		if !r.Features.ReferenceTypes {
			return 0, r.Unsupportedf("reference types")
		}
		return b, nil
	}
	return 0, r.Invalidf("invalid value type byte %#x", b)
}

// FuncType decodes a function type: the 0x60 tag, then params then results.
func (r *Reader) FuncType() (wasm.FuncType, error) {
	tag, err := r.Byte()
	if err != nil {
		return wasm.FuncType{}, err
	}
	if tag != 0x60 {
		return wasm.FuncType{}, r.Invalidf("expected functype tag 0x60, got %#x", tag)
	}
	params, err := r.valTypeVec()
	if err != nil {
		return wasm.FuncType{}, err
	}
	results, err := r.valTypeVec()
	if err != nil {
		return wasm.FuncType{}, err
	}
	if len(results) > 1 && !r.Features.MultiValue {
		return wasm.FuncType{}, r.Unsupportedf("multi-value results")
	}
	return wasm.FuncType{Params: params, Results: results}, nil
}

func (r *Reader) valTypeVec() ([]wasm.ValueType, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ValueType, n)
	for i := range out {
		out[i], err = r.ValType()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Limits decodes a limits record, rejecting a max below min or above the
// caller-supplied absolute ceiling.
func (r *Reader) Limits(maxCeiling uint32) (wasm.Limits, error) {
	flag, err := r.Byte()
	if err != nil {
		return wasm.Limits{}, err
	}
	if flag > 1 {
		return wasm.Limits{}, r.Invalidf("invalid limits flag %#x", flag)
	}
	min, err := r.U32()
	if err != nil {
		return wasm.Limits{}, err
	}
	lim := wasm.Limits{Min: min}
	if flag == 1 {
		max, err := r.U32()
		if err != nil {
			return wasm.Limits{}, err
		}
		if max < min {
			return wasm.Limits{}, r.Invalidf("limits max %d below min %d", max, min)
		}
		if max > maxCeiling {
			return wasm.Limits{}, r.Invalidf("limits max %d exceeds ceiling %d", max, maxCeiling)
		}
		lim.Max = &max
	}
	if min > maxCeiling {
		return wasm.Limits{}, r.Invalidf("limits min %d exceeds ceiling %d", min, maxCeiling)
	}
	return lim, nil
}

// MemArg decodes an align/offset pair.
func (r *Reader) MemArg() (wasm.MemArg, error) {
	align, err := r.U32()
	if err != nil {
		return wasm.MemArg{}, err
	}
	offset, err := r.U32()
	if err != nil {
		return wasm.MemArg{}, err
	}
	return wasm.MemArg{Align: align, Offset: offset}, nil
}

// BlockType decodes a signed 33-bit block type.
func (r *Reader) BlockType() (wasm.BlockType, error) {
	v, err := r.S33()
	if err != nil {
		return wasm.BlockType{}, err
	}
	bt := wasm.BlockType{Raw: v}
	if _, ok := bt.IsValueShorthand(); ok || bt.IsEmpty() {
		return bt, nil
	}
	if v < 0 {
		return wasm.BlockType{}, r.Invalidf("invalid block type shorthand %d", v)
	}
	return bt, nil
}
