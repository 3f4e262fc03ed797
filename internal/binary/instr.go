package binary

import (
	"math"

	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// Instr decodes a single instruction, including the 0xfc-prefixed family.
// The caller is responsible for stopping at `end`/`else` boundaries that
// belong to structured control, since those opcodes are returned like any
// other and it is the validator/instantiator's job to react to them.
func (r *Reader) Instr() (wasm.Instr, error) {
	startOff := r.pos
	b, err := r.Byte()
	if err != nil {
		return wasm.Instr{}, err
	}
	in := wasm.Instr{Opcode: wasm.Opcode(b), Offset: uint32(startOff)}

	switch wasm.Opcode(b) {
	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeElse, wasm.OpcodeEnd,
		wasm.OpcodeReturn, wasm.OpcodeDrop, wasm.OpcodeSelect,
		wasm.OpcodeI32Eqz, wasm.OpcodeI32Eq, wasm.OpcodeI32Ne,
		wasm.OpcodeI32LtS, wasm.OpcodeI32LtU, wasm.OpcodeI32GtS, wasm.OpcodeI32GtU,
		wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI32GeS, wasm.OpcodeI32GeU,
		wasm.OpcodeI64Eqz, wasm.OpcodeI64Eq, wasm.OpcodeI64Ne,
		wasm.OpcodeI64LtS, wasm.OpcodeI64LtU, wasm.OpcodeI64GtS, wasm.OpcodeI64GtU,
		wasm.OpcodeI64LeS, wasm.OpcodeI64LeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU,
		wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge,
		wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge,
		wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt,
		wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32DivS, wasm.OpcodeI32DivU,
		wasm.OpcodeI32RemS, wasm.OpcodeI32RemU, wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor,
		wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr,
		wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt,
		wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64DivS, wasm.OpcodeI64DivU,
		wasm.OpcodeI64RemS, wasm.OpcodeI64RemU, wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor,
		wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr,
		wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor, wasm.OpcodeF32Trunc,
		wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt, wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul,
		wasm.OpcodeF32Div, wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign,
		wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor, wasm.OpcodeF64Trunc,
		wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt, wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul,
		wasm.OpcodeF64Div, wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign,
		wasm.OpcodeI32WrapI64, wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
		wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U, wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U,
		wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U,
		wasm.OpcodeF32ConvertI32S, wasm.OpcodeF32ConvertI32U, wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U, wasm.OpcodeF32DemoteF64,
		wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U, wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U, wasm.OpcodeF64PromoteF32,
		wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64, wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64,
		wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S, wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend16S, wasm.OpcodeI64Extend32S,
		wasm.OpcodeRefIsNull, wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		return in, nil

	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		bt, err := r.BlockType()
		if err != nil {
			return in, err
		}
		in.Block = bt
		return in, nil

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.LabelIndex = idx
		return in, nil

	case wasm.OpcodeBrTable:
		n, err := r.U32()
		if err != nil {
			return in, err
		}
		targets := make([]uint32, n)
		for i := range targets {
			targets[i], err = r.U32()
			if err != nil {
				return in, err
			}
		}
		def, err := r.U32()
		if err != nil {
			return in, err
		}
		in.LabelIndices = targets
		in.LabelDefault = def
		return in, nil

	case wasm.OpcodeCall:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.FuncIndex = idx
		return in, nil

	case wasm.OpcodeCallIndirect:
		typeIdx, err := r.U32()
		if err != nil {
			return in, err
		}
		tableIdx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.TypeIndex = typeIdx
		in.TableIndex = tableIdx
		return in, nil

	case wasm.OpcodeSelectT:
		if !r.Features.ReferenceTypes {
			return in, r.Unsupportedf("typed select")
		}
		types, err := r.valTypeVec()
		if err != nil {
			return in, err
		}
		in.SelectTypes = types
		return in, nil

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.Index = idx
		return in, nil

	case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		if !r.Features.ReferenceTypes {
			return in, r.Unsupportedf("table.get/set")
		}
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.Index = idx
		return in, nil

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		ma, err := r.MemArg()
		if err != nil {
			return in, err
		}
		in.MemArg = ma
		return in, nil

	case wasm.OpcodeI32Const:
		v, err := r.S32()
		if err != nil {
			return in, err
		}
		in.I32 = v
		return in, nil

	case wasm.OpcodeI64Const:
		v, err := r.S64()
		if err != nil {
			return in, err
		}
		in.I64 = v
		return in, nil

	case wasm.OpcodeF32Const:
		raw, err := r.Bytes(4)
		if err != nil {
			return in, err
		}
		if !r.Features.FloatTypes {
			return in, r.Unsupportedf("float types")
		}
		in.F32 = decodeF32LE(raw)
		return in, nil

	case wasm.OpcodeF64Const:
		raw, err := r.Bytes(8)
		if err != nil {
			return in, err
		}
		if !r.Features.FloatTypes {
			return in, r.Unsupportedf("float types")
		}
		in.F64 = decodeF64LE(raw)
		return in, nil

	case wasm.OpcodeRefNull:
		t, err := r.ValType()
		if err != nil {
			return in, err
		}
		if !isRefType(t) {
			return in, r.Invalidf("ref.null of non-reference type")
		}
		in.RefType = t
		return in, nil

	case wasm.OpcodeRefFunc:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.FuncIndex = idx
		return in, nil

	case 0xfc:
		if !r.Features.BulkMemory && !r.Features.SaturatingFloatToInt {
			return in, r.Unsupportedf("0xfc-prefixed opcode family")
		}
		sub, err := r.U32()
		if err != nil {
			return in, err
		}
		in.Opcode = 0x100 + wasm.Opcode(sub)
		return r.finishFC(in)

	default:
		return in, r.Invalidf("invalid or reserved opcode %#x", b)
	}
}

func (r *Reader) finishFC(in wasm.Instr) (wasm.Instr, error) {
	switch in.Opcode {
	case wasm.OpcodeI32TruncSatF32S, wasm.OpcodeI32TruncSatF32U, wasm.OpcodeI32TruncSatF64S, wasm.OpcodeI32TruncSatF64U,
		wasm.OpcodeI64TruncSatF32S, wasm.OpcodeI64TruncSatF32U, wasm.OpcodeI64TruncSatF64S, wasm.OpcodeI64TruncSatF64U:
		if !r.Features.SaturatingFloatToInt {
			return in, r.Unsupportedf("saturating truncation")
		}
		return in, nil

	case wasm.OpcodeMemoryInit:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		if _, err := r.Byte(); err != nil { // reserved memidx byte, must be 0
			return in, err
		}
		in.DataIndex = idx
		return in, r.requireBulkMemory()

	case wasm.OpcodeDataDrop:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.DataIndex = idx
		return in, r.requireBulkMemory()

	case wasm.OpcodeMemoryCopy:
		if _, err := r.Byte(); err != nil {
			return in, err
		}
		if _, err := r.Byte(); err != nil {
			return in, err
		}
		return in, r.requireBulkMemory()

	case wasm.OpcodeMemoryFill:
		if _, err := r.Byte(); err != nil {
			return in, err
		}
		return in, r.requireBulkMemory()

	case wasm.OpcodeTableInit:
		elemIdx, err := r.U32()
		if err != nil {
			return in, err
		}
		tableIdx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.Index = elemIdx
		in.TableIndex = tableIdx
		return in, r.requireBulkMemory()

	case wasm.OpcodeElemDrop:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.Index = idx
		return in, r.requireBulkMemory()

	case wasm.OpcodeTableCopy:
		dst, err := r.U32()
		if err != nil {
			return in, err
		}
		src, err := r.U32()
		if err != nil {
			return in, err
		}
		in.TableIndex = dst
		in.Index = src
		return in, r.requireBulkMemory()

	case wasm.OpcodeTableGrow, wasm.OpcodeTableSize, wasm.OpcodeTableFill:
		idx, err := r.U32()
		if err != nil {
			return in, err
		}
		in.TableIndex = idx
		return in, r.requireBulkMemory()
	}
	return in, r.Invalidf("invalid 0xfc sub-opcode %#x", in.Opcode-0x100)
}

func (r *Reader) requireBulkMemory() error {
	if !r.Features.BulkMemory {
		return r.Unsupportedf("bulk memory operations")
	}
	return nil
}

func isRefType(t wasm.ValueType) bool {
	return t == wasm.ValueTypeFuncref || t == wasm.ValueTypeExternref
}

func decodeF32LE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func decodeF64LE(b []byte) float64 {
	bits := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	return math.Float64frombits(bits)
}
