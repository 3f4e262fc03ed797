package runtime

import (
	"math"
	"math/bits"

	"github.com/sandboxwasm/wasmcore/api"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

// execNumeric executes one numeric, comparison, or conversion opcode
// against the thread's operand stack (wasm.OpcodeI32Eqz..OpcodeI64Extend32S,
// plus the saturating truncation family validator/numeric.go also tracks).
// Operand shapes were already checked at validation time; a failure here is
// always a genuine runtime condition (division by zero, an out-of-range
// float truncation), surfaced as a Trap.
func (t *Thread) execNumeric(op wasm.Opcode) error {
	switch op {
	case wasm.OpcodeI32Eqz:
		t.pushBool(t.popI32() == 0)
	case wasm.OpcodeI32Eq:
		b, a := t.popI32(), t.popI32()
		t.pushBool(a == b)
	case wasm.OpcodeI32Ne:
		b, a := t.popI32(), t.popI32()
		t.pushBool(a != b)
	case wasm.OpcodeI32LtS:
		b, a := t.popI32(), t.popI32()
		t.pushBool(a < b)
	case wasm.OpcodeI32LtU:
		b, a := t.popU32(), t.popU32()
		t.pushBool(a < b)
	case wasm.OpcodeI32GtS:
		b, a := t.popI32(), t.popI32()
		t.pushBool(a > b)
	case wasm.OpcodeI32GtU:
		b, a := t.popU32(), t.popU32()
		t.pushBool(a > b)
	case wasm.OpcodeI32LeS:
		b, a := t.popI32(), t.popI32()
		t.pushBool(a <= b)
	case wasm.OpcodeI32LeU:
		b, a := t.popU32(), t.popU32()
		t.pushBool(a <= b)
	case wasm.OpcodeI32GeS:
		b, a := t.popI32(), t.popI32()
		t.pushBool(a >= b)
	case wasm.OpcodeI32GeU:
		b, a := t.popU32(), t.popU32()
		t.pushBool(a >= b)

	case wasm.OpcodeI64Eqz:
		t.pushBool(t.popI64() == 0)
	case wasm.OpcodeI64Eq:
		b, a := t.popI64(), t.popI64()
		t.pushBool(a == b)
	case wasm.OpcodeI64Ne:
		b, a := t.popI64(), t.popI64()
		t.pushBool(a != b)
	case wasm.OpcodeI64LtS:
		b, a := t.popI64(), t.popI64()
		t.pushBool(a < b)
	case wasm.OpcodeI64LtU:
		b, a := t.popU64(), t.popU64()
		t.pushBool(a < b)
	case wasm.OpcodeI64GtS:
		b, a := t.popI64(), t.popI64()
		t.pushBool(a > b)
	case wasm.OpcodeI64GtU:
		b, a := t.popU64(), t.popU64()
		t.pushBool(a > b)
	case wasm.OpcodeI64LeS:
		b, a := t.popI64(), t.popI64()
		t.pushBool(a <= b)
	case wasm.OpcodeI64LeU:
		b, a := t.popU64(), t.popU64()
		t.pushBool(a <= b)
	case wasm.OpcodeI64GeS:
		b, a := t.popI64(), t.popI64()
		t.pushBool(a >= b)
	case wasm.OpcodeI64GeU:
		b, a := t.popU64(), t.popU64()
		t.pushBool(a >= b)

	case wasm.OpcodeF32Eq:
		b, a := t.popF32(), t.popF32()
		t.pushBool(a == b)
	case wasm.OpcodeF32Ne:
		b, a := t.popF32(), t.popF32()
		t.pushBool(a != b)
	case wasm.OpcodeF32Lt:
		b, a := t.popF32(), t.popF32()
		t.pushBool(a < b)
	case wasm.OpcodeF32Gt:
		b, a := t.popF32(), t.popF32()
		t.pushBool(a > b)
	case wasm.OpcodeF32Le:
		b, a := t.popF32(), t.popF32()
		t.pushBool(a <= b)
	case wasm.OpcodeF32Ge:
		b, a := t.popF32(), t.popF32()
		t.pushBool(a >= b)

	case wasm.OpcodeF64Eq:
		b, a := t.popF64(), t.popF64()
		t.pushBool(a == b)
	case wasm.OpcodeF64Ne:
		b, a := t.popF64(), t.popF64()
		t.pushBool(a != b)
	case wasm.OpcodeF64Lt:
		b, a := t.popF64(), t.popF64()
		t.pushBool(a < b)
	case wasm.OpcodeF64Gt:
		b, a := t.popF64(), t.popF64()
		t.pushBool(a > b)
	case wasm.OpcodeF64Le:
		b, a := t.popF64(), t.popF64()
		t.pushBool(a <= b)
	case wasm.OpcodeF64Ge:
		b, a := t.popF64(), t.popF64()
		t.pushBool(a >= b)

	case wasm.OpcodeI32Clz:
		t.pushI32(int32(bits.LeadingZeros32(t.popU32())))
	case wasm.OpcodeI32Ctz:
		t.pushI32(int32(bits.TrailingZeros32(t.popU32())))
	case wasm.OpcodeI32Popcnt:
		t.pushI32(int32(bits.OnesCount32(t.popU32())))
	case wasm.OpcodeI32Add:
		b, a := t.popI32(), t.popI32()
		t.pushI32(a + b)
	case wasm.OpcodeI32Sub:
		b, a := t.popI32(), t.popI32()
		t.pushI32(a - b)
	case wasm.OpcodeI32Mul:
		b, a := t.popI32(), t.popI32()
		t.pushI32(a * b)
	case wasm.OpcodeI32DivS:
		b, a := t.popI32(), t.popI32()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return api.NewTrap("integer overflow")
		}
		t.pushI32(a / b)
	case wasm.OpcodeI32DivU:
		b, a := t.popU32(), t.popU32()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		t.pushI32(int32(a / b))
	case wasm.OpcodeI32RemS:
		b, a := t.popI32(), t.popI32()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		if b == -1 {
			t.pushI32(0)
		} else {
			t.pushI32(a % b)
		}
	case wasm.OpcodeI32RemU:
		b, a := t.popU32(), t.popU32()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		t.pushI32(int32(a % b))
	case wasm.OpcodeI32And:
		b, a := t.popI32(), t.popI32()
		t.pushI32(a & b)
	case wasm.OpcodeI32Or:
		b, a := t.popI32(), t.popI32()
		t.pushI32(a | b)
	case wasm.OpcodeI32Xor:
		b, a := t.popI32(), t.popI32()
		t.pushI32(a ^ b)
	case wasm.OpcodeI32Shl:
		b, a := t.popU32(), t.popU32()
		t.pushI32(int32(a << (b & 31)))
	case wasm.OpcodeI32ShrS:
		b, a := t.popU32(), t.popI32()
		t.pushI32(a >> (b & 31))
	case wasm.OpcodeI32ShrU:
		b, a := t.popU32(), t.popU32()
		t.pushI32(int32(a >> (b & 31)))
	case wasm.OpcodeI32Rotl:
		b, a := t.popU32(), t.popU32()
		t.pushI32(int32(bits.RotateLeft32(a, int(b))))
	case wasm.OpcodeI32Rotr:
		b, a := t.popU32(), t.popU32()
		t.pushI32(int32(bits.RotateLeft32(a, -int(b))))

	case wasm.OpcodeI64Clz:
		t.pushI64(int64(bits.LeadingZeros64(t.popU64())))
	case wasm.OpcodeI64Ctz:
		t.pushI64(int64(bits.TrailingZeros64(t.popU64())))
	case wasm.OpcodeI64Popcnt:
		t.pushI64(int64(bits.OnesCount64(t.popU64())))
	case wasm.OpcodeI64Add:
		b, a := t.popI64(), t.popI64()
		t.pushI64(a + b)
	case wasm.OpcodeI64Sub:
		b, a := t.popI64(), t.popI64()
		t.pushI64(a - b)
	case wasm.OpcodeI64Mul:
		b, a := t.popI64(), t.popI64()
		t.pushI64(a * b)
	case wasm.OpcodeI64DivS:
		b, a := t.popI64(), t.popI64()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return api.NewTrap("integer overflow")
		}
		t.pushI64(a / b)
	case wasm.OpcodeI64DivU:
		b, a := t.popU64(), t.popU64()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		t.pushI64(int64(a / b))
	case wasm.OpcodeI64RemS:
		b, a := t.popI64(), t.popI64()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		if b == -1 {
			t.pushI64(0)
		} else {
			t.pushI64(a % b)
		}
	case wasm.OpcodeI64RemU:
		b, a := t.popU64(), t.popU64()
		if b == 0 {
			return api.NewTrap("integer division by zero")
		}
		t.pushI64(int64(a % b))
	case wasm.OpcodeI64And:
		b, a := t.popI64(), t.popI64()
		t.pushI64(a & b)
	case wasm.OpcodeI64Or:
		b, a := t.popI64(), t.popI64()
		t.pushI64(a | b)
	case wasm.OpcodeI64Xor:
		b, a := t.popI64(), t.popI64()
		t.pushI64(a ^ b)
	case wasm.OpcodeI64Shl:
		b, a := t.popU64(), t.popU64()
		t.pushI64(int64(a << (b & 63)))
	case wasm.OpcodeI64ShrS:
		b, a := t.popU64(), t.popI64()
		t.pushI64(a >> (b & 63))
	case wasm.OpcodeI64ShrU:
		b, a := t.popU64(), t.popU64()
		t.pushI64(int64(a >> (b & 63)))
	case wasm.OpcodeI64Rotl:
		b, a := t.popU64(), t.popU64()
		t.pushI64(int64(bits.RotateLeft64(a, int(b))))
	case wasm.OpcodeI64Rotr:
		b, a := t.popU64(), t.popU64()
		t.pushI64(int64(bits.RotateLeft64(a, -int(b))))

	case wasm.OpcodeF32Abs:
		t.pushF32(float32(math.Abs(float64(t.popF32()))))
	case wasm.OpcodeF32Neg:
		t.pushF32(-t.popF32())
	case wasm.OpcodeF32Ceil:
		t.pushF32(float32(math.Ceil(float64(t.popF32()))))
	case wasm.OpcodeF32Floor:
		t.pushF32(float32(math.Floor(float64(t.popF32()))))
	case wasm.OpcodeF32Trunc:
		t.pushF32(float32(math.Trunc(float64(t.popF32()))))
	case wasm.OpcodeF32Nearest:
		t.pushF32(float32(math.RoundToEven(float64(t.popF32()))))
	case wasm.OpcodeF32Sqrt:
		t.pushF32(float32(math.Sqrt(float64(t.popF32()))))
	case wasm.OpcodeF32Add:
		b, a := t.popF32(), t.popF32()
		t.pushF32(a + b)
	case wasm.OpcodeF32Sub:
		b, a := t.popF32(), t.popF32()
		t.pushF32(a - b)
	case wasm.OpcodeF32Mul:
		b, a := t.popF32(), t.popF32()
		t.pushF32(a * b)
	case wasm.OpcodeF32Div:
		b, a := t.popF32(), t.popF32()
		t.pushF32(a / b)
	case wasm.OpcodeF32Min:
		b, a := t.popF32(), t.popF32()
		t.pushF32(float32(wasmMin(float64(a), float64(b))))
	case wasm.OpcodeF32Max:
		b, a := t.popF32(), t.popF32()
		t.pushF32(float32(wasmMax(float64(a), float64(b))))
	case wasm.OpcodeF32Copysign:
		b, a := t.popF32(), t.popF32()
		t.pushF32(float32(math.Copysign(float64(a), float64(b))))

	case wasm.OpcodeF64Abs:
		t.pushF64(math.Abs(t.popF64()))
	case wasm.OpcodeF64Neg:
		t.pushF64(-t.popF64())
	case wasm.OpcodeF64Ceil:
		t.pushF64(math.Ceil(t.popF64()))
	case wasm.OpcodeF64Floor:
		t.pushF64(math.Floor(t.popF64()))
	case wasm.OpcodeF64Trunc:
		t.pushF64(math.Trunc(t.popF64()))
	case wasm.OpcodeF64Nearest:
		t.pushF64(math.RoundToEven(t.popF64()))
	case wasm.OpcodeF64Sqrt:
		t.pushF64(math.Sqrt(t.popF64()))
	case wasm.OpcodeF64Add:
		b, a := t.popF64(), t.popF64()
		t.pushF64(a + b)
	case wasm.OpcodeF64Sub:
		b, a := t.popF64(), t.popF64()
		t.pushF64(a - b)
	case wasm.OpcodeF64Mul:
		b, a := t.popF64(), t.popF64()
		t.pushF64(a * b)
	case wasm.OpcodeF64Div:
		b, a := t.popF64(), t.popF64()
		t.pushF64(a / b)
	case wasm.OpcodeF64Min:
		b, a := t.popF64(), t.popF64()
		t.pushF64(wasmMin(a, b))
	case wasm.OpcodeF64Max:
		b, a := t.popF64(), t.popF64()
		t.pushF64(wasmMax(a, b))
	case wasm.OpcodeF64Copysign:
		b, a := t.popF64(), t.popF64()
		t.pushF64(math.Copysign(a, b))

	case wasm.OpcodeI32WrapI64:
		t.pushI32(int32(t.popI64()))
	case wasm.OpcodeI32TruncF32S:
		return t.execTrunc32(float64(t.popF32()), true, false)
	case wasm.OpcodeI32TruncF32U:
		return t.execTrunc32(float64(t.popF32()), false, false)
	case wasm.OpcodeI32TruncF64S:
		return t.execTrunc32(t.popF64(), true, false)
	case wasm.OpcodeI32TruncF64U:
		return t.execTrunc32(t.popF64(), false, false)
	case wasm.OpcodeI64ExtendI32S:
		t.pushI64(int64(t.popI32()))
	case wasm.OpcodeI64ExtendI32U:
		t.pushI64(int64(t.popU32()))
	case wasm.OpcodeI64TruncF32S:
		return t.execTrunc64(float64(t.popF32()), true, false)
	case wasm.OpcodeI64TruncF32U:
		return t.execTrunc64(float64(t.popF32()), false, false)
	case wasm.OpcodeI64TruncF64S:
		return t.execTrunc64(t.popF64(), true, false)
	case wasm.OpcodeI64TruncF64U:
		return t.execTrunc64(t.popF64(), false, false)
	case wasm.OpcodeF32ConvertI32S:
		t.pushF32(float32(t.popI32()))
	case wasm.OpcodeF32ConvertI32U:
		t.pushF32(float32(t.popU32()))
	case wasm.OpcodeF32ConvertI64S:
		t.pushF32(float32(t.popI64()))
	case wasm.OpcodeF32ConvertI64U:
		t.pushF32(float32(t.popU64()))
	case wasm.OpcodeF32DemoteF64:
		t.pushF32(float32(t.popF64()))
	case wasm.OpcodeF64ConvertI32S:
		t.pushF64(float64(t.popI32()))
	case wasm.OpcodeF64ConvertI32U:
		t.pushF64(float64(t.popU32()))
	case wasm.OpcodeF64ConvertI64S:
		t.pushF64(float64(t.popI64()))
	case wasm.OpcodeF64ConvertI64U:
		t.pushF64(float64(t.popU64()))
	case wasm.OpcodeF64PromoteF32:
		t.pushF64(float64(t.popF32()))
	case wasm.OpcodeI32ReinterpretF32:
		t.push(Val(uint32(math.Float32bits(t.popF32()))))
	case wasm.OpcodeI64ReinterpretF64:
		t.push(Val(math.Float64bits(t.popF64())))
	case wasm.OpcodeF32ReinterpretI32:
		t.pushF32(math.Float32frombits(t.popU32()))
	case wasm.OpcodeF64ReinterpretI64:
		t.pushF64(math.Float64frombits(t.popU64()))

	case wasm.OpcodeI32Extend8S:
		t.pushI32(int32(int8(t.popI32())))
	case wasm.OpcodeI32Extend16S:
		t.pushI32(int32(int16(t.popI32())))
	case wasm.OpcodeI64Extend8S:
		t.pushI64(int64(int8(t.popI64())))
	case wasm.OpcodeI64Extend16S:
		t.pushI64(int64(int16(t.popI64())))
	case wasm.OpcodeI64Extend32S:
		t.pushI64(int64(int32(t.popI64())))

	case wasm.OpcodeI32TruncSatF32S:
		t.pushI32(satTrunc32(float64(t.popF32()), true))
	case wasm.OpcodeI32TruncSatF32U:
		t.pushI32(satTrunc32(float64(t.popF32()), false))
	case wasm.OpcodeI32TruncSatF64S:
		t.pushI32(satTrunc32(t.popF64(), true))
	case wasm.OpcodeI32TruncSatF64U:
		t.pushI32(satTrunc32(t.popF64(), false))
	case wasm.OpcodeI64TruncSatF32S:
		t.pushI64(satTrunc64(float64(t.popF32()), true))
	case wasm.OpcodeI64TruncSatF32U:
		t.pushI64(satTrunc64(float64(t.popF32()), false))
	case wasm.OpcodeI64TruncSatF64S:
		t.pushI64(satTrunc64(t.popF64(), true))
	case wasm.OpcodeI64TruncSatF64U:
		t.pushI64(satTrunc64(t.popF64(), false))

	default:
		return api.NewTrap("unhandled numeric opcode %#x", op)
	}
	return nil
}

func wasmMin(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == 0 && b == 0 {
		if math.Signbit(a) || math.Signbit(b) {
			return math.Copysign(0, -1)
		}
		return 0
	}
	return math.Min(a, b)
}

func wasmMax(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == 0 && b == 0 {
		if !math.Signbit(a) || !math.Signbit(b) {
			return 0
		}
		return math.Copysign(0, -1)
	}
	return math.Max(a, b)
}

// execTrunc32/execTrunc64 implement the non-saturating i32/i64.trunc_f32/f64
// family: NaN and out-of-integer-range inputs trap (spec.md's "div/rem/
// truncation traps" family).
func (t *Thread) execTrunc32(v float64, signed, _ bool) error {
	i, err := truncToInt(v, signed, 32)
	if err != nil {
		return err
	}
	t.pushI32(int32(i))
	return nil
}

func (t *Thread) execTrunc64(v float64, signed, _ bool) error {
	i, err := truncToInt(v, signed, 64)
	if err != nil {
		return err
	}
	t.pushI64(i)
	return nil
}

func truncToInt(v float64, signed bool, width int) (int64, error) {
	if math.IsNaN(v) {
		return 0, api.NewTrap("invalid conversion to integer")
	}
	tr := math.Trunc(v)
	var lo, hi float64
	switch {
	case signed && width == 32:
		lo, hi = math.MinInt32, math.MaxInt32+1
	case !signed && width == 32:
		lo, hi = 0, math.MaxUint32+1
	case signed && width == 64:
		lo, hi = math.MinInt64, math.MaxInt64 // MaxInt64+1 is not exactly representable in float64
	default:
		lo, hi = 0, math.MaxUint64
	}
	if tr < lo || tr >= hi {
		return 0, api.NewTrap("integer overflow converting %v to int%d", v, width)
	}
	if !signed {
		return int64(uint64(tr)), nil
	}
	return int64(tr), nil
}

func satTrunc32(v float64, signed bool) int32 {
	if math.IsNaN(v) {
		return 0
	}
	tr := math.Trunc(v)
	if signed {
		if tr <= math.MinInt32 {
			return math.MinInt32
		}
		if tr >= math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(tr)
	}
	if tr <= 0 {
		return 0
	}
	if tr >= math.MaxUint32 {
		return -1 // bit pattern of math.MaxUint32
	}
	return int32(uint32(tr))
}

func satTrunc64(v float64, signed bool) int64 {
	if math.IsNaN(v) {
		return 0
	}
	tr := math.Trunc(v)
	if signed {
		if tr <= math.MinInt64 {
			return math.MinInt64
		}
		if tr >= math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(tr)
	}
	if tr <= 0 {
		return 0
	}
	if tr >= math.MaxUint64 {
		return -1 // bit pattern of math.MaxUint64
	}
	return int64(uint64(tr))
}
