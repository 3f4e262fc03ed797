package validator

import "github.com/sandboxwasm/wasmcore/internal/wasm"

// numericSig describes a plain numeric instruction's operand and result
// types: no opcode in this family touches memory, locals, or control flow,
// so a flat signature table is all validation needs (spec.md §4.2's
// per-instruction typing rules, numeric subset).
type numericSig struct {
	in  []wasm.ValueType
	out wasm.ValueType
}

func unary(t wasm.ValueType) numericSig  { return numericSig{in: []wasm.ValueType{t}, out: t} }
func binop(t wasm.ValueType) numericSig  { return numericSig{in: []wasm.ValueType{t, t}, out: t} }
func test(t wasm.ValueType) numericSig {
	return numericSig{in: []wasm.ValueType{t}, out: wasm.ValueTypeI32}
}
func compare(t wasm.ValueType) numericSig {
	return numericSig{in: []wasm.ValueType{t, t}, out: wasm.ValueTypeI32}
}
func conv(from, to wasm.ValueType) numericSig { return numericSig{in: []wasm.ValueType{from}, out: to} }

var numericSigs = buildNumericSigs()

func buildNumericSigs() map[wasm.Opcode]numericSig {
	i32, i64, f32, f64 := wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64
	m := map[wasm.Opcode]numericSig{
		wasm.OpcodeI32Eqz: test(i32),
		wasm.OpcodeI64Eqz: test(i64),
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU,
		wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI32GeS, wasm.OpcodeI32GeU} {
		m[op] = compare(i32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU,
		wasm.OpcodeI64GtS, wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU} {
		m[op] = compare(i64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge} {
		m[op] = compare(f32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge} {
		m[op] = compare(f64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt} {
		m[op] = unary(i32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32DivS, wasm.OpcodeI32DivU,
		wasm.OpcodeI32RemS, wasm.OpcodeI32RemU, wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor,
		wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr} {
		m[op] = binop(i32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt} {
		m[op] = unary(i64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64DivS, wasm.OpcodeI64DivU,
		wasm.OpcodeI64RemS, wasm.OpcodeI64RemU, wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor,
		wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr} {
		m[op] = binop(i64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor,
		wasm.OpcodeF32Trunc, wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt} {
		m[op] = unary(f32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
		wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign} {
		m[op] = binop(f32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor,
		wasm.OpcodeF64Trunc, wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt} {
		m[op] = unary(f64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
		wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign} {
		m[op] = binop(f64)
	}

	m[wasm.OpcodeI32WrapI64] = conv(i64, i32)
	for _, op := range []wasm.Opcode{wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncSatF32S, wasm.OpcodeI32TruncSatF32U} {
		m[op] = conv(f32, i32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U, wasm.OpcodeI32TruncSatF64S, wasm.OpcodeI32TruncSatF64U} {
		m[op] = conv(f64, i32)
	}
	m[wasm.OpcodeI64ExtendI32S] = conv(i32, i64)
	m[wasm.OpcodeI64ExtendI32U] = conv(i32, i64)
	for _, op := range []wasm.Opcode{wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U, wasm.OpcodeI64TruncSatF32S, wasm.OpcodeI64TruncSatF32U} {
		m[op] = conv(f32, i64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U, wasm.OpcodeI64TruncSatF64S, wasm.OpcodeI64TruncSatF64U} {
		m[op] = conv(f64, i64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF32ConvertI32S, wasm.OpcodeF32ConvertI32U} {
		m[op] = conv(i32, f32)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U} {
		m[op] = conv(i64, f32)
	}
	m[wasm.OpcodeF32DemoteF64] = conv(f64, f32)
	for _, op := range []wasm.Opcode{wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U} {
		m[op] = conv(i32, f64)
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U} {
		m[op] = conv(i64, f64)
	}
	m[wasm.OpcodeF64PromoteF32] = conv(f32, f64)
	m[wasm.OpcodeI32ReinterpretF32] = conv(f32, i32)
	m[wasm.OpcodeI64ReinterpretF64] = conv(f64, i64)
	m[wasm.OpcodeF32ReinterpretI32] = conv(i32, f32)
	m[wasm.OpcodeF64ReinterpretI64] = conv(i64, f64)
	m[wasm.OpcodeI32Extend8S] = unary(i32)
	m[wasm.OpcodeI32Extend16S] = unary(i32)
	m[wasm.OpcodeI64Extend8S] = unary(i64)
	m[wasm.OpcodeI64Extend16S] = unary(i64)
	m[wasm.OpcodeI64Extend32S] = unary(i64)
	return m
}

var satTruncOps = map[wasm.Opcode]bool{
	wasm.OpcodeI32TruncSatF32S: true, wasm.OpcodeI32TruncSatF32U: true,
	wasm.OpcodeI32TruncSatF64S: true, wasm.OpcodeI32TruncSatF64U: true,
	wasm.OpcodeI64TruncSatF32S: true, wasm.OpcodeI64TruncSatF32U: true,
	wasm.OpcodeI64TruncSatF64S: true, wasm.OpcodeI64TruncSatF64U: true,
}

func (fv *funcValidator) checkNumeric(op wasm.Opcode) error {
	sig, ok := numericSigs[op]
	if !ok {
		return Invalidf("unhandled numeric opcode %#x", op)
	}
	cur := fv.cur()
	for i := len(sig.in) - 1; i >= 0; i-- {
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, sig.in[i]); err != nil {
			return err
		}
	}
	fv.stack.push(sig.out)
	return nil
}
