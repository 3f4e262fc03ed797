package validator

import "github.com/sandboxwasm/wasmcore/internal/wasm"

// checkBulk validates every instruction in the 0xfc-prefixed family: the
// saturating truncation conversions (already typed by numericSigs) and the
// bulk memory/table operations gated on BulkMemory (spec.md §4.2 bulk-memory
// subset; feature-gating already enforced by the parser, this only adds
// index-bounds and stack-shape checks).
func (fv *funcValidator) checkBulk(in wasm.Instr) error {
	if satTruncOps[in.Opcode] {
		return fv.checkNumeric(in.Opcode)
	}

	cur := fv.cur()
	i32 := wasm.ValueTypeI32

	switch in.Opcode {
	case wasm.OpcodeMemoryInit:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		if int(in.DataIndex) >= fv.numDataSegments() {
			return Invalidf("memory.init: data index %d out of range", in.DataIndex)
		}
		return fv.popOperandsConsuming([]wasm.ValueType{i32, i32, i32})

	case wasm.OpcodeDataDrop:
		if int(in.DataIndex) >= fv.numDataSegments() {
			return Invalidf("data.drop: data index %d out of range", in.DataIndex)
		}
		return nil

	case wasm.OpcodeMemoryCopy, wasm.OpcodeMemoryFill:
		if err := fv.requireMemory(); err != nil {
			return err
		}
		return fv.popOperandsConsuming([]wasm.ValueType{i32, i32, i32})

	case wasm.OpcodeTableInit:
		if _, err := fv.tableType(in.TableIndex); err != nil {
			return err
		}
		if int(in.Index) >= len(fv.v.m.Elements) {
			return Invalidf("table.init: element index %d out of range", in.Index)
		}
		return fv.popOperandsConsuming([]wasm.ValueType{i32, i32, i32})

	case wasm.OpcodeElemDrop:
		if int(in.Index) >= len(fv.v.m.Elements) {
			return Invalidf("elem.drop: element index %d out of range", in.Index)
		}
		return nil

	case wasm.OpcodeTableCopy:
		if _, err := fv.tableType(in.TableIndex); err != nil {
			return err
		}
		if _, err := fv.tableType(in.Index); err != nil {
			return err
		}
		return fv.popOperandsConsuming([]wasm.ValueType{i32, i32, i32})

	case wasm.OpcodeTableGrow:
		tt, err := fv.tableType(in.TableIndex)
		if err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, i32); err != nil {
			return err
		}
		if err := fv.stack.popExpect(cur.floor, cur.unreachable, tt.ElemType); err != nil {
			return err
		}
		fv.stack.push(i32)
		return nil

	case wasm.OpcodeTableSize:
		_, err := fv.tableType(in.TableIndex)
		if err != nil {
			return err
		}
		fv.stack.push(i32)
		return nil

	case wasm.OpcodeTableFill:
		tt, err := fv.tableType(in.TableIndex)
		if err != nil {
			return err
		}
		return fv.popOperandsConsuming([]wasm.ValueType{i32, tt.ElemType, i32})
	}
	return Invalidf("unhandled 0xfc opcode %#x", in.Opcode)
}

func (fv *funcValidator) numDataSegments() int {
	if fv.v.m.DataCount != nil {
		return int(*fv.v.m.DataCount)
	}
	return len(fv.v.m.Datas)
}
