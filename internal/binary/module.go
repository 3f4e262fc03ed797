package binary

import (
	"fmt"

	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

type sectionID byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
	sectionDataCount
)

// DecodeModule parses a complete Wasm binary into its raw (unvalidated)
// syntax tree: the parser only rejects what it cannot represent
// structurally (bad section order, truncation, bad UTF-8, disabled
// features); typing and index-bounds checks belong to internal/validator.
//
// If data begins with the `wasefire-sidetable` custom section (Verify
// mode per spec.md §4.2), its payload is captured into Module.SideTable
// for internal/validator to re-check.
func DecodeModule(data []byte, features engineconfig.Features) (*wasm.Module, error) {
	r := NewReader(data, features)
	hdr, err := r.Bytes(8)
	if err != nil {
		return nil, r.Invalidf("truncated header")
	}
	for i, b := range hdr {
		if b != Magic[i] {
			return nil, r.Invalidf("bad magic/version header")
		}
	}

	m := &wasm.Module{}
	m.SetRaw(data)

	var prevSection sectionID = sectionCustom
	prevOrder := 0
	sawSection := map[sectionID]bool{}
	var dataCountSeen bool

	for r.Len() > 0 {
		id, err := r.Byte()
		if err != nil {
			return nil, err
		}
		size, err := r.U32()
		if err != nil {
			return nil, err
		}
		body, err := r.Bytes(int(size))
		if err != nil {
			return nil, err
		}
		sr := NewReader(body, features)

		sid := sectionID(id)
		if sid == sectionCustom {
			name, err := sr.Name()
			if err != nil {
				return nil, err
			}
			m.Customs = append(m.Customs, wasm.CustomSection{Name: name, Data: body[sr.Pos():]})
			continue
		}
		if sid < sectionCustom || sid > sectionDataCount {
			return nil, r.Invalidf("invalid section id %d", id)
		}
		// The data-count section (id 12) is placed between element and code.
		order := int(sid) * 2
		if sid == sectionDataCount {
			order = int(sectionCode)*2 - 1
		}
		if order <= prevOrder {
			return nil, r.Invalidf("section %d out of order (after %d)", sid, prevSection)
		}
		if sawSection[sid] {
			return nil, r.Invalidf("duplicate section %d", sid)
		}
		sawSection[sid] = true
		prevSection = sid
		prevOrder = order

		switch sid {
		case sectionType:
			if err := decodeTypeSection(sr, m); err != nil {
				return nil, err
			}
		case sectionImport:
			if err := decodeImportSection(sr, m); err != nil {
				return nil, err
			}
		case sectionFunction:
			if err := decodeFunctionSection(sr, m); err != nil {
				return nil, err
			}
		case sectionTable:
			if err := decodeTableSection(sr, m); err != nil {
				return nil, err
			}
		case sectionMemory:
			if err := decodeMemorySection(sr, m); err != nil {
				return nil, err
			}
		case sectionGlobal:
			if err := decodeGlobalSection(sr, m); err != nil {
				return nil, err
			}
		case sectionExport:
			if err := decodeExportSection(sr, m); err != nil {
				return nil, err
			}
		case sectionStart:
			idx, err := sr.U32()
			if err != nil {
				return nil, err
			}
			m.StartFuncIndex = &idx
		case sectionElement:
			if err := decodeElementSection(sr, m); err != nil {
				return nil, err
			}
		case sectionDataCount:
			n, err := sr.U32()
			if err != nil {
				return nil, err
			}
			m.DataCount = &n
			dataCountSeen = true
		case sectionCode:
			if err := decodeCodeSection(sr, m, body); err != nil {
				return nil, err
			}
		case sectionData:
			if err := decodeDataSection(sr, m); err != nil {
				return nil, err
			}
		}
		if sr.Len() != 0 {
			return nil, r.Invalidf("section %d has trailing bytes", sid)
		}
	}

	if sawSection[sectionData] && dataCountSeen && uint32(len(m.Datas)) != *m.DataCount {
		return nil, fmt.Errorf("%w: data-count section (%d) disagrees with data section (%d)", errInvalid, *m.DataCount, len(m.Datas))
	}
	if sawSection[sectionCode] != sawSection[sectionFunction] {
		return nil, fmt.Errorf("%w: function and code section counts disagree", errInvalid)
	}
	if len(m.Code) != len(m.FuncTypeIndices) {
		return nil, fmt.Errorf("%w: function section declares %d functions, code section has %d bodies", errInvalid, len(m.FuncTypeIndices), len(m.Code))
	}

	for _, c := range m.Customs {
		if c.Name == sidetable.CustomSectionName {
			tbl, err := sidetable.Decode(c.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errInvalid, err)
			}
			m.SideTable = tbl
			break
		}
	}

	return m, nil
}

func decodeTypeSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Types = make([]wasm.FuncType, n)
	for i := range m.Types {
		m.Types[i], err = r.FuncType()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeImportSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Imports = make([]wasm.Import, n)
	for i := range m.Imports {
		mod, err := r.Name()
		if err != nil {
			return err
		}
		name, err := r.Name()
		if err != nil {
			return err
		}
		kind, err := r.Byte()
		if err != nil {
			return err
		}
		imp := wasm.Import{Module: mod, Name: name, Type: kind}
		switch kind {
		case 0x00:
			imp.FuncTypeIndex, err = r.U32()
		case 0x01:
			imp.Table, err = decodeTableType(r)
		case 0x02:
			imp.Memory, err = decodeMemoryType(r)
		case 0x03:
			imp.Global, err = decodeGlobalType(r)
		default:
			return r.Invalidf("invalid import kind %#x", kind)
		}
		if err != nil {
			return err
		}
		m.Imports[i] = imp
	}
	return nil
}

func decodeTableType(r *Reader) (wasm.TableType, error) {
	et, err := r.ValType()
	if err != nil {
		return wasm.TableType{}, err
	}
	if !isRefType(et) {
		return wasm.TableType{}, r.Invalidf("table element type must be a reference type")
	}
	lim, err := r.Limits(1 << 32 - 1)
	if err != nil {
		return wasm.TableType{}, err
	}
	return wasm.TableType{ElemType: et, Limits: lim}, nil
}

func decodeMemoryType(r *Reader) (wasm.MemoryType, error) {
	lim, err := r.Limits(1 << 16)
	if err != nil {
		return wasm.MemoryType{}, err
	}
	return wasm.MemoryType{Limits: lim}, nil
}

func decodeGlobalType(r *Reader) (wasm.GlobalType, error) {
	vt, err := r.ValType()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	mutFlag, err := r.Byte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	if mutFlag > 1 {
		return wasm.GlobalType{}, r.Invalidf("invalid global mutability flag %#x", mutFlag)
	}
	return wasm.GlobalType{ValType: vt, Mutable: mutFlag == 1}, nil
}

func decodeFunctionSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.FuncTypeIndices = make([]uint32, n)
	for i := range m.FuncTypeIndices {
		m.FuncTypeIndices[i], err = r.U32()
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeTableSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Tables = make([]wasm.TableType, n)
	for i := range m.Tables {
		m.Tables[i], err = decodeTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeMemorySection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	if n > 1 {
		return r.Invalidf("multiple memories not supported")
	}
	m.Memories = make([]wasm.MemoryType, n)
	for i := range m.Memories {
		m.Memories[i], err = decodeMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeGlobalSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Globals = make([]wasm.GlobalEntry, n)
	for i := range m.Globals {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return err
		}
		ce, err := r.constExpr()
		if err != nil {
			return err
		}
		m.Globals[i] = wasm.GlobalEntry{Type: gt, Init: ce}
	}
	return nil
}

func decodeExportSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Exports = make([]wasm.Export, n)
	seen := map[string]bool{}
	for i := range m.Exports {
		name, err := r.Name()
		if err != nil {
			return err
		}
		if seen[name] {
			return r.Invalidf("duplicate export name %q", name)
		}
		seen[name] = true
		kind, err := r.Byte()
		if err != nil {
			return err
		}
		idx, err := r.U32()
		if err != nil {
			return err
		}
		m.Exports[i] = wasm.Export{Name: name, Type: kind, Index: idx}
	}
	return nil
}

// constExpr decodes a constant expression body up to and including its
// terminating `end`, returning where it began and which single opcode it
// held (spec.md §4.2: only *.const, ref.null, ref.func, global.get of an
// immutable imported global are legal; the validator enforces the
// legality, this layer only captures the shape).
func (r *Reader) constExpr() (wasm.ConstExpr, error) {
	first, err := r.Instr()
	if err != nil {
		return wasm.ConstExpr{}, err
	}
	end, err := r.Instr()
	if err != nil {
		return wasm.ConstExpr{}, err
	}
	if end.Opcode != wasm.OpcodeEnd {
		return wasm.ConstExpr{}, r.Invalidf("constant expression must be a single instruction followed by end")
	}
	return wasm.ConstExpr{Instr: first}, nil
}

func decodeElementSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Elements = make([]wasm.ElementSegment, n)
	for i := range m.Elements {
		flags, err := r.U32()
		if err != nil {
			return err
		}
		seg := wasm.ElementSegment{Type: wasm.ValueTypeFuncref}
		switch flags {
		case 0:
			seg.Mode = wasm.ElementModeActive
			seg.Offset, err = r.constExpr()
			if err != nil {
				return err
			}
			seg.IsFuncIndices = true
			seg.Init, err = decodeU32Vec(r)
		case 1:
			seg.Mode = wasm.ElementModePassive
			if _, err = r.Byte(); err != nil { // elemkind, must be 0x00 (funcref)
				return err
			}
			seg.IsFuncIndices = true
			seg.Init, err = decodeU32Vec(r)
		case 2:
			seg.Mode = wasm.ElementModeActive
			seg.TableIndex, err = r.U32()
			if err != nil {
				return err
			}
			seg.Offset, err = r.constExpr()
			if err != nil {
				return err
			}
			if _, err = r.Byte(); err != nil {
				return err
			}
			seg.IsFuncIndices = true
			seg.Init, err = decodeU32Vec(r)
		case 3:
			seg.Mode = wasm.ElementModeDeclarative
			if _, err = r.Byte(); err != nil {
				return err
			}
			seg.IsFuncIndices = true
			seg.Init, err = decodeU32Vec(r)
		case 4:
			seg.Mode = wasm.ElementModeActive
			seg.Offset, err = r.constExpr()
			if err != nil {
				return err
			}
			seg.InitExpr, err = decodeExprVec(r)
		case 5:
			seg.Mode = wasm.ElementModePassive
			seg.Type, err = r.ValType()
			if err != nil {
				return err
			}
			seg.InitExpr, err = decodeExprVec(r)
		case 6:
			seg.Mode = wasm.ElementModeActive
			seg.TableIndex, err = r.U32()
			if err != nil {
				return err
			}
			seg.Offset, err = r.constExpr()
			if err != nil {
				return err
			}
			seg.Type, err = r.ValType()
			if err != nil {
				return err
			}
			seg.InitExpr, err = decodeExprVec(r)
		case 7:
			seg.Mode = wasm.ElementModeDeclarative
			seg.Type, err = r.ValType()
			if err != nil {
				return err
			}
			seg.InitExpr, err = decodeExprVec(r)
		default:
			return r.Invalidf("invalid element segment flags %d", flags)
		}
		if err != nil {
			return err
		}
		if seg.Mode != wasm.ElementModeActive && !r.Features.BulkMemory {
			return r.Unsupportedf("passive/declarative element segments")
		}
		m.Elements[i] = seg
	}
	return nil
}

func decodeU32Vec(r *Reader) ([]uint32, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i], err = r.U32()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeExprVec(r *Reader) ([]wasm.ConstExpr, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ConstExpr, n)
	for i := range out {
		out[i], err = r.constExpr()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeDataSection(r *Reader, m *wasm.Module) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Datas = make([]wasm.DataSegment, n)
	for i := range m.Datas {
		flags, err := r.U32()
		if err != nil {
			return err
		}
		seg := wasm.DataSegment{}
		switch flags {
		case 0:
			seg.Mode = wasm.DataModeActive
			seg.Offset, err = r.constExpr()
			if err != nil {
				return err
			}
		case 1:
			seg.Mode = wasm.DataModePassive
			if !r.Features.BulkMemory {
				return r.Unsupportedf("passive data segments")
			}
		case 2:
			seg.Mode = wasm.DataModeActive
			memIdx, err2 := r.U32()
			if err2 != nil {
				return err2
			}
			if memIdx != 0 {
				return r.Invalidf("multiple memories not supported")
			}
			seg.Offset, err = r.constExpr()
			if err != nil {
				return err
			}
		default:
			return r.Invalidf("invalid data segment flags %d", flags)
		}
		n, err := r.U32()
		if err != nil {
			return err
		}
		seg.Init, err = r.Bytes(int(n))
		if err != nil {
			return err
		}
		m.Datas[i] = seg
	}
	return nil
}

func decodeCodeSection(r *Reader, m *wasm.Module, sectionBody []byte) error {
	n, err := r.U32()
	if err != nil {
		return err
	}
	m.Code = make([]wasm.Code, n)
	for i := range m.Code {
		size, err := r.U32()
		if err != nil {
			return err
		}
		bodyStart := r.Pos()
		body, err := r.Bytes(int(size))
		if err != nil {
			return err
		}
		br := NewReader(body, r.Features)
		localCount, err := br.U32()
		if err != nil {
			return err
		}
		var locals []wasm.ValueType
		var total uint64
		for j := uint32(0); j < localCount; j++ {
			cnt, err := br.U32()
			if err != nil {
				return err
			}
			vt, err := br.ValType()
			if err != nil {
				return err
			}
			total += uint64(cnt)
			if total > (1 << 32) {
				return br.Invalidf("too many locals")
			}
			for k := uint32(0); k < cnt; k++ {
				locals = append(locals, vt)
			}
		}
		code := wasm.Code{
			LocalTypes: locals,
			Body:       body[br.Pos():],
			BodyOffset: uint32(bodyStart + br.Pos()),
		}
		m.Code[i] = code
	}
	return nil
}
