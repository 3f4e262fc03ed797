package binary

import (
	"fmt"

	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/leb128"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
)

var engineconfigZero = engineconfig.Features{}

// Merge re-emits a module with the side table spliced in as a custom
// section immediately after the 8-byte header (spec.md §6), so that a
// subsequent Verify-mode parse finds it before any other section.
func Merge(module []byte, table *sidetable.Table) ([]byte, error) {
	if len(module) < 8 {
		return nil, fmt.Errorf("%w: module shorter than header", errInvalid)
	}
	payload := sidetable.Encode(table)
	name := sidetable.CustomSectionName

	body := make([]byte, 0, len(leb128.EncodeUint32(uint32(len(name))))+len(name)+len(payload))
	body = append(body, leb128.EncodeUint32(uint32(len(name)))...)
	body = append(body, name...)
	body = append(body, payload...)

	out := make([]byte, 0, len(module)+len(body)+5)
	out = append(out, module[:8]...)
	out = append(out, byte(sectionCustom))
	out = append(out, leb128.EncodeUint32(uint32(len(body)))...)
	out = append(out, body...)
	out = append(out, module[8:]...)
	return out, nil
}

// ExtractSideTable scans a module's leading custom sections for
// `wasefire-sidetable` and decodes it, per spec.md §6 ("When present
// (Verify mode), it must precede all non-custom sections"). It returns
// (nil, false, nil) when absent, stopping at the first non-custom section
// since by contract the side table custom section must lead.
func ExtractSideTable(module []byte) (*sidetable.Table, bool, error) {
	if len(module) < 8 {
		return nil, false, fmt.Errorf("%w: module shorter than header", errInvalid)
	}
	r := NewReader(module[8:], engineconfigZero)
	for r.Len() > 0 {
		id, err := r.Byte()
		if err != nil {
			return nil, false, err
		}
		size, err := r.U32()
		if err != nil {
			return nil, false, err
		}
		body, err := r.Bytes(int(size))
		if err != nil {
			return nil, false, err
		}
		if sectionID(id) != sectionCustom {
			return nil, false, nil
		}
		sr := NewReader(body, engineconfigZero)
		name, err := sr.Name()
		if err != nil {
			return nil, false, err
		}
		if name != sidetable.CustomSectionName {
			continue
		}
		tbl, err := sidetable.Decode(body[sr.Pos():])
		if err != nil {
			return nil, false, err
		}
		return tbl, true, nil
	}
	return nil, false, nil
}
