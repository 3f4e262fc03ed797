package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxwasm/wasmcore/internal/engineconfig"
	"github.com/sandboxwasm/wasmcore/internal/sidetable"
	"github.com/sandboxwasm/wasmcore/internal/wasm"
)

func buildSingleEntrySideTable() *sidetable.Table {
	t := sidetable.New()
	idx := t.Alloc()
	t.Patch(idx, sidetable.Entry{DeltaIP: 4, DeltaSTP: 1, ValCount: 1, PopCount: 0})
	return t
}

func TestInstrSimple(t *testing.T) {
	r := NewReader([]byte{0x6a, 0x0b}, engineconfig.Default())
	in, err := r.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeI32Add, in.Opcode)
	in, err = r.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeEnd, in.Opcode)
}

func TestInstrI32Const(t *testing.T) {
	r := NewReader([]byte{0x41, 0x7f}, engineconfig.Default())
	in, err := r.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeI32Const, in.Opcode)
	require.Equal(t, int32(-1), in.I32)
}

func TestInstrBrTable(t *testing.T) {
	// br_table with 2 explicit targets {1, 2} and default 0.
	r := NewReader([]byte{0x0e, 0x02, 0x01, 0x02, 0x00}, engineconfig.Default())
	in, err := r.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeBrTable, in.Opcode)
	require.Equal(t, []uint32{1, 2}, in.LabelIndices)
	require.Equal(t, uint32(0), in.LabelDefault)
}

func TestInstrCallIndirect(t *testing.T) {
	r := NewReader([]byte{0x11, 0x03, 0x00}, engineconfig.Default())
	in, err := r.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeCallIndirect, in.Opcode)
	require.Equal(t, uint32(3), in.TypeIndex)
	require.Equal(t, uint32(0), in.TableIndex)
}

func TestInstrMemoryCopyRequiresBulkMemory(t *testing.T) {
	body := []byte{0xfc, 0x0a, 0x00, 0x00} // memory.copy, reserved src/dst bytes
	r := NewReader(body, engineconfig.Features{})
	_, err := r.Instr()
	require.Error(t, err)
	require.True(t, IsUnsupported(err))

	r2 := NewReader(body, engineconfig.Default())
	in, err := r2.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeMemoryCopy, in.Opcode)
}

func TestInstrSaturatingTruncRequiresFeature(t *testing.T) {
	body := []byte{0xfc, 0x00} // i32.trunc_sat_f32_s
	r := NewReader(body, engineconfig.Features{BulkMemory: true})
	_, err := r.Instr()
	require.Error(t, err)
	require.True(t, IsUnsupported(err))

	r2 := NewReader(body, engineconfig.Default())
	in, err := r2.Instr()
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeI32TruncSatF32S, in.Opcode)
}

func TestInstrRefNullRejectsNonRefType(t *testing.T) {
	r := NewReader([]byte{0xd0, wasm.ValueTypeI32}, engineconfig.Default())
	_, err := r.Instr()
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestInstrInvalidOpcode(t *testing.T) {
	r := NewReader([]byte{0xff}, engineconfig.Default())
	_, err := r.Instr()
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestLimitsRejectsBadFlag(t *testing.T) {
	r := NewReader([]byte{0x02, 0x00}, engineconfig.Default())
	_, err := r.Limits(1 << 16)
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestNameRejectsInvalidUTF8(t *testing.T) {
	r := NewReader([]byte{0x02, 0xff, 0xfe}, engineconfig.Default())
	_, err := r.Name()
	require.Error(t, err)
	require.True(t, IsInvalid(err))
}

func TestBlockTypeShorthand(t *testing.T) {
	// -0x40 encodes the empty block type.
	r := NewReader([]byte{0x40}, engineconfig.Default())
	bt, err := r.BlockType()
	require.NoError(t, err)
	require.True(t, bt.IsEmpty())
}

func TestMergeAndExtractSideTableRoundTrip(t *testing.T) {
	mod := addModuleBytes()
	tbl := buildSingleEntrySideTable()
	merged, err := Merge(mod, tbl)
	require.NoError(t, err)

	got, ok, err := ExtractSideTable(merged)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tbl.Entries, got.Entries)

	// The underlying module must still parse cleanly with the custom
	// section present and leading.
	m, err := DecodeModule(merged, engineconfig.Default())
	require.NoError(t, err)
	require.NotNil(t, m.SideTable)
}

func TestExtractSideTableAbsent(t *testing.T) {
	mod := addModuleBytes()
	_, ok, err := ExtractSideTable(mod)
	require.NoError(t, err)
	require.False(t, ok)
}
