package sidetable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocPatch(t *testing.T) {
	tbl := New()
	idx := tbl.Alloc()
	require.Equal(t, uint32(0), idx)
	require.True(t, tbl.Entries[idx].IsInvalid())
	require.False(t, tbl.AllPatched())

	tbl.Patch(idx, Entry{DeltaIP: 4, DeltaSTP: 1, ValCount: 1, PopCount: 0})
	require.False(t, tbl.Entries[idx].IsInvalid())
	require.True(t, tbl.AllPatched())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl := &Table{Entries: []Entry{
		{DeltaIP: 10, DeltaSTP: -1, ValCount: 1, PopCount: 0},
		{DeltaIP: -20, DeltaSTP: 2, ValCount: 0, PopCount: 3},
	}}
	wire := Encode(tbl)
	require.Len(t, wire, 4+2*recordSize)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, tbl.Entries, decoded.Entries)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{1, 0, 0})
	require.Error(t, err)

	_, err = Decode([]byte{2, 0, 0, 0, 1, 2, 3})
	require.Error(t, err)
}

func TestDecodeEmpty(t *testing.T) {
	tbl, err := Decode(Encode(New()))
	require.NoError(t, err)
	require.Empty(t, tbl.Entries)
}
