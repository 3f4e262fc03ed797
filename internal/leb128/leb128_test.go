package leb128

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeUint32(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint32
		n    uint64
	}{
		{"zero", []byte{0x00}, 0, 1},
		{"one byte", []byte{0x7f}, 0x7f, 1},
		{"three bytes", []byte{0xe5, 0x8e, 0x26}, 624485, 3},
		{"max u32", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, n, err := DecodeUint32(c.in)
			require.NoError(t, err)
			require.Equal(t, c.want, v)
			require.Equal(t, c.n, n)
		})
	}
}

func TestDecodeUint32Overflow(t *testing.T) {
	// The fifth byte sets bits beyond the 32-bit width and continues into a
	// sixth byte.
	_, _, err := DecodeUint32([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	require.Error(t, err)
}

func TestDecodeUint32TruncatedInput(t *testing.T) {
	_, _, err := DecodeUint32([]byte{0x80})
	require.Error(t, err)
}

func TestDecodeInt32(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want int32
	}{
		{"zero", []byte{0x00}, 0},
		{"small positive", []byte{0x3f}, 63},
		{"small negative", []byte{0x7f}, -1},
		{"-64 one byte", []byte{0x40}, -64},
		{"624485", []byte{0xe5, 0x8e, 0x26}, 624485},
		{"-123456", []byte{0xc0, 0xbb, 0x78}, -123456},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, _, err := DecodeInt32(c.in)
			require.NoError(t, err)
			require.Equal(t, c.want, v)
		})
	}
}

func TestDecodeInt33AsInt64(t *testing.T) {
	// 0x40 as a 33-bit signed value decodes to -64 (single byte, sign bit set).
	v, n, err := DecodeInt33AsInt64([]byte{0x40})
	require.NoError(t, err)
	require.Equal(t, int64(-64), v)
	require.Equal(t, uint64(1), n)
}

func TestDecodeInt64(t *testing.T) {
	v, _, err := DecodeInt64([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f})
	require.NoError(t, err)
	require.Equal(t, int64(-9223372036854775808), v)
}

func TestEncodeDecodeRoundTripUint32(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 300, 0x7fffffff, 0xffffffff} {
		enc := EncodeUint32(v)
		got, n, err := DecodeUint32(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestEncodeDecodeRoundTripInt32(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 63, -64, 12345, -12345, 2147483647, -2147483648} {
		enc := EncodeInt32(v)
		got, n, err := DecodeInt32(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestEncodeDecodeRoundTripUint64(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 40, 0xffffffffffffffff} {
		enc := EncodeUint64(v)
		got, n, err := DecodeUint64(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestEncodeDecodeRoundTripInt64(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40)} {
		enc := EncodeInt64(v)
		got, n, err := DecodeInt64(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestUseUint32MatchesDecode(t *testing.T) {
	for _, v := range []uint32{0, 127, 624485, 0xffffffff} {
		enc := EncodeUint32(v)
		want, wn, err := DecodeUint32(enc)
		require.NoError(t, err)
		got, gn := UseUint32(enc)
		require.Equal(t, want, got)
		require.Equal(t, wn, gn)
	}
}

func TestUseInt32MatchesDecode(t *testing.T) {
	for _, v := range []int32{0, -1, 63, -64, 12345, -12345} {
		enc := EncodeInt32(v)
		want, wn, err := DecodeInt32(enc)
		require.NoError(t, err)
		got, gn := UseInt32(enc)
		require.Equal(t, want, got)
		require.Equal(t, wn, gn)
	}
}

func TestUseUint64MatchesDecode(t *testing.T) {
	v := uint64(0xdeadbeefcafe)
	enc := EncodeUint64(v)
	want, wn, err := DecodeUint64(enc)
	require.NoError(t, err)
	got, gn := UseUint64(enc)
	require.Equal(t, want, got)
	require.Equal(t, wn, gn)
}

func TestUseInt64MatchesDecode(t *testing.T) {
	v := int64(-123456789)
	enc := EncodeInt64(v)
	want, wn, err := DecodeInt64(enc)
	require.NoError(t, err)
	got, gn := UseInt64(enc)
	require.Equal(t, want, got)
	require.Equal(t, wn, gn)
}
