package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualOffset_Split(t *testing.T) {
	t.Parallel()

	v := NewVirtualOffset(0x123456789a, 0xbcde)
	assert.Equal(t, uint64(0x123456789a), v.CompressedOffset())
	assert.Equal(t, uint16(0xbcde), v.LocalOffset())
	assert.Equal(t, VirtualOffset(0x123456789abcde), v)

	assert.Equal(t, uint64(MaxCompressedOffset), MaxVirtualOffset.CompressedOffset())
	assert.Equal(t, uint16(0xffff), MaxVirtualOffset.LocalOffset())
}

func TestParseVirtualOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  VirtualOffset
	}{
		{"0", 0},
		{"65536", NewVirtualOffset(1, 0)},
		{"0x10005", NewVirtualOffset(1, 5)},
		{"1234:17", NewVirtualOffset(1234, 17)},
		{"0x100:0x10", NewVirtualOffset(256, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVirtualOffset(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVirtualOffset_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "xyz", "1:70000", "0x1000000000000:0", ":1"} {
		_, err := ParseVirtualOffset(input)
		assert.Error(t, err, input)
	}
}

func TestVirtualOffset_StringRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewVirtualOffset(98765, 4321)
	parsed, err := ParseVirtualOffset(v.String())
	require.NoError(t, err)
	assert.Equal(t, v, parsed)
}
