package format

import (
	"fmt"
	"strconv"
)

// VirtualOffset addresses a byte of the decompressed stream. The upper 48
// bits hold the compressed file offset of a block start, the lower 16 bits
// the offset into that block's decompressed data.
type VirtualOffset uint64

// MaxVirtualOffset is used as the end of an unbounded range.
const MaxVirtualOffset = VirtualOffset(^uint64(0))

const (
	localOffsetBits = 16
	localOffsetMask = 1<<localOffsetBits - 1

	// MaxCompressedOffset is the largest compressed offset a VirtualOffset can hold.
	MaxCompressedOffset = 1<<48 - 1
)

// NewVirtualOffset combines a compressed block offset and a local offset.
func NewVirtualOffset(compressed uint64, local uint16) VirtualOffset {
	return VirtualOffset(compressed<<localOffsetBits | uint64(local))
}

// CompressedOffset returns the file offset of the addressed block.
func (v VirtualOffset) CompressedOffset() uint64 {
	return uint64(v) >> localOffsetBits
}

// LocalOffset returns the offset into the addressed block's decompressed data.
func (v VirtualOffset) LocalOffset() uint16 {
	return uint16(v & localOffsetMask)
}

// String returns v in hexadecimal, as accepted by ParseVirtualOffset.
func (v VirtualOffset) String() string {
	return "0x" + strconv.FormatUint(uint64(v), 16)
}

// ParseVirtualOffset parses a decimal, 0x-prefixed hexadecimal or
// "compressed:local" offset.
func ParseVirtualOffset(s string) (VirtualOffset, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		compressed, err := strconv.ParseUint(s[:i], 0, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing compressed offset %q: %w", s[:i], err)
		}
		if compressed > MaxCompressedOffset {
			return 0, fmt.Errorf("compressed offset %d exceeds 48 bits", compressed)
		}
		local, err := strconv.ParseUint(s[i+1:], 0, 16)
		if err != nil {
			return 0, fmt.Errorf("parsing local offset %q: %w", s[i+1:], err)
		}
		return NewVirtualOffset(compressed, uint16(local)), nil
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing virtual offset %q: %w", s, err)
	}
	return VirtualOffset(v), nil
}
