package compress

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/vertti/bgzchunk/internal/format"
)

// BlockInfo describes one BGZF block.
type BlockInfo struct {
	CompressedOffset   uint64 // Offset of the block header in the file
	CompressedSize     int    // Total block size, header and footer included
	DecompressedOffset uint64 // Offset of the block's first byte in the decompressed stream
	DecompressedSize   int
}

// VirtualOffset returns the virtual offset of the block's first byte.
func (b BlockInfo) VirtualOffset() format.VirtualOffset {
	return format.NewVirtualOffset(b.CompressedOffset, 0)
}

// Index lists the blocks of a BGZF stream without inflating them. The
// trailing EOF block is included.
func Index(r io.Reader) ([]BlockInfo, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	var blocks []BlockInfo
	var compressed, decompressed uint64
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return blocks, nil
			}
			return nil, err
		}

		h, err := format.ReadHeader(br)
		if err != nil {
			return nil, fmt.Errorf("block at offset %d: %w", compressed, err)
		}
		if _, err := br.Discard(h.DataSize()); err != nil {
			return nil, fmt.Errorf("block at offset %d: %w", compressed, io.ErrUnexpectedEOF)
		}
		f, err := format.ReadFooter(br)
		if err != nil {
			return nil, fmt.Errorf("block at offset %d: %w", compressed, err)
		}

		blocks = append(blocks, BlockInfo{
			CompressedOffset:   compressed,
			CompressedSize:     h.BlockSize,
			DecompressedOffset: decompressed,
			DecompressedSize:   int(f.DecompressedSize),
		})
		compressed += uint64(h.BlockSize) //nolint:gosec // block sizes are positive
		decompressed += uint64(f.DecompressedSize)
	}
}
