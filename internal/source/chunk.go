// Package source serves decompressed BGZF data as a sequence of chunks.
//
// A DataChunkSource produces readers; a DataChunkReader hands out chunks of
// decompressed bytes in file order. Chunk contents are written by ops on a
// device.Stream and may be read once that stream has been synchronized.
package source

import "github.com/vertti/bgzchunk/internal/device"

// DataChunk is a contiguous run of decompressed bytes.
type DataChunk interface {
	Size() int
	// Data returns the chunk bytes. Valid after the stream passed to
	// GetNextChunk has been synchronized.
	Data() []byte
}

// DataChunkReader reads chunks in increasing offset order.
type DataChunkReader interface {
	// GetNextChunk returns up to size bytes. A chunk shorter than size
	// means the end of the range was reached; later calls return empty
	// chunks.
	GetNextChunk(size int, stream *device.Stream) (DataChunk, error)
	// SkipBytes advances past size bytes without materializing them,
	// stopping silently at the end of the range.
	SkipBytes(size int) error
	Close() error
}

// DataChunkSource creates independent readers over the same data.
type DataChunkSource interface {
	CreateReader() (DataChunkReader, error)
}

type bufferChunk []byte

func (c bufferChunk) Size() int    { return len(c) }
func (c bufferChunk) Data() []byte { return c }
