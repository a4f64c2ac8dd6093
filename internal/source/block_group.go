package source

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/vertti/bgzchunk/internal/device"
	"github.com/vertti/bgzchunk/internal/format"
	"github.com/vertti/bgzchunk/internal/inflate"
)

// blockGroup is a batch of consecutive BGZF blocks that is decompressed as
// a unit. Host tables are filled while parsing; the device side is built
// by decompress, at most once per population.
type blockGroup struct {
	// Host side. Offset tables are cumulative and start with 0.
	hostCompressed      []byte
	compressedOffsets   []int
	decompressedOffsets []int

	// Device side, only touched by stream ops.
	deviceCompressed          []byte
	deviceDecompressed        []byte
	deviceCompressedOffsets   []int
	deviceDecompressedOffsets []int
	compressedSpans           [][]byte
	decompressedSpans         [][]byte
	results                   []inflate.Result

	maxDecompressedSize int
	// availableDecompressedSize is what the reader may expose. It is less
	// than decompressedSize() when the range ends inside the last block.
	availableDecompressedSize int
	readPos                   int
	isDecompressed            bool

	// event completes when the latest decompress+copy sequence has run.
	// stream is where it was last recorded; every op touching the group
	// since the last host wait was issued there.
	event  *device.Event
	stream *device.Stream
}

func newBlockGroup() *blockGroup {
	return &blockGroup{
		compressedOffsets:   []int{0},
		decompressedOffsets: []int{0},
		event:               device.NewEvent(),
	}
}

// reset empties the group, keeping allocations. The caller must have
// waited on the group's event.
func (g *blockGroup) reset() {
	g.hostCompressed = g.hostCompressed[:0]
	g.compressedOffsets = g.compressedOffsets[:1]
	g.decompressedOffsets = g.decompressedOffsets[:1]

	g.deviceCompressed = g.deviceCompressed[:0]
	g.deviceDecompressed = g.deviceDecompressed[:0]
	g.deviceCompressedOffsets = g.deviceCompressedOffsets[:0]
	g.deviceDecompressedOffsets = g.deviceDecompressedOffsets[:0]
	g.compressedSpans = g.compressedSpans[:0]
	g.decompressedSpans = g.decompressedSpans[:0]
	g.results = g.results[:0]

	g.maxDecompressedSize = 0
	g.availableDecompressedSize = 0
	g.readPos = 0
	g.isDecompressed = false
	g.stream = nil
}

func (g *blockGroup) numBlocks() int {
	return len(g.compressedOffsets) - 1
}

func (g *blockGroup) compressedSize() int {
	return g.compressedOffsets[len(g.compressedOffsets)-1]
}

func (g *blockGroup) decompressedSize() int {
	return g.decompressedOffsets[len(g.decompressedOffsets)-1]
}

func (g *blockGroup) remainingSize() int {
	return g.availableDecompressedSize - g.readPos
}

// readBlock appends the deflate payload of the block described by h.
func (g *blockGroup) readBlock(h format.Header, r io.Reader) error {
	start := len(g.hostCompressed)
	g.hostCompressed = slices.Grow(g.hostCompressed, h.DataSize())[:start+h.DataSize()]
	if _, err := io.ReadFull(r, g.hostCompressed[start:]); err != nil {
		g.hostCompressed = g.hostCompressed[:start]
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("reading block payload: %w", err)
	}
	return nil
}

func (g *blockGroup) addBlockOffsets(h format.Header, f format.Footer) {
	size := int(f.DecompressedSize)
	g.maxDecompressedSize = max(g.maxDecompressedSize, size)
	g.compressedOffsets = append(g.compressedOffsets, g.compressedSize()+h.DataSize())
	g.decompressedOffsets = append(g.decompressedOffsets, g.decompressedSize()+size)
}

func (g *blockGroup) consumeBytes(size int) error {
	if size > g.remainingSize() {
		return fmt.Errorf("%w: consuming %d bytes with %d remaining", ErrOutOfBounds, size, g.remainingSize())
	}
	g.readPos += size
	return nil
}

// decompress schedules decompression of the whole group on stream. Calls
// after the first are no-ops until the group is reset.
func (g *blockGroup) decompress(stream *device.Stream, backend inflate.Backend) error {
	if g.isDecompressed {
		if g.stream != stream {
			// Ops on the other stream are not ordered with ours.
			return g.event.Synchronize()
		}
		return nil
	}

	n := g.numBlocks()
	total := g.decompressedSize()
	err := stream.Launch(func() error {
		g.deviceCompressed = append(g.deviceCompressed[:0], g.hostCompressed...)
		g.deviceCompressedOffsets = append(g.deviceCompressedOffsets[:0], g.compressedOffsets...)
		g.deviceDecompressedOffsets = append(g.deviceDecompressedOffsets[:0], g.decompressedOffsets...)
		g.deviceDecompressed = slices.Grow(g.deviceDecompressed[:0], total)[:total]

		g.compressedSpans = slices.Grow(g.compressedSpans[:0], n)[:n]
		g.decompressedSpans = slices.Grow(g.decompressedSpans[:0], n)[:n]
		g.results = slices.Grow(g.results[:0], n)[:n]
		for i := range n {
			cb, ce := g.deviceCompressedOffsets[i], g.deviceCompressedOffsets[i+1]
			db, de := g.deviceDecompressedOffsets[i], g.deviceDecompressedOffsets[i+1]
			g.compressedSpans[i] = g.deviceCompressed[cb:ce:ce]
			g.decompressedSpans[i] = g.deviceDecompressed[db:de:de]
		}
		if n == 0 {
			return nil
		}

		if err := backend.Decompress(g.compressedSpans, g.decompressedSpans, g.results); err != nil {
			return fmt.Errorf("decompressing %d blocks with %s: %w", n, backend.Name(), err)
		}
		return g.checkResults()
	})
	if err != nil {
		return err
	}
	if err := g.record(stream); err != nil {
		return err
	}
	g.isDecompressed = true
	return nil
}

// record marks the end of the ops issued so far for this group.
func (g *blockGroup) record(stream *device.Stream) error {
	if err := g.event.Record(stream); err != nil {
		return err
	}
	g.stream = stream
	return nil
}

// checkResults runs on the stream after the backend.
func (g *blockGroup) checkResults() error {
	for i, res := range g.results {
		want := g.deviceDecompressedOffsets[i+1] - g.deviceDecompressedOffsets[i]
		if res.Status != inflate.StatusSuccess || res.BytesWritten != want {
			return fmt.Errorf("%w: block %d: %s, %d of %d bytes", ErrBlockDecompression, i, res.Status, res.BytesWritten, want)
		}
	}
	return nil
}
