package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/vertti/bgzchunk/internal/device"
	"github.com/vertti/bgzchunk/internal/format"
	"github.com/vertti/bgzchunk/internal/inflate"
)

// DefaultInitialReadSize is the decompressed size the reader stages at
// construction and after each skip.
const DefaultInitialReadSize = 1 << 24

const streamBufferSize = 1 << 20

// Reader errors.
var (
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrNegativeSize       = errors.New("negative size")
	ErrNilStream          = errors.New("nil stream")
	ErrBlockDecompression = errors.New("block decompression failed")
)

// Options configures readers.
type Options struct {
	Backend         inflate.Backend    // DEFLATE backend (default: batched, NumCPU workers)
	InitialReadSize int                // Bytes staged per load when not serving a request (default: 16 MiB)
	Logger          logrus.FieldLogger // Debug output for block group loads (default: discarded)
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Backend == nil {
		out.Backend = inflate.NewBatched(runtime.NumCPU())
	}
	if out.InitialReadSize <= 0 {
		out.InitialReadSize = DefaultInitialReadSize
	}
	if out.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		out.Logger = l
	}
	return out
}

// Reader serves the decompressed bytes of a virtual offset range of a
// BGZF stream. Two block groups are kept: the current one, still being
// read, and the previous one, whose tail may complete a chunk that
// crosses the group boundary.
type Reader struct {
	rs   io.ReadSeeker
	data *bufio.Reader

	curr *blockGroup
	prev *blockGroup

	compressedPos uint64
	compressedEnd uint64
	localEnd      int

	backend         inflate.Backend
	initialReadSize int
	log             logrus.FieldLogger
}

var _ DataChunkReader = (*Reader)(nil)

// NewReader returns a reader over [begin, end) of the BGZF stream rs.
// The reader closes rs on Close if it implements io.Closer.
func NewReader(rs io.ReadSeeker, begin, end format.VirtualOffset, opts *Options) (*Reader, error) {
	o := opts.withDefaults()
	r := &Reader{
		rs:              rs,
		curr:            newBlockGroup(),
		prev:            newBlockGroup(),
		compressedPos:   begin.CompressedOffset(),
		compressedEnd:   end.CompressedOffset(),
		localEnd:        int(end.LocalOffset()),
		backend:         o.Backend,
		initialReadSize: o.InitialReadSize,
		log:             o.Logger,
	}

	if _, err := rs.Seek(int64(r.compressedPos), io.SeekStart); err != nil { //nolint:gosec // bounded to 48 bits
		return nil, fmt.Errorf("seeking to compressed offset %d: %w", r.compressedPos, err)
	}
	r.data = bufio.NewReaderSize(rs, streamBufferSize)

	if err := r.readNextCompressedChunk(r.initialReadSize); err != nil {
		return nil, err
	}

	// Drop the bytes of the first block before the local begin offset.
	if local := int(begin.LocalOffset()); local > 0 {
		if r.curr.numBlocks() == 0 || local >= r.curr.decompressedOffsets[1] {
			return nil, fmt.Errorf("%w: local offset %d of virtual offset %s is outside the first block", ErrOutOfBounds, local, begin)
		}
		if err := r.curr.consumeBytes(local); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// readNextCompressedChunk makes the current group the previous one and
// refills the other group until it holds at least requested decompressed
// bytes or the range or stream ends.
func (r *Reader) readNextCompressedChunk(requested int) error {
	r.curr, r.prev = r.prev, r.curr
	if r.curr.isDecompressed {
		// Pending ops may still read this group's buffers.
		if err := r.curr.event.Synchronize(); err != nil {
			return fmt.Errorf("waiting for block group: %w", err)
		}
	}
	r.curr.reset()

	g := r.curr
	for g.decompressedSize() < requested {
		if _, err := r.data.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading BGZF stream: %w", err)
		}
		if r.compressedPos > r.compressedEnd {
			break
		}

		h, err := format.ReadHeader(r.data)
		if err != nil {
			return fmt.Errorf("reading block header at offset %d: %w", r.compressedPos, err)
		}
		if err := g.readBlock(h, r.data); err != nil {
			return fmt.Errorf("reading block at offset %d: %w", r.compressedPos, err)
		}
		f, err := format.ReadFooter(r.data)
		if err != nil {
			return fmt.Errorf("reading block footer at offset %d: %w", r.compressedPos, err)
		}
		g.addBlockOffsets(h, f)

		size := int(f.DecompressedSize)
		if r.compressedPos == r.compressedEnd {
			// The range ends inside this block: it is decompressed in
			// full but only the bytes before localEnd are exposed.
			g.availableDecompressedSize += min(r.localEnd, size)
			r.compressedPos += uint64(h.BlockSize) //nolint:gosec // positive
			break
		}
		g.availableDecompressedSize += size
		r.compressedPos += uint64(h.BlockSize) //nolint:gosec // positive
	}

	r.log.WithFields(logrus.Fields{
		"blocks":       g.numBlocks(),
		"compressed":   humanize.Bytes(uint64(g.compressedSize())),    //nolint:gosec // non-negative
		"decompressed": humanize.Bytes(uint64(g.decompressedSize())),  //nolint:gosec // non-negative
		"largest":      humanize.Bytes(uint64(g.maxDecompressedSize)), //nolint:gosec // non-negative
		"available":    g.availableDecompressedSize,
		"position":     r.compressedPos,
	}).Debug("loaded block group")
	return nil
}

// GetNextChunk implements DataChunkReader.
func (r *Reader) GetNextChunk(size int, stream *device.Stream) (DataChunk, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: chunk of %d bytes", ErrNegativeSize, size)
	}
	if stream == nil {
		return nil, ErrNilStream
	}

	if size <= r.curr.remainingSize() {
		g := r.curr
		if err := g.decompress(stream, r.backend); err != nil {
			return nil, err
		}
		out := make([]byte, size)
		pos := g.readPos
		if err := stream.Launch(func() error {
			copy(out, g.deviceDecompressed[pos:pos+size])
			return nil
		}); err != nil {
			return nil, err
		}
		if err := g.record(stream); err != nil {
			return nil, err
		}
		if err := g.consumeBytes(size); err != nil {
			return nil, err
		}
		return bufferChunk(out), nil
	}

	// The chunk crosses into the next group.
	if err := r.readNextCompressedChunk(size - r.curr.remainingSize()); err != nil {
		return nil, err
	}
	prev, curr := r.prev, r.curr
	if err := prev.decompress(stream, r.backend); err != nil {
		return nil, err
	}
	if err := curr.decompress(stream, r.backend); err != nil {
		return nil, err
	}

	head := prev.remainingSize()
	size = min(size, head+curr.remainingSize())
	tail := size - head
	out := make([]byte, size)
	prevPos, currPos := prev.readPos, curr.readPos
	if err := stream.Launch(func() error {
		copy(out[:head], prev.deviceDecompressed[prevPos:prevPos+head])
		copy(out[head:], curr.deviceDecompressed[currPos:currPos+tail])
		return nil
	}); err != nil {
		return nil, err
	}
	if err := curr.record(stream); err != nil {
		return nil, err
	}
	if err := prev.record(stream); err != nil {
		return nil, err
	}
	if err := curr.consumeBytes(tail); err != nil {
		return nil, err
	}
	if err := prev.consumeBytes(head); err != nil {
		return nil, err
	}
	return bufferChunk(out), nil
}

// SkipBytes implements DataChunkReader.
func (r *Reader) SkipBytes(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: skipping %d bytes", ErrNegativeSize, size)
	}
	for size > r.curr.remainingSize() {
		remaining := r.curr.remainingSize()
		size -= remaining
		if err := r.curr.consumeBytes(remaining); err != nil {
			return err
		}
		if err := r.readNextCompressedChunk(r.initialReadSize); err != nil {
			return err
		}
		if r.curr.remainingSize() == 0 {
			return nil
		}
	}
	return r.curr.consumeBytes(size)
}

// Close waits for outstanding work on both groups and closes the
// underlying stream. Stream errors are reported by Synchronize, not here.
func (r *Reader) Close() error {
	_ = r.prev.event.Synchronize()
	_ = r.curr.event.Synchronize()
	if c, ok := r.rs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Source creates readers over a BGZF file.
type Source struct {
	filename string
	begin    format.VirtualOffset
	end      format.VirtualOffset
	opts     Options
}

var _ DataChunkSource = (*Source)(nil)

// FromBGZIPFile returns a source over the whole decompressed file.
func FromBGZIPFile(filename string, opts *Options) *Source {
	return FromBGZIPFileRange(filename, 0, format.MaxVirtualOffset, opts)
}

// FromBGZIPFileRange returns a source over the virtual offset range
// [begin, end) of filename.
func FromBGZIPFileRange(filename string, begin, end format.VirtualOffset, opts *Options) *Source {
	return &Source{
		filename: filename,
		begin:    begin,
		end:      end,
		opts:     opts.withDefaults(),
	}
}

// CreateReader implements DataChunkSource.
func (s *Source) CreateReader() (DataChunkReader, error) {
	f, err := os.Open(s.filename)
	if err != nil {
		return nil, fmt.Errorf("opening BGZF file: %w", err)
	}
	r, err := NewReader(f, s.begin, s.end, &s.opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}
