// Package compress writes and reads whole BGZF files.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"runtime"
	"sync"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"

	"github.com/vertti/bgzchunk/internal/format"
)

// DefaultBlockSize is the default number of input bytes per BGZF block.
const DefaultBlockSize = 0xff00

// MaxBlockSize is the largest input block whose local offsets fit in a
// virtual offset.
const MaxBlockSize = 0x10000

// ErrBlockTooLarge is returned when a block does not compress below the
// BGZF block size limit.
var ErrBlockTooLarge = errors.New("compressed block exceeds 64 KiB")

// blockBuffers holds reusable buffers for block compression.
// Pooled via sync.Pool to avoid allocations across blocks.
type blockBuffers struct {
	payload   bytes.Buffer
	outputBuf bytes.Buffer
}

var blockBufferPool = sync.Pool{
	New: func() any {
		return &blockBuffers{}
	},
}

func (b *blockBuffers) reset() {
	b.payload.Reset()
	b.outputBuf.Reset()
}

// Options configures compression behavior.
type Options struct {
	BlockSize int // Input bytes per block (default: 0xff00)
	Level     int // Deflate level, 0 selects flate.DefaultCompression
	Workers   int // Number of parallel compression workers (default: NumCPU)
}

// compressJob represents a block to be compressed.
type compressJob struct {
	seqNum int
	data   []byte
}

// compressResult represents a compressed block.
type compressResult struct {
	seqNum int
	data   []byte
	err    error
}

func (o *Options) withDefaults() (Options, error) {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Level == 0 {
		out.Level = flate.DefaultCompression
	}
	if out.BlockSize == 0 {
		out.BlockSize = DefaultBlockSize
	}
	if out.BlockSize < 0 || out.BlockSize > MaxBlockSize {
		return out, fmt.Errorf("block size %d out of range (1..%d)", out.BlockSize, MaxBlockSize)
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	return out, nil
}

// Compress reads r and writes it to w as a BGZF file, terminated by the
// empty EOF block.
func Compress(r io.Reader, w io.Writer, opts *Options) error {
	o, err := opts.withDefaults()
	if err != nil {
		return err
	}

	// Single worker path (simpler, no goroutine overhead)
	if o.Workers == 1 {
		err = compressSingleWorker(r, w, o)
	} else {
		err = compressParallel(r, w, o)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(format.EOFMarker); err != nil {
		return fmt.Errorf("writing EOF block: %w", err)
	}
	return nil
}

func compressSingleWorker(r io.Reader, w io.Writer, opts Options) error {
	fw, err := flate.NewWriter(nil, opts.Level)
	if err != nil {
		return fmt.Errorf("creating deflate encoder: %w", err)
	}

	buf := make([]byte, opts.BlockSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			data, err := compressBlockToBytes(buf[:n], fw)
			if err != nil {
				return fmt.Errorf("compressing block: %w", err)
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("writing block: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("reading input: %w", readErr)
		}
	}
}

func compressParallel(r io.Reader, w io.Writer, opts Options) error {
	jobs := make(chan compressJob, opts.Workers*2)
	results := make(chan compressResult, opts.Workers*2)

	g, ctx := errgroup.WithContext(context.Background())

	// Start workers
	for range opts.Workers {
		g.Go(func() error {
			return runCompressionWorker(ctx, jobs, results, opts.Level)
		})
	}

	// Producer: split input into blocks
	g.Go(func() error {
		defer close(jobs)
		return produceCompressJobs(ctx, jobs, r, opts.BlockSize)
	})

	// Collector: write results in order
	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collectAndWriteResults(results, w)
	}()

	// Wait for workers and producer
	workerErr := g.Wait()
	close(results)

	// Wait for collector
	<-collectorDone

	if workerErr != nil {
		return workerErr
	}
	return collectorErr
}

func runCompressionWorker(ctx context.Context, jobs <-chan compressJob, results chan<- compressResult, level int) error {
	fw, err := flate.NewWriter(nil, level)
	if err != nil {
		return fmt.Errorf("creating deflate encoder: %w", err)
	}

	for job := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := compressBlockToBytes(job.data, fw)
		results <- compressResult{seqNum: job.seqNum, data: data, err: err}
	}
	return nil
}

func produceCompressJobs(ctx context.Context, jobs chan<- compressJob, r io.Reader, blockSize int) error {
	seqNum := 0
	for {
		buf := make([]byte, blockSize)
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case jobs <- compressJob{seqNum: seqNum, data: buf[:n]}:
				seqNum++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("reading input: %w", readErr)
		}
	}
}

func collectAndWriteResults(results <-chan compressResult, w io.Writer) error {
	pending := make(map[int][]byte)
	nextSeqNum := 0

	var firstErr error
	for result := range results {
		// Keep draining so workers never block on a full channel.
		if firstErr != nil {
			continue
		}
		if result.err != nil {
			firstErr = fmt.Errorf("compressing block %d: %w", result.seqNum, result.err)
			continue
		}

		pending[result.seqNum] = result.data

		// Write all sequential results available
		for {
			data, ok := pending[nextSeqNum]
			if !ok {
				break
			}
			if _, err := w.Write(data); err != nil {
				firstErr = fmt.Errorf("writing block %d: %w", nextSeqNum, err)
				break
			}
			delete(pending, nextSeqNum)
			nextSeqNum++
		}
	}

	return firstErr
}

// compressBlockToBytes frames data as one BGZF block and returns the
// serialized bytes.
func compressBlockToBytes(data []byte, fw *flate.Writer) ([]byte, error) {
	bufs := blockBufferPool.Get().(*blockBuffers) //nolint:errcheck // pool always returns *blockBuffers
	bufs.reset()
	defer blockBufferPool.Put(bufs)

	if err := compressBlockWithBuffers(data, &bufs.outputBuf, fw, bufs); err != nil {
		return nil, err
	}
	// Copy output so the pooled buffer can be reused
	out := make([]byte, bufs.outputBuf.Len())
	copy(out, bufs.outputBuf.Bytes())
	return out, nil
}

func compressBlockWithBuffers(data []byte, w io.Writer, fw *flate.Writer, bufs *blockBuffers) error {
	fw.Reset(&bufs.payload)
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	header := format.Header{
		BlockSize:   format.BlockOverhead + 6 + bufs.payload.Len(),
		ExtraLength: 6,
	}
	if header.BlockSize > format.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, header.BlockSize)
	}
	if err := header.Write(w); err != nil {
		return err
	}
	if _, err := w.Write(bufs.payload.Bytes()); err != nil {
		return err
	}

	footer := format.Footer{
		CRC32:            crc32.ChecksumIEEE(data),
		DecompressedSize: uint32(len(data)), //nolint:gosec // bounded by MaxBlockSize
	}
	return footer.Write(w)
}
