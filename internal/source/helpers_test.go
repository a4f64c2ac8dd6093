package source

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"

	"github.com/vertti/bgzchunk/internal/format"
	"github.com/vertti/bgzchunk/internal/inflate"
)

// testBlock describes one block of a generated BGZF file.
type testBlock struct {
	offset uint64 // compressed offset of the block start
	start  int    // decompressed offset of the first byte
	size   int    // decompressed size
}

type bgzfFile struct {
	raw    []byte
	data   []byte
	blocks []testBlock
}

// virtual returns the virtual offset of decompressed position pos.
func (f bgzfFile) virtual(t *testing.T, pos int) format.VirtualOffset {
	t.Helper()
	for _, b := range f.blocks {
		if pos >= b.start && pos < b.start+b.size {
			return format.NewVirtualOffset(b.offset, uint16(pos-b.start)) //nolint:gosec // below block size
		}
	}
	t.Fatalf("position %d outside data", pos)
	return 0
}

func testData(n int) []byte {
	rng := rand.New(rand.NewPCG(7, uint64(n))) //nolint:gosec // deterministic test data
	words := []string{"ACGT", "chr1\t", "read", "\n", "quality", "TTTTTTTT", "@SEQ_", "42"}
	var buf bytes.Buffer
	for buf.Len() < n {
		if rng.IntN(10) == 0 {
			buf.WriteByte(byte(rng.IntN(256)))
			continue
		}
		buf.WriteString(words[rng.IntN(len(words))])
	}
	return buf.Bytes()[:n]
}

// buildBGZF splits data into blocks of blockSize bytes and frames each as
// a BGZF block. extra, when set, is placed in front of the block size
// subfield of every header.
func buildBGZF(t *testing.T, data []byte, blockSize int, extra []byte) bgzfFile {
	t.Helper()

	f := bgzfFile{data: data}
	var out bytes.Buffer
	for start := 0; start < len(data); start += blockSize {
		end := min(start+blockSize, len(data))
		f.blocks = append(f.blocks, testBlock{offset: uint64(out.Len()), start: start, size: end - start})
		writeBlock(t, &out, data[start:end], extra)
	}
	out.Write(format.EOFMarker)
	f.raw = out.Bytes()
	return f
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeBlock(t *testing.T, out *bytes.Buffer, data, extra []byte) {
	t.Helper()

	payload := deflate(t, data)
	blockSize := format.BlockOverhead + len(extra) + 6 + len(payload)
	if extra == nil {
		require.NoError(t, format.Header{BlockSize: blockSize, ExtraLength: 6}.Write(out))
	} else {
		hdr := make([]byte, format.HeaderSize)
		copy(hdr, format.Magic[:])
		hdr[9] = 0xff
		binary.LittleEndian.PutUint16(hdr[10:12], uint16(len(extra)+6)) //nolint:gosec // small
		out.Write(hdr)
		out.Write(extra)
		out.Write([]byte{66, 67, 2, 0, byte(blockSize - 1), byte((blockSize - 1) >> 8)})
	}
	out.Write(payload)
	require.NoError(t, format.Footer{
		CRC32:            crc32.ChecksumIEEE(data),
		DecompressedSize: uint32(len(data)), //nolint:gosec // below block size
	}.Write(out))
}

// countingBackend counts backend invocations.
type countingBackend struct {
	inflate.Backend
	calls atomic.Int64
	delay time.Duration
}

func (c *countingBackend) Decompress(inputs, outputs [][]byte, results []inflate.Result) error {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.Backend.Decompress(inputs, outputs, results)
}
