package source

import (
	"fmt"
	"io"

	"github.com/vertti/bgzchunk/internal/device"
)

// DefaultChunkSize is the chunk size StreamReader requests by default.
const DefaultChunkSize = 1 << 22

// StreamReader adapts a DataChunkReader to io.Reader, fetching one chunk
// at a time and synchronizing the stream before exposing it.
type StreamReader struct {
	r         DataChunkReader
	stream    *device.Stream
	chunkSize int
	buf       []byte
	eof       bool
}

var _ io.Reader = (*StreamReader)(nil)

// NewStreamReader returns an io.Reader over r. chunkSize <= 0 selects
// DefaultChunkSize.
func NewStreamReader(r DataChunkReader, stream *device.Stream, chunkSize int) *StreamReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &StreamReader{r: r, stream: stream, chunkSize: chunkSize}
}

// Read implements io.Reader.
func (s *StreamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.buf) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		chunk, err := s.r.GetNextChunk(s.chunkSize, s.stream)
		if err != nil {
			return 0, err
		}
		if err := s.stream.Synchronize(); err != nil {
			return 0, fmt.Errorf("synchronizing stream: %w", err)
		}
		// A short chunk is the last one.
		s.eof = chunk.Size() < s.chunkSize
		s.buf = chunk.Data()
		if len(s.buf) == 0 {
			return 0, io.EOF
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}
