package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names an output codec applied to decompressed data.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecS2   Codec = "s2"
	CodecLZ4  Codec = "lz4"
)

// Codecs lists the supported output codecs.
var Codecs = []Codec{CodecNone, CodecZstd, CodecS2, CodecLZ4}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewCodecWriter wraps w so that bytes written are encoded with codec.
// Close flushes the encoder; it does not close w.
func NewCodecWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone, "":
		return nopWriteCloser{w}, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithZeroFrames(true))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return enc, nil
	case CodecS2:
		return s2.NewWriter(w), nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("invalid output codec: %q", codec)
	}
}

// NewCodecReader is the inverse of NewCodecWriter.
func NewCodecReader(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone, "":
		return io.NopCloser(r), nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	case CodecS2:
		return io.NopCloser(s2.NewReader(r)), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("invalid output codec: %q", codec)
	}
}
