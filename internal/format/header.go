// Package format defines the BGZF (blocked gzip) block framing.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes opening every BGZF block: gzip ID1, ID2, CM=deflate, FLG=FEXTRA.
var Magic = [4]byte{31, 139, 8, 4}

// BlockSizeID identifies the extra subfield carrying the block size.
var BlockSizeID = [2]byte{66, 67}

// Fixed framing sizes.
const (
	HeaderSize    = 12 // fixed gzip header up to and including XLEN
	FooterSize    = 8  // CRC32 + ISIZE
	BlockOverhead = HeaderSize + FooterSize

	subfieldHeaderSize = 4
	blockSizeFieldLen  = 2

	// MaxBlockSize is the largest compressed block BSIZE can describe.
	MaxBlockSize = 1 << 16
)

// Format errors.
var (
	ErrInvalidMagic     = errors.New("invalid magic bytes: not a BGZF block")
	ErrMissingBlockSize = errors.New("missing BGZF block size extra subfield")
	ErrMalformedExtra   = errors.New("malformed BGZF extra field")
	ErrInvalidBlockSize = errors.New("invalid BGZF block size")

	ErrInvalidDecompressedSize = errors.New("invalid BGZF decompressed block size")
)

// Header is the parsed gzip header of a BGZF block.
type Header struct {
	BlockSize   int // Total block size in bytes, header and footer included
	ExtraLength int // Length of the gzip extra field (XLEN)
}

// DataSize returns the size of the deflate payload.
func (h Header) DataSize() int {
	return h.BlockSize - h.ExtraLength - BlockOverhead
}

// ReadHeader reads and validates a BGZF block header. It consumes the
// whole extra field, leaving r positioned at the deflate payload.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, unexpectedEOF(err)
	}
	if [4]byte(buf[:4]) != Magic {
		return Header{}, ErrInvalidMagic
	}

	extraLength := int(binary.LittleEndian.Uint16(buf[10:12]))
	offset := 0
	for offset < extraLength {
		remaining := extraLength - offset
		if remaining < subfieldHeaderSize {
			return Header{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedExtra, remaining)
		}
		var sub [subfieldHeaderSize]byte
		if _, err := io.ReadFull(r, sub[:]); err != nil {
			return Header{}, unexpectedEOF(err)
		}
		offset += subfieldHeaderSize
		size := int(binary.LittleEndian.Uint16(sub[2:4]))
		if offset+size > extraLength {
			return Header{}, fmt.Errorf("%w: subfield of %d bytes overruns extra field", ErrMalformedExtra, size)
		}

		if [2]byte(sub[:2]) != BlockSizeID {
			if err := skip(r, size); err != nil {
				return Header{}, err
			}
			offset += size
			continue
		}

		if size != blockSizeFieldLen {
			return Header{}, fmt.Errorf("%w: block size subfield has length %d", ErrMalformedExtra, size)
		}
		var bsize [blockSizeFieldLen]byte
		if _, err := io.ReadFull(r, bsize[:]); err != nil {
			return Header{}, unexpectedEOF(err)
		}
		offset += size
		// Later subfields are irrelevant once the size is known.
		if err := skip(r, extraLength-offset); err != nil {
			return Header{}, err
		}

		h := Header{
			BlockSize:   int(binary.LittleEndian.Uint16(bsize[:])) + 1,
			ExtraLength: extraLength,
		}
		if h.DataSize() < 0 {
			return Header{}, fmt.Errorf("%w: %d bytes cannot hold a %d byte extra field", ErrInvalidBlockSize, h.BlockSize, extraLength)
		}
		return h, nil
	}

	return Header{}, ErrMissingBlockSize
}

// Write serializes a canonical BGZF header: no optional gzip fields and
// an extra field holding only the block size subfield.
func (h Header) Write(w io.Writer) error {
	if h.BlockSize < BlockOverhead+6 || h.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, h.BlockSize)
	}
	buf := make([]byte, HeaderSize+6)
	copy(buf[0:4], Magic[:])
	// MTIME (4 bytes) and XFL stay zero.
	buf[9] = 0xff // OS unknown
	binary.LittleEndian.PutUint16(buf[10:12], 6)
	buf[12], buf[13] = BlockSizeID[0], BlockSizeID[1]
	binary.LittleEndian.PutUint16(buf[14:16], blockSizeFieldLen)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(h.BlockSize-1)) //nolint:gosec // bounded by MaxBlockSize
	_, err := w.Write(buf)
	return err
}

// Footer is the gzip trailer of a BGZF block.
type Footer struct {
	CRC32            uint32 // CRC of the decompressed data
	DecompressedSize uint32 // ISIZE
}

// ReadFooter reads a BGZF block footer. A block never inflates to more
// than MaxBlockSize bytes.
func ReadFooter(r io.Reader) (Footer, error) {
	var buf [FooterSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Footer{}, unexpectedEOF(err)
	}
	f := Footer{
		CRC32:            binary.LittleEndian.Uint32(buf[0:4]),
		DecompressedSize: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if f.DecompressedSize > MaxBlockSize {
		return Footer{}, fmt.Errorf("%w: %d bytes", ErrInvalidDecompressedSize, f.DecompressedSize)
	}
	return f, nil
}

// Write serializes the footer.
func (f Footer) Write(w io.Writer) error {
	var buf [FooterSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], f.CRC32)
	binary.LittleEndian.PutUint32(buf[4:8], f.DecompressedSize)
	_, err := w.Write(buf[:])
	return err
}

// EOFMarker is the empty block terminating a BGZF file.
var EOFMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
	0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func skip(r io.Reader, n int) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
		return unexpectedEOF(err)
	}
	return nil
}

// unexpectedEOF turns a clean EOF inside a block into io.ErrUnexpectedEOF.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
