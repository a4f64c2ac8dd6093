package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/vertti/bgzchunk/internal/device"
	"github.com/vertti/bgzchunk/internal/format"
	"github.com/vertti/bgzchunk/internal/inflate"
	"github.com/vertti/bgzchunk/internal/source"
)

// DecompressOptions configures range decompression.
type DecompressOptions struct {
	Begin           format.VirtualOffset // First byte to emit (default: start of file)
	End             format.VirtualOffset // Last block and local end (default: unbounded)
	ChunkSize       int                  // Bytes requested per chunk (default: 4 MiB)
	InitialReadSize int                  // Bytes staged per block group load (default: 16 MiB)
	Workers         int                  // Inflate workers (default: NumCPU)
	Backend         string               // Inflate backend name (default: batched)
	Logger          logrus.FieldLogger   // Debug output (default: discarded)
}

// Decompress writes the decompressed bytes of the [Begin, End) virtual
// offset range of the BGZF stream r to w.
func Decompress(r io.ReadSeeker, w io.Writer, opts *DecompressOptions) (err error) {
	var o DecompressOptions
	if opts != nil {
		o = *opts
	}
	if o.End == 0 {
		o.End = format.MaxVirtualOffset
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = source.DefaultChunkSize
	}

	backend, err := inflate.New(o.Backend, o.Workers)
	if err != nil {
		return err
	}

	reader, err := source.NewReader(r, o.Begin, o.End, &source.Options{
		Backend:         backend,
		InitialReadSize: o.InitialReadSize,
		Logger:          o.Logger,
	})
	if err != nil {
		return fmt.Errorf("opening reader: %w", err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	stream := device.NewStream()
	defer func() {
		err = errors.Join(err, stream.Close())
	}()

	if _, err := io.Copy(w, source.NewStreamReader(reader, stream, o.ChunkSize)); err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return nil
}
