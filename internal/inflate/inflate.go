// Package inflate decompresses batches of raw DEFLATE streams, one per
// BGZF block.
package inflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of decompressing one block.
type Status uint8

// Block statuses.
const (
	StatusSuccess Status = iota
	StatusFailure        // Corrupt input
	StatusOutputOverflow // Stream decodes to more bytes than its output span
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusOutputOverflow:
		return "output overflow"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result records what happened to one block.
type Result struct {
	BytesWritten int
	Status       Status
}

// ErrBatchShape is returned when inputs, outputs and results differ in length.
var ErrBatchShape = errors.New("inflate: inputs, outputs and results must have equal length")

// Backend decompresses inputs[i] into outputs[i], sized to the expected
// decompressed length, and stores the outcome in results[i]. Per-block
// failures are reported through results, not the returned error.
type Backend interface {
	Name() string
	Decompress(inputs, outputs [][]byte, results []Result) error
}

// Backend names.
const (
	NameBatched = "batched"
	NameInflate = "inflate"
)

// New returns the backend registered under name. workers <= 0 means NumCPU.
func New(name string, workers int) (Backend, error) {
	switch name {
	case "", NameBatched:
		return NewBatched(workers), nil
	case NameInflate:
		return NewInflate(), nil
	default:
		return nil, fmt.Errorf("unknown inflate backend %q", name)
	}
}

func checkShape(inputs, outputs [][]byte, results []Result) error {
	if len(inputs) != len(outputs) || len(inputs) != len(results) {
		return fmt.Errorf("%w: %d inputs, %d outputs, %d results", ErrBatchShape, len(inputs), len(outputs), len(results))
	}
	return nil
}

// decoder wraps a reusable flate reader.
type decoder struct {
	src bytes.Reader
	fr  io.ReadCloser
	one [1]byte
}

var decoderPool = sync.Pool{
	New: func() any {
		return &decoder{}
	},
}

// decode inflates in into out, which must be exactly the expected size.
func (d *decoder) decode(in, out []byte) Result {
	d.src.Reset(in)
	if d.fr == nil {
		d.fr = flate.NewReader(&d.src)
	} else if err := d.fr.(flate.Resetter).Reset(&d.src, nil); err != nil { //nolint:forcetypeassert // flate readers implement Resetter
		return Result{Status: StatusFailure}
	}

	n, err := io.ReadFull(d.fr, out)
	if err != nil {
		return Result{BytesWritten: n, Status: StatusFailure}
	}

	// The stream has to end exactly at the output boundary.
	extra, err := io.ReadFull(d.fr, d.one[:])
	switch {
	case extra > 0:
		return Result{BytesWritten: n, Status: StatusOutputOverflow}
	case errors.Is(err, io.EOF):
		return Result{BytesWritten: n, Status: StatusSuccess}
	default:
		return Result{BytesWritten: n, Status: StatusFailure}
	}
}

// Batched decompresses blocks concurrently on a bounded worker pool.
type Batched struct {
	workers int
}

var _ Backend = (*Batched)(nil)

// NewBatched returns the primary backend. workers <= 0 means NumCPU.
func NewBatched(workers int) *Batched {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Batched{workers: workers}
}

// Name implements Backend.
func (b *Batched) Name() string { return NameBatched }

// Decompress implements Backend.
func (b *Batched) Decompress(inputs, outputs [][]byte, results []Result) error {
	if err := checkShape(inputs, outputs, results); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i := range inputs {
		g.Go(func() error {
			d := decoderPool.Get().(*decoder) //nolint:errcheck // pool always returns *decoder
			defer decoderPool.Put(d)
			results[i] = d.decode(inputs[i], outputs[i])
			return nil
		})
	}
	return g.Wait()
}

// Inflate is the fallback backend: one decoder, blocks in order.
type Inflate struct{}

var _ Backend = Inflate{}

// NewInflate returns the fallback backend.
func NewInflate() Inflate { return Inflate{} }

// Name implements Backend.
func (Inflate) Name() string { return NameInflate }

// Decompress implements Backend.
func (Inflate) Decompress(inputs, outputs [][]byte, results []Result) error {
	if err := checkShape(inputs, outputs, results); err != nil {
		return err
	}

	d := decoderPool.Get().(*decoder) //nolint:errcheck // pool always returns *decoder
	defer decoderPool.Put(d)
	for i := range inputs {
		results[i] = d.decode(inputs[i], outputs[i])
	}
	return nil
}
