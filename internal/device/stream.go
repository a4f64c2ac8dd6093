// Package device provides the asynchronous execution model used for
// decompression and copies: ordered op queues (streams) and completion
// markers (events).
//
// Buffers handed to a stream op belong to that op until an event recorded
// after it has completed. Callers must not mutate them before then.
package device

import (
	"errors"
	"sync"
)

// ErrStreamClosed is returned when work is submitted to a closed stream.
var ErrStreamClosed = errors.New("stream is closed")

const queueDepth = 256

type op struct {
	fn func() error
	// marker ops run even after the stream has failed, so that waiters
	// are always released.
	marker bool
}

// Stream executes ops one at a time, in submission order, on its own
// goroutine. The first op error is sticky: later ops are skipped and
// Synchronize keeps returning it.
type Stream struct {
	ops  chan op
	done chan struct{}

	// mu serializes submissions and guards closed. It may be held while
	// blocked on a full queue, so run never takes it.
	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error
}

// NewStream starts a stream.
func NewStream() *Stream {
	s := &Stream{
		ops:  make(chan op, queueDepth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for o := range s.ops {
		if !o.marker && s.Err() != nil {
			continue
		}
		if err := o.fn(); err != nil {
			s.errMu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.errMu.Unlock()
		}
	}
}

// Launch enqueues fn. It returns immediately; fn runs after every op
// submitted before it.
func (s *Stream) Launch(fn func() error) error {
	return s.enqueue(op{fn: fn})
}

func (s *Stream) enqueue(o op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.ops <- o
	return nil
}

// Synchronize blocks until all submitted ops have finished and returns
// the stream's sticky error.
func (s *Stream) Synchronize() error {
	e := NewEvent()
	if err := e.Record(s); err != nil {
		return err
	}
	return e.Synchronize()
}

// Err returns the first op error, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close waits for pending ops, stops the stream and returns its error.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return s.Err()
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()

	<-s.done
	return s.Err()
}
