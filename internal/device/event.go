package device

import "sync"

// Event marks a point in a stream. It completes once every op submitted
// to the stream before Record has run.
type Event struct {
	mu     sync.Mutex
	done   chan struct{}
	stream *Stream
}

// NewEvent returns an event that has never been recorded and is complete.
func NewEvent() *Event {
	done := make(chan struct{})
	close(done)
	return &Event{done: done}
}

// Record moves the event to the current tail of s. A later Record
// replaces the earlier one.
func (e *Event) Record(s *Stream) error {
	done := make(chan struct{})
	if err := s.enqueue(op{fn: func() error {
		close(done)
		return nil
	}, marker: true}); err != nil {
		return err
	}

	e.mu.Lock()
	e.done = done
	e.stream = s
	e.mu.Unlock()
	return nil
}

// Synchronize blocks until the event completes and returns the error of
// the stream it was recorded on.
func (e *Event) Synchronize() error {
	e.mu.Lock()
	done, s := e.done, e.stream
	e.mu.Unlock()

	<-done
	if s == nil {
		return nil
	}
	return s.Err()
}

// Query reports whether the event has completed without blocking.
func (e *Event) Query() bool {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
		return true
	default:
		return false
	}
}
