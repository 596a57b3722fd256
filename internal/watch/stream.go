package watch

import (
	"sync"
	"sync/atomic"
)

// Stream is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded to make room. A consumer that falls behind therefore observes
// the most recent values, never a growing backlog. Publishing and Close may
// race freely; a publish that loses the race is discarded.
type Stream[T any] struct {
	mu        sync.Mutex
	ch        chan T
	closed    bool
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewStream creates a Stream with the given capacity. Capacity must be > 0.
func NewStream[T any](capacity int) *Stream[T] {
	if capacity <= 0 {
		panic("watch: stream capacity must be > 0")
	}
	return &Stream[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Consumers range over it until Close.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Publish inserts v, discarding the oldest buffered element if the stream is
// full. It never blocks. Reports whether an element was dropped. Publishing
// to a closed stream discards v.
func (s *Stream[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	dropped := false
	select {
	case s.ch <- v:
	default:
		select {
		case <-s.ch:
			s.dropped.Add(1)
			dropped = true
		default:
			// Consumer raced us and emptied the buffer.
		}
		s.ch <- v
	}
	s.delivered.Add(1)
	return dropped
}

// TryPublish inserts v only if the stream is open and the buffer has room.
func (s *Stream[T]) TryPublish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- v:
		s.delivered.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (s *Stream[T]) Len() int { return len(s.ch) }

// Cap returns the buffer capacity.
func (s *Stream[T]) Cap() int { return cap(s.ch) }

// Dropped returns how many elements were overwritten before delivery.
func (s *Stream[T]) Dropped() int64 { return s.dropped.Load() }

// Delivered returns how many elements were accepted into the stream.
func (s *Stream[T]) Delivered() int64 { return s.delivered.Load() }

// Close closes the receive channel. Later publishes are discarded. Safe to
// call more than once.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
