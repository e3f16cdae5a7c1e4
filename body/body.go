// Package body implements cancellable message bodies. A body is read by
// its consumer and either fed by a producer (Pipe) or by the wire (Source).
// Both sides share one state, so cancelling from the consumer reaches the
// producer and aborting from the producer reaches the consumer.
package body

import (
	"errors"
	"io"
	"sync"
)

type State int

const (
	Idle State = iota
	Active
	Complete
	Cancelled
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s >= Complete
}

// ErrCancelled is the reason recorded when Cancel or Abort is given nil.
var ErrCancelled = errors.New("body cancelled")

// Stream is the consumer side of a body.
type Stream interface {
	io.Reader

	// Cancel stops the body. Pending and later reads fail, and a producer
	// still writing is woken with an *AbortError carrying reason.
	Cancel(reason error)

	State() State

	// Len returns the body size when it is known up front, otherwise -1.
	Len() int64

	// Done is closed once the body reaches a terminal state.
	Done() <-chan struct{}

	// Err returns the reason for a Cancelled or Errored body.
	Err() error
}

// AbortError is returned to whichever side did not stop the body.
type AbortError struct {
	Reason error
}

func (e *AbortError) Error() string {
	if e.Reason == nil {
		return "body aborted"
	}
	return "body aborted: " + e.Reason.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Reason
}

// status is the state shared by both ends of a body.
type status struct {
	mu   sync.Mutex
	st   State
	err  error
	done chan struct{}
}

func newStatus() *status {
	return &status{done: make(chan struct{})}
}

func (s *status) activate() {
	s.mu.Lock()
	if s.st == Idle {
		s.st = Active
	}
	s.mu.Unlock()
}

// finish moves to a terminal state. The first call wins; later calls
// report false and change nothing.
func (s *status) finish(st State, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Terminal() {
		return false
	}
	if st != Complete && err == nil {
		err = ErrCancelled
	}
	s.st = st
	s.err = err
	close(s.done)
	return true
}

func (s *status) get() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.err
}

func (s *status) State() State {
	st, _ := s.get()
	return st
}

func (s *status) Err() error {
	_, err := s.get()
	return err
}

func (s *status) Done() <-chan struct{} {
	return s.done
}
