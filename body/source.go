package body

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Source adapts a framed reader to a Stream. The reader is read exactly
// n bytes when n >= 0, or until it returns io.EOF when n is -1 (chunked
// or read-until-close bodies).
type Source struct {
	*status

	// OnFirstRead runs before the first byte is read. An error fails
	// the body.
	OnFirstRead func() error

	mu        sync.Mutex // serializes reads of r
	r         io.Reader
	n         int64
	remaining int64
	started   bool
}

func NewSource(r io.Reader, n int64) *Source {
	s := &Source{
		status:    newStatus(),
		r:         r,
		n:         n,
		remaining: n,
	}
	if n == 0 {
		s.finish(Complete, nil)
	}
	return s
}

// Empty returns a body that is already complete.
func Empty() *Source {
	return NewSource(nil, 0)
}

func Bytes(b []byte) *Source {
	return NewSource(bytes.NewReader(b), int64(len(b)))
}

func String(s string) *Source {
	return NewSource(strings.NewReader(s), int64(len(s)))
}

func (s *Source) Len() int64 {
	return s.n
}

func (s *Source) Cancel(reason error) {
	s.finish(Cancelled, reason)
}

// Read implements the io.Reader interface.
func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, err := s.get(); st.Terminal() {
		return 0, terminalErr(st, err)
	}
	if !s.started {
		s.started = true
		s.activate()
		if s.OnFirstRead != nil {
			if err := s.OnFirstRead(); err != nil {
				s.finish(Errored, err)
				return 0, err
			}
		}
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.n >= 0 && int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.r.Read(p)
	if s.n >= 0 {
		s.remaining -= int64(n)
		if s.remaining == 0 {
			s.finish(Complete, nil)
			return n, nil
		}
	}
	switch {
	case err == io.EOF && s.n >= 0:
		err = fmt.Errorf("body truncated with %d bytes left: %w", s.remaining, io.ErrUnexpectedEOF)
		s.finish(Errored, err)
	case err == io.EOF:
		s.finish(Complete, nil)
		if n > 0 {
			return n, nil
		}
	case err != nil:
		s.finish(Errored, err)
	}
	if err != nil {
		// a cancel that raced this read takes precedence
		st, serr := s.get()
		return n, terminalErr(st, serr)
	}
	return n, nil
}

// Drain consumes what is left of the body, up to max bytes, and cancels
// it. It reports whether the framing was consumed to the end. It gives up
// at once if a Read is still in progress.
func (s *Source) Drain(max int64) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()

	switch st, _ := s.get(); st {
	case Complete:
		return true
	case Errored:
		return false
	}
	// whatever happens below, r is no longer readable through the body
	s.finish(Cancelled, nil)

	if s.n >= 0 {
		if s.remaining > max {
			return false
		}
		n, err := io.CopyN(io.Discard, s.r, s.remaining)
		s.remaining -= n
		return err == nil
	}
	n, err := io.Copy(io.Discard, io.LimitReader(s.r, max+1))
	return err == nil && n <= max
}

func terminalErr(st State, err error) error {
	switch st {
	case Complete:
		return io.EOF
	case Cancelled:
		return &AbortError{Reason: err}
	}
	return err
}
