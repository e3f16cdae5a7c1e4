package mux

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrConnClosed is returned by Respond when the session was closed
	// before the response could be written.
	ErrConnClosed error = &ConnectionError{Reason: "connection closed"}

	// ErrResponded is returned by a second call to Respond.
	ErrResponded = errors.New("h1: response already sent")
)

// ConnectionError reports that the connection failed underneath an
// exchange. Two ConnectionErrors match with errors.Is when their reasons
// are the same.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return "h1: " + e.Reason + ": " + e.Err.Error()
	}
	return "h1: " + e.Reason
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && t.Reason == e.Reason
}

func connClosed(err error) *ConnectionError {
	return &ConnectionError{Reason: "connection closed", Err: err}
}

// isDisconnect reports whether a read error only means the peer went away.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
