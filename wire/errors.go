package wire

import (
	"errors"
	"fmt"
)

// ErrLineTooLong is wrapped by a FramingError when a line exceeds its limit.
var ErrLineTooLong = errors.New("line too long")

// FramingError reports malformed request or chunk framing. A connection
// that produced one is not reusable.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("h1: %s: %v", e.Reason, e.Err)
	}
	return "h1: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

func invalidRequest(format string, args ...interface{}) error {
	return &FramingError{Reason: "invalid request", Err: fmt.Errorf(format, args...)}
}

func invalidChunk(err error) error {
	return &FramingError{Reason: "invalid chunked encoding", Err: err}
}
