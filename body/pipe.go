package body

import (
	"io"
	"sync"
)

// pipe hands written bytes directly to the reader, like io.Pipe, so a
// producer runs no further ahead than its consumer.
type pipe struct {
	*status

	wrMu sync.Mutex // serializes Write
	wrCh chan []byte
	rdCh chan int
}

// NewPipe returns the two halves of a streaming body. Each Write blocks
// until the reader has taken all of it, and a single Read never returns
// bytes from two different writes.
func NewPipe() (*PipeReader, *PipeWriter) {
	p := &pipe{
		status: newStatus(),
		wrCh:   make(chan []byte),
		rdCh:   make(chan int),
	}
	return &PipeReader{p}, &PipeWriter{p}
}

func (p *pipe) read(b []byte) (n int, err error) {
	p.activate()
	select {
	case <-p.done:
		return 0, p.readErr()
	default:
	}

	select {
	case bw := <-p.wrCh:
		nr := copy(b, bw)
		p.rdCh <- nr
		return nr, nil
	case <-p.done:
		return 0, p.readErr()
	}
}

func (p *pipe) readErr() error {
	st, err := p.get()
	switch st {
	case Complete:
		return io.EOF
	case Cancelled:
		return &AbortError{Reason: err}
	}
	return err
}

func (p *pipe) write(b []byte) (n int, err error) {
	p.activate()
	select {
	case <-p.done:
		return 0, p.writeErr()
	default:
	}
	if len(b) == 0 {
		return 0, nil
	}

	p.wrMu.Lock()
	defer p.wrMu.Unlock()

	for len(b) > 0 {
		select {
		case p.wrCh <- b:
			nw := <-p.rdCh
			b = b[nw:]
			n += nw
		case <-p.done:
			return n, p.writeErr()
		}
	}
	return n, nil
}

func (p *pipe) writeErr() error {
	st, err := p.get()
	switch st {
	case Complete:
		return io.ErrClosedPipe
	case Cancelled:
		return &AbortError{Reason: err}
	}
	return err
}

// PipeReader is the consumer half of a pipe.
type PipeReader struct {
	p *pipe
}

// Read implements the io.Reader interface. It returns io.EOF once the
// writer has closed, and an *AbortError when the writer aborted.
func (r *PipeReader) Read(b []byte) (int, error) {
	return r.p.read(b)
}

func (r *PipeReader) Cancel(reason error) {
	r.p.finish(Cancelled, reason)
}

func (r *PipeReader) Len() int64 {
	return -1
}

func (r *PipeReader) State() State {
	return r.p.State()
}

func (r *PipeReader) Done() <-chan struct{} {
	return r.p.Done()
}

func (r *PipeReader) Err() error {
	return r.p.Err()
}

// PipeWriter is the producer half of a pipe.
type PipeWriter struct {
	p *pipe
}

// Write implements the io.Writer interface. It fails with an *AbortError
// once the reader has cancelled.
func (w *PipeWriter) Write(b []byte) (int, error) {
	return w.p.write(b)
}

// WriteString writes s as a single chunk.
func (w *PipeWriter) WriteString(s string) (int, error) {
	return w.p.write([]byte(s))
}

// Close finishes the body. It returns the abort if the reader cancelled
// first.
func (w *PipeWriter) Close() error {
	if w.p.finish(Complete, nil) {
		return nil
	}
	if st, _ := w.p.get(); st == Complete {
		return nil
	}
	return w.p.writeErr()
}

// Abort ends the body with reason instead of finishing it. The reader
// gets an *AbortError wrapping reason.
func (w *PipeWriter) Abort(reason error) {
	w.p.finish(Cancelled, reason)
}

func (w *PipeWriter) State() State {
	return w.p.State()
}

func (w *PipeWriter) Done() <-chan struct{} {
	return w.p.Done()
}

func (w *PipeWriter) Err() error {
	return w.p.Err()
}
