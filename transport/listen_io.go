package transport

import (
	"io"
	"net"
	"os"
	"sync"

	"github.com/progrium/h1mux/mux"
)

// ioListener wraps a single ReadWriteCloser to use as a listener.
type ioListener struct {
	sess      *mux.Session
	once      sync.Once
	closeOnce sync.Once
	closer    chan struct{}
}

// Accept returns the wrapped stream as a session the first time. Later
// calls wait for Close and return io.EOF.
func (l *ioListener) Accept() (*mux.Session, error) {
	var sess *mux.Session
	l.once.Do(func() {
		sess = l.sess
	})
	if sess != nil {
		return sess, nil
	}
	<-l.closer
	return nil, io.EOF
}

func (l *ioListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closer)
		err = l.sess.Close()
	})
	return err
}

func (l *ioListener) Addr() net.Addr {
	return nil
}

type ioduplex struct {
	io.WriteCloser
	io.ReadCloser
}

func (d *ioduplex) Close() error {
	if err := d.WriteCloser.Close(); err != nil {
		return err
	}
	if err := d.ReadCloser.Close(); err != nil {
		return err
	}
	return nil
}

// CloseWrite closes only the write half.
func (d *ioduplex) CloseWrite() error {
	return d.WriteCloser.Close()
}

// ListenIO returns a listener that gives a single session running over
// separate WriteCloser and ReadCloser halves.
func ListenIO(out io.WriteCloser, in io.ReadCloser, opts ...mux.Option) (mux.Listener, error) {
	return &ioListener{
		sess:   mux.New(&ioduplex{out, in}, opts...),
		closer: make(chan struct{}),
	}, nil
}

// ListenStdio is a convenience for calling ListenIO with Stdout and Stdin.
func ListenStdio(opts ...mux.Option) (mux.Listener, error) {
	return ListenIO(os.Stdout, os.Stdin, opts...)
}
