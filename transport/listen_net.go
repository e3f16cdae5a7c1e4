// Package transport supplies byte streams to serve HTTP/1.1 sessions on.
package transport

import (
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/progrium/h1mux/mux"
	"golang.org/x/net/netutil"
)

// NetListener wraps a net.Listener to return connected sessions.
type NetListener struct {
	net.Listener
	accepted  chan *mux.Session
	closer    chan bool
	errs      chan error
	closeOnce sync.Once
}

// Accept waits for and returns the next connected session to the listener.
func (l *NetListener) Accept() (*mux.Session, error) {
	select {
	case <-l.closer:
		return nil, io.EOF
	case err := <-l.errs:
		return nil, err
	case sess := <-l.accepted:
		return sess, nil
	}
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
func (l *NetListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closer)
		err = l.Listener.Close()
	})
	return err
}

// ListenerFrom serves sessions from connections accepted on l. When
// maxConns is positive, no more than that many connections are open at
// once.
func ListenerFrom(l net.Listener, maxConns int, opts ...mux.Option) *NetListener {
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	nl := &NetListener{
		Listener: l,
		closer:   make(chan bool),
		errs:     make(chan error, 1),
		accepted: make(chan *mux.Session),
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				nl.errs <- err
				return
			}
			sess := mux.New(conn, opts...)
			select {
			case nl.accepted <- sess:
			case <-nl.closer:
				sess.Close()
				return
			}
		}
	}()
	return nl
}

func listenNet(proto, addr string, opts ...mux.Option) (*NetListener, error) {
	l, err := net.Listen(proto, addr)
	if err != nil {
		return nil, err
	}
	return ListenerFrom(l, 0, opts...), nil
}

// ListenTCP creates a TCP listener at the given address.
func ListenTCP(addr string, opts ...mux.Option) (*NetListener, error) {
	return listenNet("tcp", addr, opts...)
}

// ListenUnix creates a Unix domain socket listener at the given path.
func ListenUnix(path string, opts ...mux.Option) (*NetListener, error) {
	return listenNet("unix", path, opts...)
}

// ListenTLS creates a TCP listener at the given address that serves
// sessions over TLS.
func ListenTLS(addr string, config *tls.Config, opts ...mux.Option) (*NetListener, error) {
	l, err := tls.Listen("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	return ListenerFrom(l, 0, opts...), nil
}
