// Package quic serves HTTP/1.1 sessions over QUIC streams. Every stream a
// client opens carries one session, so a single QUIC connection can run
// many HTTP/1.1 connections side by side.
package quic

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/progrium/h1mux/mux"
	"github.com/quic-go/quic-go"
)

// NextProto is offered when the TLS config doesn't name any protocol.
const NextProto = "h1mux-quic"

const (
	codeNoError      quic.StreamErrorCode      = 0
	codeListenerGone quic.ApplicationErrorCode = 0x42
)

// Listener accepts QUIC connections and hands out a session per stream.
type Listener struct {
	ql        *quic.Listener
	opts      []mux.Option
	accepted  chan *mux.Session
	errs      chan error
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Listen creates a QUIC listener at the given UDP address.
func Listen(addr string, config *tls.Config, opts ...mux.Option) (*Listener, error) {
	config = config.Clone()
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{NextProto}
	}
	ql, err := quic.ListenAddr(addr, config, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		ql:       ql,
		opts:     append([]mux.Option{mux.WithTLS(true)}, opts...),
		accepted: make(chan *mux.Session),
		errs:     make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	go l.loop()
	return l, nil
}

func (l *Listener) loop() {
	for {
		conn, err := l.ql.Accept(l.ctx)
		if err != nil {
			l.errs <- err
			return
		}
		go l.serveConn(conn)
	}
}

func (l *Listener) serveConn(conn *quic.Conn) {
	defer conn.CloseWithError(codeListenerGone, "listener closed")
	for {
		s, err := conn.AcceptStream(l.ctx)
		if err != nil {
			return
		}
		sess := mux.New(&stream{Stream: s, conn: conn}, l.opts...)
		select {
		case l.accepted <- sess:
		case <-l.ctx.Done():
			sess.Close()
			return
		}
	}
}

// Accept waits for and returns the next session.
func (l *Listener) Accept() (*mux.Session, error) {
	select {
	case <-l.ctx.Done():
		return nil, io.EOF
	case err := <-l.errs:
		return nil, err
	case sess := <-l.accepted:
		return sess, nil
	}
}

// Close stops accepting and closes every QUIC connection.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.ql.Close()
	})
	return err
}

func (l *Listener) Addr() net.Addr {
	return l.ql.Addr()
}

// stream is one bidirectional QUIC stream used as a connection.
type stream struct {
	*quic.Stream
	conn *quic.Conn
}

func (s *stream) Close() error {
	s.Stream.CancelRead(codeNoError)
	return s.Stream.Close()
}

// CloseWrite sends the FIN; the peer may still send data.
func (s *stream) CloseWrite() error {
	return s.Stream.Close()
}

func (s *stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *stream) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}
