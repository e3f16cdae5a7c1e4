// Package mux drives HTTP/1.1 exchanges over a single byte stream. A
// Session reads request heads off the connection one at a time, hands
// each out as an Exchange, and writes the response the handler gives back
// before it reads the next one.
package mux

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/progrium/h1mux/body"
	"github.com/progrium/h1mux/wire"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxDrainBytes is how much unread request body is discarded
	// before giving up on reusing the connection.
	DefaultMaxDrainBytes = 256 << 10

	copyBufferSize = 32 << 10
	timeFormat     = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var (
	// how long a 400 for an unparseable request may take to write
	// use a `var` so that this can be overridden in tests
	rejectTimeout = time.Second
)

type State int32

const (
	AwaitingRequest State = iota
	RequestHeadParsed
	AwaitingResponse
	WritingResponse
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingRequest:
		return "awaiting-request"
	case RequestHeadParsed:
		return "request-head-parsed"
	case AwaitingResponse:
		return "awaiting-response"
	case WritingResponse:
		return "writing-response"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Session is the server side of one HTTP/1.1 connection.
type Session struct {
	conn io.ReadWriteCloser
	br   *bufio.Reader
	bw   *bufio.Writer
	dec  *wire.Decoder
	enc  *wire.Encoder
	wmu  sync.Mutex // serializes writes to bw

	id        xid.ID
	log       *zap.Logger
	tls       bool
	maxHeader int
	maxDrain  int64

	seq   atomic.Uint64
	state atomic.Int32

	inbox     chan *Exchange
	closing   chan struct{}
	closeOnce sync.Once
	connOnce  sync.Once
	done      chan struct{}

	// outstanding background peek, only touched by the loop
	peekCh chan error

	activeMu sync.Mutex
	active   body.Stream // response body being written

	errMu     sync.Mutex
	acceptErr error

	errCond *sync.Cond
	err     error
}

// New returns a session serving HTTP/1.1 over conn.
func New(conn io.ReadWriteCloser, opts ...Option) *Session {
	if conn == nil {
		return nil
	}
	s := &Session{
		conn:     conn,
		br:       bufio.NewReader(conn),
		bw:       bufio.NewWriter(conn),
		id:       xid.New(),
		log:      zap.NewNop(),
		maxDrain: DefaultMaxDrainBytes,
		inbox:    make(chan *Exchange),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		errCond:  sync.NewCond(new(sync.Mutex)),
	}
	if _, ok := conn.(*tls.Conn); ok {
		s.tls = true
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dec = wire.NewDecoder(s.br)
	s.dec.MaxHeaderBytes = s.maxHeader
	s.enc = wire.NewEncoder(s.bw)
	s.log = s.log.Named("mux").With(zap.Stringer("conn", s.id))
	go s.loop()
	return s
}

func (s *Session) ID() xid.ID {
	return s.id
}

// Seq returns how many requests have been read so far.
func (s *Session) Seq() uint64 {
	return s.seq.Load()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// RemoteAddr returns the peer address when the connection has one.
func (s *Session) RemoteAddr() net.Addr {
	if c, ok := s.conn.(interface{ RemoteAddr() net.Addr }); ok {
		return c.RemoteAddr()
	}
	return nil
}

// Accept waits for and returns the next request. It returns io.EOF once
// the connection has ended, on this and every later call. A malformed
// request (*wire.FramingError) or a failed read (*ConnectionError) is
// returned once before that.
func (s *Session) Accept() (*Exchange, error) {
	select {
	case ex := <-s.inbox:
		return ex, nil
	case <-s.done:
		return nil, s.takeAcceptErr()
	case <-s.closing:
		return nil, io.EOF
	}
}

// Close closes the connection at once. Pending and later Accept calls
// return io.EOF and an unfinished exchange fails with ErrConnClosed.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		err = s.closeConn(false)
		s.activeMu.Lock()
		if s.active != nil {
			s.active.Cancel(ErrConnClosed)
		}
		s.activeMu.Unlock()
	})
	return err
}

// Wait blocks until the connection has shut down, and returns the
// error causing the shutdown. A connection that ended cleanly returns
// io.EOF.
func (s *Session) Wait() error {
	s.errCond.L.Lock()
	defer s.errCond.L.Unlock()
	for s.err == nil {
		s.errCond.Wait()
	}
	return s.err
}

func (s *Session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Session) closeConn(graceful bool) error {
	var err error
	s.connOnce.Do(func() {
		if cw, ok := s.conn.(interface{ CloseWrite() error }); ok && graceful {
			cw.CloseWrite()
		}
		err = s.conn.Close()
	})
	return err
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("state", zap.Stringer("state", st))
}

func (s *Session) setAcceptErr(err error) {
	s.errMu.Lock()
	s.acceptErr = err
	s.errMu.Unlock()
}

func (s *Session) takeAcceptErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.acceptErr
	s.acceptErr = nil
	if err == nil {
		return io.EOF
	}
	return err
}

func (s *Session) setActive(b body.Stream) {
	s.activeMu.Lock()
	s.active = b
	s.activeMu.Unlock()
	if b != nil && s.isClosing() {
		b.Cancel(ErrConnClosed)
	}
}

// loop runs the connection machine. It will serve exchanges until an
// error is encountered. To synchronize on loop exit, use Session.Wait.
func (s *Session) loop() {
	var err error
	for err == nil {
		err = s.serveOne()
	}
	s.setState(Closed)
	s.log.Debug("session ended", zap.Error(err))

	s.closeConn(err == io.EOF)
	close(s.done)

	s.errCond.L.Lock()
	s.err = err
	s.errCond.Broadcast()
	s.errCond.L.Unlock()
}

// serveOne reads one request and writes its response.
func (s *Session) serveOne() error {
	s.setState(AwaitingRequest)
	if err := s.awaitPeek(); err != nil {
		return s.readFailed(err)
	}
	head, err := s.dec.DecodeRequest()
	if err != nil {
		return s.readFailed(err)
	}

	s.setState(RequestHeadParsed)
	n, err := head.BodyLength()
	if err != nil {
		return s.readFailed(err)
	}
	ex := s.newExchange(head, n)
	log := s.log.With(zap.Uint64("seq", ex.Seq))
	log.Debug("request", zap.String("method", head.Method), zap.String("target", head.Target))

	select {
	case s.inbox <- ex:
	case <-s.closing:
		ex.finish(ErrConnClosed)
		return io.EOF
	}

	s.setState(AwaitingResponse)
	resp, err := s.awaitResponse(ex)
	if err != nil {
		return err
	}

	s.setState(WritingResponse)
	keepAlive := !head.WantsClose() && !head.ConflictingLength() && !s.isClosing()
	if err := s.writeResponse(ex, resp, keepAlive); err != nil {
		log.Info("response failed", zap.Error(err))
		ex.finish(err)
		return err
	}
	ex.finish(nil)
	log.Debug("response written", zap.Int("status", resp.Status), zap.Int64("bytes", ex.BytesWritten()))

	if !s.settleRequestBody(ex) {
		log.Debug("request body not consumed")
		return io.EOF
	}
	if !keepAlive {
		return io.EOF
	}
	return nil
}

func (s *Session) newExchange(head *wire.RequestHead, n int64) *Exchange {
	var r io.Reader = s.br
	detached := false
	switch {
	case n < 0:
		r = wire.NewChunkedReader(s.br)
	case n > 0 && int64(s.br.Buffered()) >= n:
		// the whole body arrived with the head; copy it out so the
		// connection can be watched while the handler runs
		b := make([]byte, n)
		io.ReadFull(s.br, b)
		r, detached = bytes.NewReader(b), true
	}
	src := body.NewSource(r, n)
	ctx, cancel := context.WithCancelCause(context.Background())
	ex := &Exchange{
		Seq:      s.seq.Add(1),
		Method:   head.Method,
		Target:   head.Target,
		Proto:    head.Proto,
		Header:   head.Header.Clone(),
		Body:     src,
		sess:     s,
		head:     head,
		source:   src,
		start:    time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		respCh:   make(chan *Response, 1),
		finished: make(chan struct{}),
		detached: detached,
	}
	if head.ExpectsContinue() && n != 0 && !detached {
		ex.expectContinue = true
		src.OnFirstRead = ex.sendContinue
	}
	return ex
}

// readFailed turns an error reading a request into the loop's exit error.
func (s *Session) readFailed(err error) error {
	if s.isClosing() {
		return io.EOF
	}
	var ferr *wire.FramingError
	switch {
	case errors.As(err, &ferr):
		s.log.Info("bad request", zap.Error(err))
		s.setAcceptErr(err)
		s.rejectRequest()
		return err
	case isDisconnect(err):
		return io.EOF
	default:
		cerr := &ConnectionError{Reason: "read failed", Err: err}
		s.setAcceptErr(cerr)
		return cerr
	}
}

// rejectRequest makes a best effort at telling the client why the
// connection is about to close.
func (s *Session) rejectRequest() {
	if c, ok := s.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		c.SetWriteDeadline(time.Now().Add(rejectTimeout))
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	h := &wire.ResponseHead{Status: 400}
	h.Header.Add("Content-Length", "0")
	h.Header.Add("Connection", "close")
	if s.enc.EncodeResponse(h) == nil {
		s.enc.Flush()
	}
}

func (s *Session) startPeek() <-chan error {
	ch := make(chan error, 1)
	s.peekCh = ch
	go func() {
		_, err := s.br.Peek(1)
		ch <- err
	}()
	return ch
}

// awaitPeek collects a peek still running from the previous exchange so
// the reader has a single user again.
func (s *Session) awaitPeek() error {
	if s.peekCh == nil {
		return nil
	}
	select {
	case err := <-s.peekCh:
		s.peekCh = nil
		return err
	case <-s.closing:
		return net.ErrClosed
	}
}

// awaitResponse waits for the handler to respond. Once the request body
// no longer needs the connection it is watched so that a peer hanging up
// fails the exchange instead of leaving it waiting. A body the handler
// hasn't finished reading off the connection can't be watched past.
func (s *Session) awaitResponse(ex *Exchange) (*Response, error) {
	bodyDone := ex.source.Done()
	var peek <-chan error
	if ex.detached {
		peek = s.startPeek()
	}
	for {
		select {
		case resp := <-ex.respCh:
			return resp, nil

		case <-bodyDone:
			bodyDone = nil
			switch ex.source.State() {
			case body.Complete:
				if !ex.detached {
					peek = s.startPeek()
				}
			case body.Errored:
				if err := ex.source.Err(); isDisconnect(err) {
					cerr := connClosed(err)
					s.log.Info("peer went away during request body", zap.Uint64("seq", ex.Seq), zap.Error(err))
					ex.finish(cerr)
					return nil, cerr
				}
			}

		case err := <-peek:
			peek = nil
			s.peekCh = nil
			if err != nil {
				cerr := connClosed(err)
				s.log.Info("peer went away before response", zap.Uint64("seq", ex.Seq), zap.Error(err))
				ex.finish(cerr)
				return nil, cerr
			}

		case <-s.closing:
			ex.finish(ErrConnClosed)
			return nil, io.EOF
		}
	}
}

func (s *Session) writeResponse(ex *Exchange, resp *Response, keepAlive bool) error {
	rb := resp.Body
	s.setActive(rb)
	defer s.setActive(nil)

	n := rb.Len()
	sendBody := wire.BodyAllowed(resp.Status) && ex.Method != "HEAD"

	head := &wire.ResponseHead{Status: resp.Status, Header: resp.Header.Clone()}
	head.Header.Del("Content-Length")
	head.Header.Del("Transfer-Encoding")
	if !head.Header.Has("Date") {
		head.Header.Set("Date", time.Now().UTC().Format(timeFormat))
	}
	switch {
	case resp.Status < 200 || resp.Status == 204:
	case n >= 0:
		head.Header.Set("Content-Length", strconv.FormatInt(n, 10))
	case sendBody:
		head.Header.Set("Transfer-Encoding", "chunked")
	}
	if !keepAlive {
		head.Header.Set("Connection", "close")
	}

	s.wmu.Lock()
	err := s.enc.EncodeResponse(head)
	if err == nil {
		err = s.enc.Flush()
	}
	ex.headWritten.Store(true)
	ex.status.Store(int32(resp.Status))
	s.wmu.Unlock()
	if err != nil {
		return s.writeFailed(rb, err)
	}

	if !sendBody {
		rb.Cancel(nil)
		return nil
	}

	var w io.Writer = s.bw
	var cw *wire.ChunkedWriter
	if n < 0 {
		cw = wire.NewChunkedWriter(s.bw)
		w = cw
	}
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		nr, rerr := rb.Read(buf)
		if nr > 0 {
			if n >= 0 && written+int64(nr) > n {
				err := fmt.Errorf("h1: response body is longer than its length %d", n)
				rb.Cancel(err)
				return err
			}
			s.wmu.Lock()
			_, werr := w.Write(buf[:nr])
			if werr == nil {
				werr = s.bw.Flush()
			}
			s.wmu.Unlock()
			if werr != nil {
				return s.writeFailed(rb, werr)
			}
			written += int64(nr)
			ex.written.Store(written)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if s.isClosing() {
				return ErrConnClosed
			}
			return rerr
		}
	}
	if n >= 0 && written < n {
		return fmt.Errorf("h1: response body ended after %d of %d bytes: %w", written, n, io.ErrUnexpectedEOF)
	}
	if cw != nil {
		s.wmu.Lock()
		err := cw.Close()
		if err == nil {
			err = s.bw.Flush()
		}
		s.wmu.Unlock()
		if err != nil {
			return s.writeFailed(rb, err)
		}
	}
	return nil
}

// writeFailed cancels the response body with the error Respond will
// return.
func (s *Session) writeFailed(rb body.Stream, err error) error {
	if s.isClosing() {
		rb.Cancel(ErrConnClosed)
		return ErrConnClosed
	}
	cerr := connClosed(err)
	rb.Cancel(cerr)
	return cerr
}

// settleRequestBody makes sure the next request starts where this one's
// body ends. It reports false when the connection can't be reused.
func (s *Session) settleRequestBody(ex *Exchange) bool {
	switch ex.source.State() {
	case body.Complete:
		return true
	case body.Errored:
		return false
	}
	if ex.continuePending() {
		return false
	}
	return ex.source.Drain(s.maxDrain)
}
