package mux

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/progrium/h1mux/body"
	"github.com/progrium/h1mux/wire"
)

// Response is what a handler sends back for an exchange. A nil Body is
// an empty body.
type Response struct {
	Status int
	Header wire.Header
	Body   body.Stream
}

// Exchange is one request read from a session together with the means to
// answer it.
type Exchange struct {
	Seq    uint64
	Method string
	Target string
	Proto  string

	// Header is a copy; changing it has no effect on the connection.
	Header wire.Header

	Body body.Stream

	sess   *Session
	head   *wire.RequestHead
	source *body.Source
	start  time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	responded atomic.Bool
	respCh    chan *Response

	once     sync.Once
	finished chan struct{}
	err      error

	detached       bool // body was buffered in full, it doesn't read the conn
	expectContinue bool
	continueSent   atomic.Bool
	headWritten    atomic.Bool
	status         atomic.Int32
	written        atomic.Int64
}

// Respond sends the response and blocks until it has been written in
// full or has failed. A failure cancels resp.Body with the same error
// that is returned. Respond can only be called once per exchange.
func (ex *Exchange) Respond(resp *Response) error {
	if resp == nil {
		resp = &Response{Status: 200}
	}
	if err := (&wire.ResponseHead{Status: resp.Status, Header: resp.Header}).Validate(); err != nil {
		return err
	}
	if !ex.responded.CompareAndSwap(false, true) {
		return ErrResponded
	}
	if resp.Body == nil {
		resp.Body = body.Empty()
	}

	select {
	case <-ex.finished:
	default:
		ex.respCh <- resp
	}

	<-ex.finished
	if ex.err != nil {
		resp.Body.Cancel(ex.err)
	}
	return ex.err
}

// Responded reports whether Respond has been called.
func (ex *Exchange) Responded() bool {
	return ex.responded.Load()
}

// Context is cancelled, with the failure as its cause, when the exchange
// is aborted before its response completes.
func (ex *Exchange) Context() context.Context {
	return ex.ctx
}

// Done is closed once the exchange has finished, successfully or not.
func (ex *Exchange) Done() <-chan struct{} {
	return ex.finished
}

// Err returns why the exchange failed. It is only meaningful after Done.
func (ex *Exchange) Err() error {
	select {
	case <-ex.finished:
		return ex.err
	default:
		return nil
	}
}

// Status returns the status code written, or 0 before the response head.
func (ex *Exchange) Status() int {
	return int(ex.status.Load())
}

// BytesWritten returns the number of response body bytes written so far.
func (ex *Exchange) BytesWritten() int64 {
	return ex.written.Load()
}

func (ex *Exchange) Started() time.Time {
	return ex.start
}

func (ex *Exchange) Session() *Session {
	return ex.sess
}

// URL returns the absolute URL of the request.
func (ex *Exchange) URL() (*url.URL, error) {
	if strings.Contains(ex.Target, "://") {
		return url.ParseRequestURI(ex.Target)
	}
	host, err := ex.head.Host()
	if err != nil {
		return nil, err
	}
	u := &url.URL{Scheme: "http", Host: host}
	if ex.sess.tls {
		u.Scheme = "https"
	}
	if ex.Target == "*" {
		u.Opaque = "*"
		return u, nil
	}
	ref, err := url.ParseRequestURI(ex.Target)
	if err != nil {
		return nil, err
	}
	u.Path = ref.Path
	u.RawPath = ref.RawPath
	u.RawQuery = ref.RawQuery
	return u, nil
}

func (ex *Exchange) finish(err error) {
	ex.once.Do(func() {
		ex.err = err
		if err != nil {
			ex.cancel(err)
		}
		close(ex.finished)
	})
}

// sendContinue answers Expect: 100-continue on the first body read. It
// writes nothing once the final response head is out.
func (ex *Exchange) sendContinue() error {
	s := ex.sess
	s.wmu.Lock()
	defer s.wmu.Unlock()
	ex.continueSent.Store(true)
	if ex.headWritten.Load() {
		return nil
	}
	if err := s.enc.EncodeContinue(); err != nil {
		return err
	}
	return s.enc.Flush()
}

// continuePending reports whether the client is still waiting for a
// 100 Continue before it sends the body.
func (ex *Exchange) continuePending() bool {
	return ex.expectContinue && !ex.continueSent.Load()
}
