// Package server accepts sessions from a listener and dispatches their
// exchanges to a Handler.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/progrium/h1mux/codec"
	"github.com/progrium/h1mux/mux"
	"go.uber.org/zap"
)

// Server wraps a Handler to respond to the exchanges of every session.
type Server struct {
	Handler Handler
	Logger  *zap.Logger

	// Trace, when set, gets an ExchangeRecord for every finished exchange.
	Trace codec.Encoder

	mu        sync.Mutex
	conns     map[*mux.Session]struct{}
	listeners map[mux.Listener]struct{}
	traceMu   sync.Mutex
}

// ExchangeRecord summarizes one exchange for tracing.
type ExchangeRecord struct {
	Conn     string        `json:"conn" cbor:"conn"`
	Seq      uint64        `json:"seq" cbor:"seq"`
	Method   string        `json:"method" cbor:"method"`
	Target   string        `json:"target" cbor:"target"`
	Status   int           `json:"status" cbor:"status"`
	Bytes    int64         `json:"bytes" cbor:"bytes"`
	Duration time.Duration `json:"duration" cbor:"duration"`
	Error    string        `json:"error,omitempty" cbor:"error,omitempty"`
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Serve will Accept sessions until the Listener is closed, and will Respond
// to accepted sessions in their own goroutine.
func (s *Server) Serve(l mux.Listener) error {
	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[mux.Listener]struct{})
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}()

	for {
		sess, err := l.Accept()
		if err != nil {
			return err
		}
		go s.Respond(sess)
	}
}

// Respond will Accept exchanges until the Session ends and respond with the
// server handler in its own goroutine. If Handler was not set, every
// exchange gets a 404. If the handler returns without responding, an
// empty 200 is sent.
func (s *Server) Respond(sess *mux.Session) {
	defer sess.Close()
	s.track(sess, true)
	defer s.track(sess, false)

	log := s.logger().Named("server").With(zap.Stringer("conn", sess.ID()))
	if addr := sess.RemoteAddr(); addr != nil {
		log.Debug("connection", zap.Stringer("remote", addr))
	}

	hn := s.Handler
	if hn == nil {
		hn = NotFound
	}

	for {
		ex, err := sess.Accept()
		if err != nil {
			if err != io.EOF {
				log.Info("connection dropped", zap.Error(err))
			}
			return
		}
		go s.respond(log, hn, ex)
	}
}

func (s *Server) respond(log *zap.Logger, hn Handler, ex *mux.Exchange) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", zap.Uint64("seq", ex.Seq), zap.Any("panic", r), zap.Stack("stack"))
			if !ex.Responded() {
				ex.Respond(&mux.Response{Status: 500})
			}
		}
		<-ex.Done()
		s.trace(log, ex)
	}()

	hn.ServeExchange(ex)
	if !ex.Responded() {
		ex.Respond(&mux.Response{Status: 200})
	}
}

func (s *Server) trace(log *zap.Logger, ex *mux.Exchange) {
	if s.Trace == nil {
		return
	}
	rec := ExchangeRecord{
		Conn:     ex.Session().ID().String(),
		Seq:      ex.Seq,
		Method:   ex.Method,
		Target:   ex.Target,
		Status:   ex.Status(),
		Bytes:    ex.BytesWritten(),
		Duration: time.Since(ex.Started()),
	}
	if err := ex.Err(); err != nil {
		rec.Error = err.Error()
	}
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	if err := s.Trace.Encode(rec); err != nil {
		log.Warn("trace", zap.Error(err))
	}
}

func (s *Server) track(sess *mux.Session, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[*mux.Session]struct{})
	}
	if add {
		s.conns[sess] = struct{}{}
	} else {
		delete(s.conns, sess)
	}
}

// Conns returns the sessions currently being served.
func (s *Server) Conns() []*mux.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*mux.Session, 0, len(s.conns))
	for sess := range s.conns {
		conns = append(conns, sess)
	}
	return conns
}

// Close closes every listener being served and every session.
func (s *Server) Close() error {
	s.mu.Lock()
	var listeners []mux.Listener
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sess := range s.Conns() {
		sess.Close()
	}
	return errors.Join(errs...)
}
