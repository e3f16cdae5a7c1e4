package mux

import (
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Sessions log nothing by default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxHeaderBytes bounds each request line plus header block.
func WithMaxHeaderBytes(n int) Option {
	return func(s *Session) {
		s.maxHeader = n
	}
}

// WithMaxDrainBytes sets how much of an unread request body is discarded
// to keep the connection open for the next request.
func WithMaxDrainBytes(n int64) Option {
	return func(s *Session) {
		s.maxDrain = n
	}
}

// WithTLS marks the session as running over TLS, which only changes the
// scheme of Exchange.URL. Sessions over a *tls.Conn are detected.
func WithTLS(tls bool) Option {
	return func(s *Session) {
		s.tls = tls
	}
}

func WithID(id xid.ID) Option {
	return func(s *Session) {
		s.id = id
	}
}
