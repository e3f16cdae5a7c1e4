package transport

import (
	"net"
	"net/http"

	"github.com/progrium/h1mux/mux"
	"golang.org/x/net/websocket"
)

// HandleWS is used to take WebSocket connections, wrap them as sessions,
// and send them to a NetListener to be accepted. It returns once the
// session has ended.
func HandleWS(l *NetListener, ws *websocket.Conn, opts ...mux.Option) {
	ws.PayloadType = websocket.BinaryFrame
	sess := mux.New(ws, opts...)
	defer sess.Close()
	select {
	case l.accepted <- sess:
	case <-l.closer:
		return
	}
	sess.Wait()
}

// ListenWS takes a TCP address and returns a NetListener with an
// HTTP+WebSocket server listening on it. Each WebSocket connection carries
// one HTTP/1.1 session in binary frames.
func ListenWS(addr string, opts ...mux.Option) (*NetListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	nl := &NetListener{
		Listener: l,
		accepted: make(chan *mux.Session),
		errs:     make(chan error, 1),
		closer:   make(chan bool),
	}
	s := &http.Server{
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			HandleWS(nl, ws, opts...)
		}),
	}
	go func() {
		nl.errs <- s.Serve(l)
	}()
	return nl, nil
}
