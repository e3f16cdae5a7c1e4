package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/progrium/h1mux/body"
	"github.com/progrium/h1mux/mux"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func fatal(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// serveOne answers a single exchange on the next session from l.
func serveOne(t *testing.T, l mux.Listener, text string) <-chan error {
	errs := make(chan error, 1)
	go func() {
		sess, err := l.Accept()
		if err != nil {
			errs <- err
			return
		}
		defer sess.Close()
		ex, err := sess.Accept()
		if err != nil {
			errs <- err
			return
		}
		errs <- ex.Respond(&mux.Response{Status: 200, Body: body.String(text)})
	}()
	return errs
}

func get(t *testing.T, conn net.Conn) string {
	t.Helper()
	_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	fatal(err, t)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	fatal(err, t)
	b, err := io.ReadAll(resp.Body)
	fatal(err, t)
	return string(b)
}

func TestListenTCP(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	fatal(err, t)
	defer l.Close()
	errs := serveOne(t, l, "tcp")

	conn, err := net.Dial("tcp", l.Addr().String())
	fatal(err, t)
	defer conn.Close()
	require.Equal(t, "tcp", get(t, conn))
	fatal(<-errs, t)
}

func TestListenUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h1.sock")
	l, err := ListenUnix(path)
	fatal(err, t)
	defer l.Close()
	errs := serveOne(t, l, "unix")

	conn, err := net.Dial("unix", path)
	fatal(err, t)
	defer conn.Close()
	require.Equal(t, "unix", get(t, conn))
	fatal(<-errs, t)
}

func TestListenerClose(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	fatal(err, t)

	accepted := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		accepted <- err
	}()
	fatal(l.Close(), t)
	require.Error(t, <-accepted)
	// closing twice is fine
	fatal(l.Close(), t)
}

func TestMaxConns(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	fatal(err, t)
	l := ListenerFrom(raw, 1)
	defer l.Close()

	first, err := net.Dial("tcp", raw.Addr().String())
	fatal(err, t)
	defer first.Close()
	sess, err := l.Accept()
	fatal(err, t)

	second, err := net.Dial("tcp", raw.Addr().String())
	fatal(err, t)
	defer second.Close()

	next := make(chan *mux.Session, 1)
	go func() {
		s, err := l.Accept()
		if err == nil {
			next <- s
		}
	}()
	select {
	case <-next:
		t.Fatal("second connection accepted over the limit")
	case <-time.After(100 * time.Millisecond):
	}

	// a slot frees up once the first session ends
	sess.Close()
	select {
	case s := <-next:
		s.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("second connection never accepted")
	}
}

func TestListenIO(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	l, err := ListenIO(outW, inR)
	fatal(err, t)
	errs := serveOne(t, l, "stdio")

	go io.WriteString(inW, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(outR), nil)
	fatal(err, t)
	b, err := io.ReadAll(resp.Body)
	fatal(err, t)
	require.Equal(t, "stdio", string(b))
	fatal(<-errs, t)

	// only one session is ever handed out
	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()
	l.Close()
	require.Equal(t, io.EOF, <-done)
}

func TestListenWS(t *testing.T) {
	l, err := ListenWS("127.0.0.1:0")
	fatal(err, t)
	defer l.Close()
	errs := serveOne(t, l, "ws")

	addr := l.Addr().String()
	ws, err := websocket.Dial(fmt.Sprintf("ws://%s/", addr), "", fmt.Sprintf("http://%s/", addr))
	fatal(err, t)
	defer ws.Close()
	ws.PayloadType = websocket.BinaryFrame
	require.Equal(t, "ws", get(t, ws))
	fatal(<-errs, t)
}
