package mux

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/progrium/h1mux/body"
	"github.com/progrium/h1mux/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type result struct {
	resp *http.Response
	body string
	err  error
}

func newClient(t *testing.T) *http.Client {
	tr := &http.Transport{}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr}
}

// do runs the request in the background and reads the whole response.
func do(c *http.Client, req *http.Request) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := c.Do(req)
		if err != nil {
			ch <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		ch <- result{resp: resp, body: string(b), err: err}
	}()
	return ch
}

func TestHTTPBasic(t *testing.T) {
	l, sessions := listen(t)
	url := fmt.Sprintf("http://%s/", l.Addr())

	req, err := http.NewRequest("GET", url, nil)
	fatal(err, t)
	req.Header.Set("Foo", "Bar")
	res := do(newClient(t), req)

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)
	require.Equal(t, "GET", ex.Method)
	require.Equal(t, "/", ex.Target)
	require.Equal(t, "Bar", ex.Header.Get("foo"))
	u, err := ex.URL()
	fatal(err, t)
	require.Equal(t, url, u.String())

	err = ex.Respond(&Response{
		Status: 200,
		Header: wire.Header{{Name: "Content-Type", Value: "text/plain"}},
		Body:   body.String("Hello World"),
	})
	fatal(err, t)

	r := <-res
	fatal(r.err, t)
	require.Equal(t, "Hello World", r.body)
	require.Equal(t, int64(11), r.resp.ContentLength)
	require.Equal(t, "text/plain", r.resp.Header.Get("Content-Type"))
	require.NotEmpty(t, r.resp.Header.Get("Date"))
}

func TestHTTPStreamResponse(t *testing.T) {
	l, sessions := listen(t)
	res := do(newClient(t), mustRequest(t, "GET", fmt.Sprintf("http://%s/", l.Addr()), nil))

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)

	r, w := body.NewPipe()
	go func() {
		w.WriteString("hello ")
		w.WriteString("world")
		w.Close()
	}()
	fatal(ex.Respond(&Response{Status: 200, Body: r}), t)

	got := <-res
	fatal(got.err, t)
	require.Equal(t, "hello world", got.body)
	require.Equal(t, []string{"chunked"}, got.resp.TransferEncoding)
}

func TestHTTPStreamRequest(t *testing.T) {
	l, sessions := listen(t)
	pr, pw := io.Pipe()
	res := do(newClient(t), mustRequest(t, "POST", fmt.Sprintf("http://%s/", l.Addr()), pr))
	go func() {
		io.WriteString(pw, "hello ")
		io.WriteString(pw, "world")
		pw.Close()
	}()

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)
	require.Equal(t, int64(-1), ex.Body.Len())
	require.Equal(t, "chunked", ex.Header.Get("Transfer-Encoding"))

	b, err := io.ReadAll(ex.Body)
	fatal(err, t)
	require.Equal(t, "hello world", string(b))
	fatal(ex.Respond(&Response{Status: 200, Body: body.String("ok")}), t)

	got := <-res
	fatal(got.err, t)
	require.Equal(t, "ok", got.body)
}

func TestHTTPStreamDuplex(t *testing.T) {
	l, sessions := listen(t)
	conn := dial(t, l)
	sess := accept(t, sessions)

	go func() {
		ex, err := sess.Accept()
		if err != nil {
			return
		}
		r, w := body.NewPipe()
		go func() {
			_, err := io.Copy(w, ex.Body)
			if err != nil {
				w.Abort(err)
				return
			}
			w.Close()
		}()
		ex.Respond(&Response{Status: 200, Body: r})
	}()

	_, err := io.WriteString(conn, "POST /echo HTTP/1.1\r\nHost: localhost\r\nTransfer-Encoding: chunked\r\n\r\n")
	fatal(err, t)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	fatal(err, t)

	cw := wire.NewChunkedWriter(conn)
	p := make([]byte, 8)
	for _, b := range []byte{1, 2} {
		_, err = cw.Write([]byte{b})
		fatal(err, t)
		n, err := resp.Body.Read(p)
		fatal(err, t)
		require.Equal(t, []byte{b}, p[:n])
	}
	fatal(cw.Close(), t)
	n, err := io.ReadFull(resp.Body, p[:1])
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)
}

func TestHTTPWithTLS(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	fatal(err, t)
	defer l.Close()
	tl := tls.NewListener(l, generateTLSConfig())
	sessions := make(chan *Session, 1)
	go func() {
		conn, err := tl.Accept()
		if err != nil {
			return
		}
		sessions <- New(conn, WithLogger(zaptest.NewLogger(t)))
	}()

	tr := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	defer tr.CloseIdleConnections()
	req := mustRequest(t, "GET", fmt.Sprintf("https://%s/", l.Addr()), nil)
	req.Close = true
	res := do(&http.Client{Transport: tr}, req)

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)
	u, err := ex.URL()
	fatal(err, t)
	require.Equal(t, "https", u.Scheme)
	fatal(ex.Respond(&Response{Status: 200, Body: body.String("Hello World")}), t)

	got := <-res
	fatal(got.err, t)
	require.Equal(t, "Hello World", got.body)

	_, err = sess.Accept()
	require.Equal(t, io.EOF, err)
}

func TestHTTPRegressionHang(t *testing.T) {
	l, sessions := listen(t)
	res := do(newClient(t), mustRequest(t, "POST", fmt.Sprintf("http://%s/", l.Addr()), strings.NewReader("request")))

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)
	b, err := io.ReadAll(ex.Body)
	fatal(err, t)
	require.Equal(t, "request", string(b))
	fatal(ex.Respond(&Response{Status: 200, Body: body.String("response")}), t)
	fatal(sess.Close(), t)

	got := <-res
	fatal(got.err, t)
	require.Equal(t, "response", got.body)
}

// eventStream writes a message every tick until the body is cancelled,
// and reports the error that stopped it.
func eventStream(w *body.PipeWriter, tick time.Duration) <-chan error {
	stopped := make(chan error, 1)
	go func() {
		for {
			_, err := fmt.Fprintf(w, "data: %d\n\n", time.Now().UnixNano())
			if err != nil {
				stopped <- err
				return
			}
			time.Sleep(tick)
		}
	}()
	return stopped
}

func TestHTTPCancelBodyOnResponseFailure(t *testing.T) {
	l, sessions := listen(t)
	client := newClient(t)
	fetched := make(chan error, 1)
	go func() {
		resp, err := client.Get(fmt.Sprintf("http://%s/", l.Addr()))
		if err == nil {
			// drop the connection without reading the stream
			err = resp.Body.Close()
		}
		fetched <- err
	}()

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)

	r, w := body.NewPipe()
	stopped := eventStream(w, 20*time.Millisecond)
	respErr := ex.Respond(&Response{Status: 200, Body: r})
	fatal(<-fetched, t)

	var cerr *ConnectionError
	require.True(t, errors.As(respErr, &cerr), "got %T: %v", respErr, respErr)
	require.Equal(t, "connection closed", cerr.Reason)
	require.Equal(t, respErr, w.Err())
	require.ErrorIs(t, <-stopped, respErr)
}

func TestHTTPNextRequestErrorExposedInResponse(t *testing.T) {
	l, sessions := listen(t)
	client := newClient(t)
	go func() {
		resp, err := client.Get(fmt.Sprintf("http://%s/", l.Addr()))
		if err == nil {
			resp.Body.Close()
		}
	}()

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)

	// start waiting for the next request before responding
	next := make(chan error, 1)
	go func() {
		ex, err := sess.Accept()
		if ex != nil {
			err = errors.New("unexpected exchange")
		}
		next <- err
	}()

	r, w := body.NewPipe()
	eventStream(w, 20*time.Millisecond)
	err = ex.Respond(&Response{Status: 200, Body: r})
	require.ErrorIs(t, err, ErrConnClosed)
	require.Contains(t, err.Error(), "connection closed")
	require.Equal(t, io.EOF, <-next)
}

func TestHTTPEmptyBody(t *testing.T) {
	l, sessions := listen(t)
	res := do(newClient(t), mustRequest(t, "GET", fmt.Sprintf("http://%s/", l.Addr()), nil))

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)
	fatal(ex.Respond(&Response{Status: 200, Body: body.Bytes(nil)}), t)
	fatal(sess.Close(), t)

	got := <-res
	fatal(got.err, t)
	require.Equal(t, "", got.body)
	require.Equal(t, int64(0), got.resp.ContentLength)
}

func TestHTTPNextRequestResolvesOnClose(t *testing.T) {
	l, sessions := listen(t)
	res := do(newClient(t), mustRequest(t, "GET", fmt.Sprintf("http://%s/", l.Addr()), nil))

	sess := accept(t, sessions)
	served := make(chan error, 1)
	go func() {
		for {
			ex, err := sess.Accept()
			if err != nil {
				served <- err
				return
			}
			go ex.Respond(&Response{Status: 200, Body: body.String("hello")})
		}
	}()

	got := <-res
	fatal(got.err, t)
	require.Equal(t, "hello", got.body)

	fatal(sess.Close(), t)
	require.Equal(t, io.EOF, <-served)
}

func TestHTTPStreamingResponse(t *testing.T) {
	l, sessions := listen(t)
	client := newClient(t)

	gate := make(chan struct{})
	type line struct {
		text string
		err  error
	}
	lines := make(chan line)
	go func() {
		resp, err := client.Get(fmt.Sprintf("http://%s/", l.Addr()))
		if err != nil {
			lines <- line{err: err}
			return
		}
		defer resp.Body.Close()
		br := bufio.NewReader(resp.Body)
		for {
			s, err := br.ReadString('\n')
			if err != nil {
				lines <- line{err: err}
				return
			}
			lines <- line{text: s}
			gate <- struct{}{}
		}
	}()

	sess := accept(t, sessions)
	ex, err := sess.Accept()
	fatal(err, t)

	r, w := body.NewPipe()
	go func() {
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "%d\n", i)
			// the client must see each chunk before the next is sent
			<-gate
		}
		w.Close()
	}()
	responded := make(chan error, 1)
	go func() {
		responded <- ex.Respond(&Response{Status: 200, Body: r})
	}()

	for i := 0; i < 3; i++ {
		ln := <-lines
		fatal(ln.err, t)
		require.Equal(t, fmt.Sprintf("%d\n", i), ln.text)
	}
	require.Equal(t, io.EOF, (<-lines).err)
	fatal(<-responded, t)
}

func mustRequest(t *testing.T, method, url string, body io.Reader) *http.Request {
	req, err := http.NewRequest(method, url, body)
	fatal(err, t)
	return req
}

func generateTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}}
}
