package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decoder(s string) *Decoder {
	return NewDecoder(bufio.NewReader(strings.NewReader(s)))
}

func requireFraming(t *testing.T, err error, reason string) {
	t.Helper()
	var ferr *FramingError
	require.True(t, errors.As(err, &ferr), "got %T: %v", err, err)
	require.Equal(t, reason, ferr.Reason)
}

func TestDecodeRequest(t *testing.T) {
	dec := decoder("POST /upload?x=1 HTTP/1.1\r\nHost: example.com\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello")
	h, err := dec.DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, "POST", h.Method)
	require.Equal(t, "/upload?x=1", h.Target)
	require.Equal(t, "HTTP/1.1", h.Proto)
	require.Equal(t, 1, h.Major)
	require.Equal(t, 1, h.Minor)
	require.Equal(t, "text/plain", h.Header.Get("content-type"))
	require.Equal(t, "Content-Type", h.Header[1].Name)

	n, err := h.BodyLength()
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	host, err := h.Host()
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
}

func TestDecodeSequential(t *testing.T) {
	dec := decoder("GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n")
	h, err := dec.DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, "/a", h.Target)
	h, err = dec.DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, "/b", h.Target)
	_, err = dec.DecodeRequest()
	require.Equal(t, io.EOF, err)
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := decoder("").DecodeRequest()
	require.Equal(t, io.EOF, err)

	// blank lines before a request don't count as a request
	_, err = decoder("\r\n\r\n").DecodeRequest()
	require.Equal(t, io.EOF, err)
}

func TestDecodeLeadingBlankLines(t *testing.T) {
	h, err := decoder("\r\n\nGET / HTTP/1.1\r\nHost: x\r\n\r\n").DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, "GET", h.Method)
}

func TestDecodeInvalidMethod(t *testing.T) {
	// must fail on the bytes alone, without a line terminator
	pr, pw := io.Pipe()
	go pw.Write([]byte{1, 2, 3})
	_, err := NewDecoder(bufio.NewReader(pr)).DecodeRequest()
	requireFraming(t, err, "invalid method")
	pw.Close()

	_, err = decoder("GE(T / HTTP/1.1\r\n\r\n").DecodeRequest()
	requireFraming(t, err, "invalid method")
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"truncated line", "GET /"},
		{"truncated head", "GET / HTTP/1.1\r\nHost: x\r\n"},
		{"missing proto", "GET /\r\n\r\n"},
		{"bad proto", "GET / HTTP/2.0\r\n\r\n"},
		{"garbage proto", "GET / FOO\r\n\r\n"},
		{"space in target", "GET /a b HTTP/1.1\r\n\r\n"},
		{"obs fold", "GET / HTTP/1.1\r\nX-A: a\r\n b\r\n\r\n"},
		{"no colon", "GET / HTTP/1.1\r\nnocolon\r\n\r\n"},
		{"bad name", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n"},
		{"bad value", "GET / HTTP/1.1\r\nX: a\x00b\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decoder(tt.input).DecodeRequest()
			requireFraming(t, err, "invalid request")
		})
	}
}

func TestDecodeHeaderLimit(t *testing.T) {
	dec := decoder("GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 2048) + "\r\n\r\n")
	dec.MaxHeaderBytes = 1024
	_, err := dec.DecodeRequest()
	requireFraming(t, err, "invalid request")
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestDecodeBareLF(t *testing.T) {
	h, err := decoder("GET / HTTP/1.1\nHost: x\n\n").DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, "x", h.Header.Get("Host"))
}

func TestBodyLength(t *testing.T) {
	tests := []struct {
		name    string
		fields  []Field
		want    int64
		failure string
	}{
		{"none", nil, 0, ""},
		{"length", []Field{{"Content-Length", "42"}}, 42, ""},
		{"chunked", []Field{{"Transfer-Encoding", "chunked"}}, -1, ""},
		{"chunked wins", []Field{{"Content-Length", "3"}, {"Transfer-Encoding", "Chunked"}}, -1, ""},
		{"agreeing duplicates", []Field{{"Content-Length", "7"}, {"Content-Length", "7"}}, 7, ""},
		{"conflicting duplicates", []Field{{"Content-Length", "7"}, {"Content-Length", "8"}}, 0, "invalid content length"},
		{"negative", []Field{{"Content-Length", "-1"}}, 0, "invalid content length"},
		{"junk", []Field{{"Content-Length", "12a"}}, 0, "invalid content length"},
		{"gzip", []Field{{"Transfer-Encoding", "gzip, chunked"}}, 0, "unsupported transfer encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &RequestHead{Major: 1, Minor: 1}
			for _, f := range tt.fields {
				h.Header.Add(f.Name, f.Value)
			}
			n, err := h.BodyLength()
			if tt.failure != "" {
				requireFraming(t, err, tt.failure)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, n)
		})
	}
}

func TestConflictingLength(t *testing.T) {
	h := &RequestHead{Major: 1, Minor: 1}
	h.Header.Add("Transfer-Encoding", "chunked")
	require.False(t, h.ConflictingLength())
	h.Header.Add("Content-Length", "3")
	require.True(t, h.ConflictingLength())

	h = &RequestHead{Major: 1, Minor: 1}
	h.Header.Add("Content-Length", "3")
	require.False(t, h.ConflictingLength())
}

func TestWantsClose(t *testing.T) {
	h11 := &RequestHead{Major: 1, Minor: 1}
	require.False(t, h11.WantsClose())
	h11.Header.Add("Connection", "Close")
	require.True(t, h11.WantsClose())

	h10 := &RequestHead{Major: 1, Minor: 0}
	require.True(t, h10.WantsClose())
	h10.Header.Add("Connection", "keep-alive")
	require.False(t, h10.WantsClose())
}

func TestExpectsContinue(t *testing.T) {
	h := &RequestHead{Major: 1, Minor: 1}
	h.Header.Add("Expect", "100-Continue")
	require.True(t, h.ExpectsContinue())
	h.Minor = 0
	require.False(t, h.ExpectsContinue())
}

func TestHost(t *testing.T) {
	h := &RequestHead{Target: "http://proxy.example:8080/path", Major: 1, Minor: 1}
	host, err := h.Host()
	require.NoError(t, err)
	require.Equal(t, "proxy.example:8080", host)

	h = &RequestHead{Target: "/", Major: 1, Minor: 1}
	_, err = h.Host()
	require.ErrorIs(t, err, ErrMissingHost)

	h.Header.Add("Host", "bad host")
	_, err = h.Host()
	requireFraming(t, err, "invalid request")
}
