package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const maxMethodLength = 64

// RequestHead is a parsed request line and header block.
type RequestHead struct {
	Method string
	Target string
	Proto  string // "HTTP/1.0"
	Major  int
	Minor  int
	Header Header
}

func (h *RequestHead) ProtoAtLeast(major, minor int) bool {
	return h.Major > major || h.Major == major && h.Minor >= minor
}

// BodyLength reports how the request body is framed: -1 for chunked,
// otherwise the declared Content-Length (0 when there's no body).
func (h *RequestHead) BodyLength() (int64, error) {
	if te := h.Header.Values("Transfer-Encoding"); len(te) > 0 {
		if len(te) > 1 || !strings.EqualFold(strings.TrimSpace(te[0]), "chunked") {
			return 0, &FramingError{Reason: "unsupported transfer encoding", Err: fmt.Errorf("%q", strings.Join(te, ", "))}
		}
		return -1, nil
	}
	cl := h.Header.Get("Content-Length")
	if cl == "" {
		return 0, nil
	}
	// duplicates were merged into a list, which is fine if every
	// value agrees
	var n int64 = -1
	for _, v := range strings.Split(cl, ",") {
		v = strings.TrimSpace(v)
		m, err := strconv.ParseUint(v, 10, 63)
		if err != nil || (n >= 0 && int64(m) != n) {
			return 0, &FramingError{Reason: "invalid content length", Err: fmt.Errorf("%q", cl)}
		}
		n = int64(m)
	}
	return n, nil
}

// ConflictingLength reports whether the head carries both
// Transfer-Encoding and Content-Length. The chunked coding is used to
// read the body but the connection must not be reused afterwards
// (RFC 7230 3.3.3).
func (h *RequestHead) ConflictingLength() bool {
	return h.Header.Has("Transfer-Encoding") && h.Header.Has("Content-Length")
}

// WantsClose reports whether the client asked for the connection to be
// closed after this exchange.
func (h *RequestHead) WantsClose() bool {
	if h.Header.ContainsToken("Connection", "close") {
		return true
	}
	if !h.ProtoAtLeast(1, 1) {
		return !h.Header.ContainsToken("Connection", "keep-alive")
	}
	return false
}

func (h *RequestHead) ExpectsContinue() bool {
	return h.ProtoAtLeast(1, 1) && strings.EqualFold(h.Header.Get("Expect"), "100-continue")
}

// Decoder reads request heads from a buffered connection.
type Decoder struct {
	r *bufio.Reader

	// MaxHeaderBytes bounds the request line and header block together.
	// Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int
}

func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r}
}

// DecodeRequest reads the next request head. It returns io.EOF when the
// source ends cleanly before the first byte of a request, and a
// *FramingError when the head is malformed. Transport errors are returned
// as they are.
func (d *Decoder) DecodeRequest() (*RequestHead, error) {
	method, err := d.readMethod()
	if err != nil {
		return nil, err
	}

	budget := d.MaxHeaderBytes
	if budget <= 0 {
		budget = DefaultMaxHeaderBytes
	}
	budget -= len(method) + 1

	line, err := d.readLine(&budget)
	if err != nil {
		return nil, err
	}
	target, proto, ok := strings.Cut(string(line), " ")
	if !ok || target == "" || strings.ContainsAny(target, " \t\x00") {
		return nil, invalidRequest("malformed request line %q", method+" "+string(line))
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok || major != 1 {
		return nil, invalidRequest("unsupported protocol %q", proto)
	}

	head := &RequestHead{
		Method: method,
		Target: target,
		Proto:  proto,
		Major:  major,
		Minor:  minor,
	}
	for {
		line, err := d.readLine(&budget)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, invalidRequest("obsolete line folding")
		}
		name, value, ok := splitField(line)
		if !ok {
			return nil, invalidRequest("malformed header %q", line)
		}
		head.Header.Add(name, value)
	}

	if Debug != nil {
		fmt.Fprintln(Debug, ">>DEC", head.Method, head.Target, head.Proto, head.Header)
	}
	return head, nil
}

// readMethod consumes the method token and the space after it. Bytes are
// checked as they arrive so garbage fails without waiting for a newline.
func (d *Decoder) readMethod() (string, error) {
	var buf []byte
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if len(buf) == 0 {
					return "", io.EOF
				}
				return "", invalidRequest("unexpected EOF in request line")
			}
			return "", err
		}
		if len(buf) == 0 && (b == '\r' || b == '\n') {
			// RFC 7230 3.5: ignore empty lines before a request-line
			continue
		}
		if b == ' ' && len(buf) > 0 {
			return string(buf), nil
		}
		if !httpguts.IsTokenRune(rune(b)) || len(buf) == maxMethodLength {
			return "", &FramingError{Reason: "invalid method"}
		}
		buf = append(buf, b)
	}
}

// readLine returns one line without its terminator, charging its length
// against budget. Bare LF terminators are accepted.
func (d *Decoder) readLine(budget *int) ([]byte, error) {
	var line []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		*budget -= len(frag)
		if *budget < 0 {
			return nil, &FramingError{Reason: "invalid request", Err: ErrLineTooLong}
		}
		line = append(line, frag...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			return nil, invalidRequest("unexpected EOF in header")
		}
		return nil, err
	}
	line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
	return line, nil
}

func splitField(line []byte) (name, value string, ok bool) {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	name = string(line[:i])
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", false
	}
	value = strings.Trim(string(line[i+1:]), " \t")
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", "", false
	}
	return name, value, true
}

func parseHTTPVersion(vers string) (major, minor int, ok bool) {
	if len(vers) != len("HTTP/X.Y") || !strings.HasPrefix(vers, "HTTP/") || vers[6] != '.' {
		return 0, 0, false
	}
	hi, lo := vers[5], vers[7]
	if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
		return 0, 0, false
	}
	return int(hi - '0'), int(lo - '0'), true
}

// ErrMissingHost is returned by Host when neither the target nor the
// header names an authority.
var ErrMissingHost = errors.New("missing Host header")

// Host returns the authority the request was sent to, taken from an
// absolute-form target or the Host header.
func (h *RequestHead) Host() (string, error) {
	if i := strings.Index(h.Target, "://"); i > 0 {
		rest := h.Target[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = rest[:j]
		}
		return rest, nil
	}
	host := h.Header.Get("Host")
	if host == "" {
		return "", ErrMissingHost
	}
	if !httpguts.ValidHostHeader(host) {
		return "", invalidRequest("malformed Host header %q", host)
	}
	return host, nil
}
