package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ChunkedReader decodes a body framed with the chunked transfer-coding.
type ChunkedReader struct {
	r        *bufio.Reader
	n        uint64 // unread bytes in chunk
	err      error
	buf      [2]byte
	checkEnd bool // whether need to check for \r\n chunk footer
	trailer  Header
}

// NewChunkedReader returns a reader that strips the chunk framing from r.
// Read returns io.EOF after the last chunk, its trailers and the final
// CRLF have been consumed.
func NewChunkedReader(r *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{r: r}
}

// Trailer returns the trailer fields that followed the last chunk. It is
// only populated once Read has returned io.EOF.
func (cr *ChunkedReader) Trailer() Header {
	return cr.trailer
}

func (cr *ChunkedReader) beginChunk() {
	var line []byte
	line, cr.err = readChunkLine(cr.r)
	if cr.err != nil {
		return
	}
	cr.n, cr.err = parseHexUint(line)
	if cr.err != nil {
		cr.err = invalidChunk(cr.err)
		return
	}
	if cr.n == 0 {
		cr.err = cr.readTrailer()
	}
}

func (cr *ChunkedReader) readTrailer() error {
	for {
		line, err := readLine(cr.r)
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return io.EOF
		}
		name, value, ok := splitField(line)
		if !ok {
			return invalidChunk(fmt.Errorf("malformed trailer %q", line))
		}
		cr.trailer.Add(name, value)
	}
}

func (cr *ChunkedReader) chunkHeaderAvailable() bool {
	n := cr.r.Buffered()
	if n > 0 {
		peek, _ := cr.r.Peek(n)
		return bytes.IndexByte(peek, '\n') >= 0
	}
	return false
}

// Read returns the bytes that are available now, up to len(b). It only
// blocks for more input when it has nothing to return yet.
func (cr *ChunkedReader) Read(b []byte) (n int, err error) {
	for cr.err == nil {
		if cr.checkEnd {
			if n > 0 && cr.r.Buffered() < 2 {
				// We have some data. Return early (per the io.Reader
				// contract) instead of potentially blocking while
				// reading more.
				break
			}
			if _, cr.err = io.ReadFull(cr.r, cr.buf[:2]); cr.err == nil {
				if string(cr.buf[:]) != "\r\n" {
					cr.err = invalidChunk(errors.New("malformed chunk footer"))
					break
				}
			} else {
				if cr.err == io.EOF {
					cr.err = io.ErrUnexpectedEOF
				}
				cr.err = invalidChunk(cr.err)
				break
			}
			cr.checkEnd = false
		}
		if cr.n == 0 {
			if n > 0 && !cr.chunkHeaderAvailable() {
				// We've read enough. Don't potentially block
				// reading a new chunk header.
				break
			}
			cr.beginChunk()
			continue
		}
		if len(b) == 0 {
			break
		}
		rbuf := b
		if uint64(len(rbuf)) > cr.n {
			rbuf = rbuf[:cr.n]
		}
		var n0 int
		n0, cr.err = cr.r.Read(rbuf)
		n += n0
		b = b[n0:]
		cr.n -= uint64(n0)
		// If we're at the end of a chunk, read the next two
		// bytes to verify they are "\r\n".
		if cr.n == 0 && cr.err == nil {
			cr.checkEnd = true
		} else if cr.err == io.EOF {
			cr.err = invalidChunk(io.ErrUnexpectedEOF)
		}
		if n > 0 && cr.r.Buffered() == 0 {
			break
		}
	}
	if n > 0 && cr.err == io.EOF {
		return n, nil
	}
	return n, cr.err
}

func readChunkLine(b *bufio.Reader) ([]byte, error) {
	p, err := readLine(b)
	if err != nil {
		return nil, err
	}
	return removeChunkExtension(p), nil
}

// Read a line of bytes (up to \n) from b.
// Give up if the line exceeds MaxLineLength.
// The returned bytes are owned by the bufio.Reader
// so they are only valid until the next bufio read.
func readLine(b *bufio.Reader) ([]byte, error) {
	p, err := b.ReadSlice('\n')
	if err != nil {
		// We always know when EOF is coming.
		// If the caller asked for a line, there should be a line.
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		} else if err == bufio.ErrBufferFull {
			err = ErrLineTooLong
		}
		return nil, invalidChunk(err)
	}
	if len(p) >= MaxLineLength {
		return nil, invalidChunk(ErrLineTooLong)
	}
	if !bytes.HasSuffix(p, crlf) {
		return nil, invalidChunk(errors.New("line not terminated by CRLF"))
	}
	return trimTrailingWhitespace(p), nil
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func trimTrailingWhitespace(b []byte) []byte {
	for len(b) > 0 && isASCIISpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

// removeChunkExtension removes any chunk-extension from p.
// For example,
//
//	"0" => "0"
//	"0;token" => "0"
//	"0;token=val" => "0"
//	`0;token="quoted string"` => "0"
func removeChunkExtension(p []byte) []byte {
	if semi := bytes.IndexByte(p, ';'); semi >= 0 {
		p = trimTrailingWhitespace(p[:semi])
	}
	return p
}

func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, errors.New("empty chunk size")
	}
	var n uint64
	for i, b := range v {
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, fmt.Errorf("invalid byte %q in chunk length", b)
		}
		if i == 16 {
			return 0, errors.New("chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}

// ChunkedWriter frames every Write as one chunk. Close writes the last
// chunk and the trailers.
type ChunkedWriter struct {
	w io.Writer

	// Trailer is written after the last chunk when set before Close.
	Trailer Header
}

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

// Write writes p as a single chunk. An empty p is not framed at all since
// a zero sized chunk marks the end of the body; the body only ends on Close.
func (cw *ChunkedWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err = fmt.Fprintf(cw.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if n, err = cw.w.Write(p); err != nil {
		return n, err
	}
	if n != len(p) {
		return n, io.ErrShortWrite
	}
	_, err = cw.w.Write(crlf)
	return n, err
}

// Close writes the last chunk, any trailers and the final CRLF. It does
// not close the underlying writer.
func (cw *ChunkedWriter) Close() error {
	if _, err := io.WriteString(cw.w, "0\r\n"); err != nil {
		return err
	}
	if len(cw.Trailer) > 0 {
		if err := cw.Trailer.Write(cw.w); err != nil {
			return err
		}
	}
	_, err := cw.w.Write(crlf)
	return err
}

// WriteChunks encodes chunks followed by the last chunk.
func WriteChunks(w io.Writer, chunks [][]byte) error {
	cw := NewChunkedWriter(w)
	for _, c := range chunks {
		if _, err := cw.Write(c); err != nil {
			return err
		}
	}
	return cw.Close()
}
