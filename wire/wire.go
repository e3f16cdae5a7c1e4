// Package wire implements the HTTP/1.1 message framing used by the
// connection driver: request heads, response heads and the chunked
// transfer-coding.
package wire

import "io"

var (
	// Debug can be set to get request and response heads as they're
	// decoded and encoded
	Debug io.Writer
)

const (
	// MaxLineLength bounds a single chunk-size line.
	MaxLineLength = 4096

	// DefaultMaxHeaderBytes bounds a request line plus its header block.
	DefaultMaxHeaderBytes = 1 << 20
)

var crlf = []byte("\r\n")
