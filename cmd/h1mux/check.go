package main

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/progrium/h1mux/cmd/h1mux/cli"
	"github.com/progrium/h1mux/codec"
	"github.com/progrium/h1mux/wire"
)

// requestRecord describes one request found by check.
type requestRecord struct {
	Method  string            `json:"method" cbor:"method"`
	Target  string            `json:"target" cbor:"target"`
	Proto   string            `json:"proto" cbor:"proto"`
	Header  map[string]string `json:"header,omitempty" cbor:"header,omitempty"`
	Chunked bool              `json:"chunked,omitempty" cbor:"chunked,omitempty"`
	Body    int64             `json:"body" cbor:"body"`
	Trailer map[string]string `json:"trailer,omitempty" cbor:"trailer,omitempty"`
}

var checkCmd = &cli.Command{
	Usage: "check [file]",
	Short: "decode a captured stream of requests",
	Long: `
Check decodes every request in a file, or stdin, the way the server would
and writes one JSON record per request to stdout. It exits non-zero at
the first framing error.
`,
	Args: cli.MaxArgs(1),
	Run: func(ctx context.Context, args []string) {
		var r io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			fatal(err)
			defer f.Close()
			r = f
		}
		fatal(checkRequests(r, codec.JSONCodec{}.Encoder(os.Stdout)))
	},
}

func checkRequests(r io.Reader, enc codec.Encoder) error {
	br := bufio.NewReader(r)
	dec := wire.NewDecoder(br)
	for {
		head, err := dec.DecodeRequest()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := head.BodyLength()
		if err != nil {
			return err
		}
		rec := requestRecord{
			Method: head.Method,
			Target: head.Target,
			Proto:  head.Proto,
			Header: fieldMap(head.Header),
		}
		if n < 0 {
			cr := wire.NewChunkedReader(br)
			rec.Chunked = true
			rec.Body, err = io.Copy(io.Discard, cr)
			rec.Trailer = fieldMap(cr.Trailer())
		} else {
			rec.Body, err = io.CopyN(io.Discard, br, n)
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
}

func fieldMap(h wire.Header) map[string]string {
	if h.Len() == 0 {
		return nil
	}
	m := make(map[string]string, h.Len())
	for _, f := range h {
		m[f.Name] = f.Value
	}
	return m
}
