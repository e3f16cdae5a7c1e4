// Package codec provides the encodings exchange traces can be written in.
package codec

import (
	"fmt"
	"io"
	"strings"
)

type Encoder interface {
	// Encode writes an encoding of v to its Writer.
	Encode(v any) error
}

type Decoder interface {
	// Decode reads the next encoded value from its Reader and stores it in the value pointed to by v.
	Decode(v any) error
}

// Codec returns an Encoder or Decoder given a Writer or Reader.
type Codec interface {
	Encoder(w io.Writer) Encoder
	Decoder(r io.Reader) Decoder
}

// Lookup returns the codec for a format name: "json", "json-indent",
// "cbor", or any of them with a "+frame" suffix for length prefixed
// records.
func Lookup(name string) (Codec, error) {
	base, framed := strings.CutSuffix(name, "+frame")
	var c Codec
	switch base {
	case "json":
		c = JSONCodec{}
	case "json-indent":
		c = JSONCodec{Indent: "  "}
	case "cbor":
		c = CBORCodec{}
	default:
		return nil, fmt.Errorf("codec: unknown format %q", name)
	}
	if framed {
		c = &FrameCodec{Codec: c}
	}
	return c, nil
}
