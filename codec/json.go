package codec

import (
	"encoding/json"
	"io"
)

// JSONCodec writes one JSON document per line, or spread over several
// lines when Indent is set. HTML characters are not escaped since traces
// carry raw request targets.
type JSONCodec struct {
	Indent string
}

func (c JSONCodec) Encoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}
	return enc
}

func (c JSONCodec) Decoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}
