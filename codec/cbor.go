package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
}

// CBORCodec provides a codec API for a CBOR encoder and decoder.
type CBORCodec struct{}

// Encoder returns a CBOR encoder with canonical map ordering.
func (c CBORCodec) Encoder(w io.Writer) Encoder {
	return cborEnc.NewEncoder(w)
}

// Decoder returns a CBOR decoder
func (c CBORCodec) Decoder(r io.Reader) Decoder {
	return cbor.NewDecoder(r)
}
