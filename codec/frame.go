package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single decoded frame.
const MaxFrameSize = 16 << 20

// FrameCodec wraps another codec so every value is written as a 4 byte
// big endian length followed by its encoding.
type FrameCodec struct {
	Codec
}

func (c *FrameCodec) Encoder(w io.Writer) Encoder {
	return &frameEncoder{
		w: w,
		c: c.Codec,
	}
}

type frameEncoder struct {
	w   io.Writer
	c   Codec
	buf bytes.Buffer
}

func (e *frameEncoder) Encode(v any) error {
	e.buf.Reset()
	e.buf.Write([]byte{0, 0, 0, 0})
	if err := e.c.Encoder(&e.buf).Encode(v); err != nil {
		return err
	}
	b := e.buf.Bytes()
	binary.BigEndian.PutUint32(b[:4], uint32(len(b)-4))
	_, err := e.w.Write(b)
	return err
}

func (c *FrameCodec) Decoder(r io.Reader) Decoder {
	return &frameDecoder{
		r: r,
		c: c.Codec,
	}
}

type frameDecoder struct {
	r io.Reader
	c Codec
}

func (d *frameDecoder) Decode(v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return fmt.Errorf("codec: frame of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return d.c.Decoder(bytes.NewReader(buf)).Decode(v)
}
