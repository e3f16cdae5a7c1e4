package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// ResponseHead is a status line and header block. Header is written as
// given; the caller decides the framing fields.
type ResponseHead struct {
	Status int
	Reason string // StatusText(Status) when empty
	Header Header
}

// Validate checks the status code and every header field.
func (h *ResponseHead) Validate() error {
	if h.Status < 100 || h.Status > 999 {
		return fmt.Errorf("h1: invalid status code %d", h.Status)
	}
	for _, f := range h.Header {
		if !httpguts.ValidHeaderFieldName(f.Name) || !httpguts.ValidHeaderFieldValue(f.Value) {
			return fmt.Errorf("h1: invalid response header %q", f.Name)
		}
	}
	return nil
}

// Encoder writes response heads to a connection.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &Encoder{w: bw}
}

// EncodeResponse writes the status line, the fields and the blank line
// that ends the head. The output stays buffered until Flush.
func (enc *Encoder) EncodeResponse(h *ResponseHead) error {
	if err := h.Validate(); err != nil {
		return err
	}
	reason := h.Reason
	if reason == "" {
		reason = StatusText(h.Status)
	}

	if Debug != nil {
		fmt.Fprintln(Debug, "<<ENC", h.Status, reason, h.Header)
	}

	enc.w.WriteString("HTTP/1.1 ")
	enc.w.WriteString(strconv.Itoa(h.Status))
	enc.w.WriteByte(' ')
	enc.w.WriteString(reason)
	enc.w.Write(crlf)
	if err := h.Header.Write(enc.w); err != nil {
		return err
	}
	_, err := enc.w.Write(crlf)
	return err
}

// EncodeContinue writes an interim 100 Continue response.
func (enc *Encoder) EncodeContinue() error {
	_, err := enc.w.WriteString("HTTP/1.1 100 Continue\r\n\r\n")
	return err
}

func (enc *Encoder) Flush() error {
	return enc.w.Flush()
}

// Writer returns the buffered writer body bytes go through.
func (enc *Encoder) Writer() *bufio.Writer {
	return enc.w
}

// BodyAllowed reports whether a response with the given status may carry
// a body.
func BodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204:
		return false
	case status == 304:
		return false
	}
	return true
}
