package wire

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Name lookups are
// case-insensitive; names keep the case they were added with.
type Header []Field

func (h Header) index(name string) int {
	for i, f := range h {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// Add appends a field. A repeated name is merged into the existing field
// as a comma separated list, except Set-Cookie which can't be combined.
func (h *Header) Add(name, value string) {
	if !strings.EqualFold(name, "Set-Cookie") {
		if i := h.index(name); i >= 0 {
			(*h)[i].Value += ", " + value
			return
		}
	}
	*h = append(*h, Field{Name: name, Value: value})
}

// Set replaces every field with the given name by a single one.
func (h *Header) Set(name, value string) {
	i := h.index(name)
	if i < 0 {
		*h = append(*h, Field{Name: name, Value: value})
		return
	}
	(*h)[i].Value = value
	h.del(name, i+1)
}

// Del removes every field with the given name.
func (h *Header) Del(name string) {
	h.del(name, 0)
}

func (h *Header) del(name string, from int) {
	out := (*h)[:from]
	for _, f := range (*h)[from:] {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Get returns the value of the first field with the given name.
func (h Header) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h[i].Value
	}
	return ""
}

// Values returns the values of every field with the given name.
func (h Header) Values(name string) []string {
	var vals []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

func (h Header) Has(name string) bool {
	return h.index(name) >= 0
}

func (h Header) Len() int {
	return len(h)
}

// Clone returns a copy that shares nothing with h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}

// Write writes the fields in wire format, without the terminating blank line.
func (h Header) Write(w io.Writer) error {
	bw, buffered := w.(*bufio.Writer)
	if !buffered {
		bw = bufio.NewWriter(w)
	}
	for _, f := range h {
		bw.WriteString(f.Name)
		bw.WriteString(": ")
		bw.WriteString(f.Value)
		if _, err := bw.Write(crlf); err != nil {
			return err
		}
	}
	if !buffered {
		return bw.Flush()
	}
	return nil
}

// ContainsToken reports whether any comma separated value of the named
// field includes token, ignoring case.
func (h Header) ContainsToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}
