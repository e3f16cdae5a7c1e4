package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/progrium/h1mux/body"
	"github.com/progrium/h1mux/mux"
)

type Handler interface {
	ServeExchange(*mux.Exchange)
}

type HandlerFunc func(*mux.Exchange)

func (f HandlerFunc) ServeExchange(ex *mux.Exchange) {
	f(ex)
}

// NotFound responds 404 to every exchange.
var NotFound = HandlerFunc(func(ex *mux.Exchange) {
	ex.Respond(&mux.Response{Status: 404, Body: body.String("not found\n")})
})

// ServeMux routes exchanges by method and path. A pattern is a path,
// optionally preceded by a method and a space ("POST /upload"). Patterns
// ending in a slash match every path below them; the longest match wins.
type ServeMux struct {
	mu       sync.Mutex
	handlers map[string]Handler
	patterns []string // longest path first
}

func NewServeMux() *ServeMux {
	return &ServeMux{handlers: make(map[string]Handler)}
}

func (m *ServeMux) Handle(pattern string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[pattern]; !exists {
		m.patterns = append(m.patterns, pattern)
		sort.SliceStable(m.patterns, func(i, j int) bool {
			mi, pi := splitPattern(m.patterns[i])
			mj, pj := splitPattern(m.patterns[j])
			if len(pi) != len(pj) {
				return len(pi) > len(pj)
			}
			return mi != "" && mj == ""
		})
	}
	m.handlers[pattern] = h
}

func (m *ServeMux) HandleFunc(pattern string, fn func(*mux.Exchange)) {
	m.Handle(pattern, HandlerFunc(fn))
}

func (m *ServeMux) Remove(pattern string) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[pattern]
	if !ok {
		return nil
	}
	delete(m.handlers, pattern)
	for i, p := range m.patterns {
		if p == pattern {
			m.patterns = append(m.patterns[:i], m.patterns[i+1:]...)
			break
		}
	}
	return h
}

// Match returns the handler for a method and path, or nil.
func (m *ServeMux) Match(method, path string) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patterns {
		pm, pp := splitPattern(p)
		if pm != "" && pm != method {
			continue
		}
		if pp == path || (strings.HasSuffix(pp, "/") && strings.HasPrefix(path, pp)) {
			return m.handlers[p]
		}
	}
	return nil
}

func splitPattern(p string) (method, path string) {
	if m, rest, ok := strings.Cut(p, " "); ok {
		return m, rest
	}
	return "", p
}

func (m *ServeMux) ServeExchange(ex *mux.Exchange) {
	path := ex.Target
	if u, err := ex.URL(); err == nil {
		path = u.Path
	} else if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	h := m.Match(ex.Method, path)
	if h == nil {
		h = NotFound
	}
	h.ServeExchange(ex)
}
