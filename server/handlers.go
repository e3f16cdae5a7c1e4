package server

import (
	"fmt"
	"io"
	"time"

	"github.com/progrium/h1mux/body"
	"github.com/progrium/h1mux/mux"
	"github.com/progrium/h1mux/wire"
)

// Echo streams the request body back as the response body.
func Echo() Handler {
	return HandlerFunc(func(ex *mux.Exchange) {
		r, w := body.NewPipe()
		go func() {
			if _, err := io.Copy(w, ex.Body); err != nil {
				w.Abort(err)
				return
			}
			w.Close()
		}()
		var h wire.Header
		if ct := ex.Header.Get("Content-Type"); ct != "" {
			h.Set("Content-Type", ct)
		}
		ex.Respond(&mux.Response{Status: 200, Header: h, Body: r})
	})
}

// Text responds with a fixed plain text body.
func Text(s string) Handler {
	return HandlerFunc(func(ex *mux.Exchange) {
		ex.Respond(&mux.Response{
			Status: 200,
			Header: wire.Header{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}},
			Body:   body.String(s),
		})
	})
}

// Ticker streams a server-sent event every interval. It stops after count
// events, or never when count is zero, and when the client goes away.
func Ticker(interval time.Duration, count int) Handler {
	return HandlerFunc(func(ex *mux.Exchange) {
		r, w := body.NewPipe()
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for i := 0; count == 0 || i < count; i++ {
				if _, err := fmt.Fprintf(w, "data: %d\n\n", i); err != nil {
					return
				}
				select {
				case <-t.C:
				case <-w.Done():
					return
				}
			}
			w.Close()
		}()
		ex.Respond(&mux.Response{
			Status: 200,
			Header: wire.Header{
				{Name: "Content-Type", Value: "text/event-stream"},
				{Name: "Cache-Control", Value: "no-cache"},
			},
			Body: r,
		})
	})
}
