package main

import "net/http"

// discardResponseWriter drives an adapter.Handle call from a CLI command
// (no real client connection exists), capturing only the resulting status
// code and body size so sync/prewarm can report success or failure.
type discardResponseWriter struct {
	headers http.Header
	status  int
	written int64
}

func (d *discardResponseWriter) Header() http.Header {
	if d.headers == nil {
		d.headers = make(http.Header)
	}
	return d.headers
}

func (d *discardResponseWriter) Write(b []byte) (int, error) {
	if d.status == 0 {
		d.status = http.StatusOK
	}
	d.written += int64(len(b))
	return len(b), nil
}

func (d *discardResponseWriter) WriteHeader(status int) {
	d.status = status
}
