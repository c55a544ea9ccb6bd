package cache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Response converts the entry back to an HTTP response for req.
func (e *Entry) Response(req *http.Request) *http.Response {
	h := e.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Payload)))

	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Payload)),
		ContentLength: int64(len(e.Payload)),
		Request:       req,
	}
}

// Storable reports whether a response may be written to the store: a 2xx
// status without Cache-Control no-store.
func Storable(status int, header http.Header) bool {
	if status < 200 || status >= 300 {
		return false
	}
	cc := strings.ToLower(header.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store")
}
