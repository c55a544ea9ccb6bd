// Package offline synthesizes the terminal fallback response served when
// neither the cache nor the origin can satisfy a request.
package offline

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/Sternrassler/cachegate/pkg/policy"
)

// Header carries the engine outcome on every response.
const Header = "X-Cachegate"

// OutcomeOffline is the Header value of synthesized responses.
const OutcomeOffline = "offline"

// DefaultPage is the navigation fallback.
var DefaultPage = []byte(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>Offline</title></head>
<body>
<main>
<h1>You are offline</h1>
<p>This page is not available right now. Changes you made will sync once the connection is back.</p>
</main>
</body>
</html>
`)

// DefaultImage is the image placeholder.
var DefaultImage = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200"><rect width="200" height="200" fill="#e5e7eb"/><text x="100" y="105" font-family="sans-serif" font-size="14" text-anchor="middle" fill="#6b7280">Offline</text></svg>`)

// Unavailable is the JSON body returned for data requests.
type Unavailable struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// Responder maps a request kind to a canned response.
type Responder struct {
	page  []byte
	image []byte
}

// New creates a responder. Nil page or image select the defaults.
func New(page, image []byte) *Responder {
	if page == nil {
		page = DefaultPage
	}
	if image == nil {
		image = DefaultImage
	}
	return &Responder{page: page, image: image}
}

// Respond always returns a response:
//   - navigation: 200 with the offline page
//   - image: 200 with the placeholder graphic
//   - static and data: 503 with a JSON Unavailable payload
func (r *Responder) Respond(req *http.Request) *http.Response {
	switch policy.KindOf(req) {
	case policy.KindNavigation:
		return build(req, http.StatusOK, "text/html; charset=utf-8", r.page)
	case policy.KindImage:
		return build(req, http.StatusOK, "image/svg+xml", r.image)
	default:
		body := Unavailable{
			Error:   "offline",
			Message: "The resource is unavailable while offline",
		}
		if req != nil && req.URL != nil {
			body.URL = req.URL.String()
		}
		payload, _ := json.Marshal(body)
		return build(req, http.StatusServiceUnavailable, "application/json", payload)
	}
}

func build(req *http.Request, status int, contentType string, body []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	h.Set(Header, OutcomeOffline)

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
