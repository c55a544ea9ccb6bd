package engine

import (
	"encoding/json"
	"net/http"

	"github.com/Sternrassler/cachegate/pkg/fetch"
)

// Queued is the body of the 202 response for a request handed to the
// retry queue.
type Queued struct {
	Queued  bool   `json:"queued"`
	Method  string `json:"method"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

func queuedResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(Queued{
		Queued:  true,
		Method:  req.Method,
		URL:     req.URL.String(),
		Message: "The request will be sent when the origin is reachable",
	})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	resp := &fetch.Response{StatusCode: http.StatusAccepted, Header: h, Body: body}
	return resp.HTTPResponse(req)
}
