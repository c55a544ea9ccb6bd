package engine

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader correlates a proxied request across logs.
const RequestIDHeader = "X-Request-Id"

// Hop-by-hop headers are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy returns a handler that rewrites incoming requests onto origin and
// serves them through Handle.
func (e *Engine) Proxy(origin *url.URL) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		out := OriginRequest(r, origin)
		out.Header.Set(RequestIDHeader, id)

		resp := e.Handle(out)
		defer resp.Body.Close()

		for _, h := range hopHeaders {
			resp.Header.Del(h)
		}
		for key, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.Header().Set(RequestIDHeader, id)
		w.WriteHeader(resp.StatusCode)

		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			e.logger.Debug().Err(err).Str("request_id", id).Msg("Failed to write response")
		}
	})
}

// OriginRequest clones r with its URL resolved against origin. The origin
// path is used as a prefix.
func OriginRequest(r *http.Request, origin *url.URL) *http.Request {
	out := r.Clone(r.Context())
	target := *origin
	target.Path = singleJoiningSlash(origin.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery
	target.Fragment = ""
	out.URL = &target
	out.Host = origin.Host
	out.RequestURI = ""

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
