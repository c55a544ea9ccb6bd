package fetch

import (
	"net/http"

	"github.com/Sternrassler/cachegate/pkg/policy"
)

// Header values applied by AugmentHeaders.
const (
	StaticCacheControl = "max-age=31536000"
	DataAccept         = "application/json"
)

// AugmentHeaders returns a copy of h with caching related request headers
// for the given resource kind. Headers already present are kept, except
// Accept-Encoding: compression is negotiated by the transport, which then
// decodes the body, so stored payloads never depend on the client's
// encoding.
func AugmentHeaders(h http.Header, kind policy.Kind, userAgent string) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}

	out.Del("Accept-Encoding")
	if userAgent != "" {
		setDefault(out, "User-Agent", userAgent)
	}

	switch kind {
	case policy.KindStatic:
		setDefault(out, "Cache-Control", StaticCacheControl)
	case policy.KindData:
		setDefault(out, "Accept", DataAccept)
	}

	return out
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
