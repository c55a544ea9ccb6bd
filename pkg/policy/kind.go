package policy

import (
	"net/http"
	"path"
	"strings"
)

// Kind is the coarse resource type of a request.
type Kind string

const (
	KindNavigation Kind = "navigation"
	KindImage      Kind = "image"
	KindStatic     Kind = "static"
	KindData       Kind = "data"
)

var imageExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".avif": true,
}

var staticExt = map[string]bool{
	".js": true, ".mjs": true, ".css": true, ".woff": true, ".woff2": true,
	".ttf": true, ".otf": true, ".wasm": true, ".map": true,
}

// KindOf classifies a request by fetch metadata, then Accept, then the path
// extension. Anything unrecognised is data.
func KindOf(req *http.Request) Kind {
	if req == nil || req.URL == nil {
		return KindData
	}
	return KindFor(req.Header, req.URL.Path)
}

// KindFor is KindOf for bare headers and a URL path.
func KindFor(h http.Header, urlPath string) Kind {
	switch h.Get("Sec-Fetch-Dest") {
	case "document", "iframe":
		return KindNavigation
	case "image":
		return KindImage
	case "script", "style", "font", "worker", "sharedworker":
		return KindStatic
	}
	if h.Get("Sec-Fetch-Mode") == "navigate" {
		return KindNavigation
	}

	ext := strings.ToLower(path.Ext(urlPath))
	switch {
	case imageExt[ext]:
		return KindImage
	case staticExt[ext]:
		return KindStatic
	case ext == ".html" || ext == ".htm":
		return KindNavigation
	}

	accept := h.Get("Accept")
	switch {
	case strings.Contains(accept, "text/html"):
		return KindNavigation
	case strings.HasPrefix(accept, "image/"):
		return KindImage
	}
	return KindData
}
