package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// Key identifies a stored response by request method and URL.
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey builds a normalized key. The method is upper-cased, the fragment
// is dropped and query parameters are sorted so equivalent URLs share one
// entry.
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	return Key{Method: method, URL: normalizeURL(rawURL)}
}

func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		// Encode sorts by parameter name.
		u.RawQuery = u.Query().Encode()
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// String generates the canonical key string.
// Format: METHOD URL
//
// Example:
//
//	GET https://app.example.com/api/feed?page=2&sort=new
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	method, u, ok := strings.Cut(s, " ")
	if !ok || method == "" || u == "" {
		return Key{}, fmt.Errorf("malformed cache key %q", s)
	}
	return Key{Method: method, URL: u}, nil
}
