package cache

import (
	"net/http"
	"time"
)

// StoredAtHeader is added to every stored response.
const StoredAtHeader = "X-Cachegate-Stored-At"

// Entry represents a stored origin response.
type Entry struct {
	// Key is the request identity the response was stored under.
	Key Key `json:"key"`

	// Payload is the response body.
	Payload []byte `json:"payload"`

	// StatusCode is the HTTP status code of the stored response.
	StatusCode int `json:"status_code"`

	// Headers are the response headers, including StoredAtHeader.
	Headers http.Header `json:"headers"`

	// Partition is the versioned partition holding the entry.
	Partition string `json:"partition"`

	// StoredAt is when the response was stored.
	StoredAt time.Time `json:"stored_at"`
}

// NewEntry builds an entry for a freshly fetched response. Headers are
// cloned and stamped with StoredAtHeader.
func NewEntry(key Key, status int, header http.Header, payload []byte, storedAt time.Time) *Entry {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Content-Length")
	h.Set(StoredAtHeader, storedAt.UTC().Format(time.RFC3339Nano))

	return &Entry{
		Key:        key,
		Payload:    payload,
		StatusCode: status,
		Headers:    h,
		StoredAt:   storedAt,
	}
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.StoredAt)
	if age < 0 {
		return 0
	}
	return age
}

// IsFresh reports whether the entry is younger than ttl. A zero ttl never
// expires by age.
func (e *Entry) IsFresh(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(e.StoredAt) < ttl
}
