package cache

import (
	"testing"
)

func TestNewKey_String(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{
			name:   "simple get",
			method: "GET",
			url:    "https://app.example.com/assets/app.abc123.js",
			want:   "GET https://app.example.com/assets/app.abc123.js",
		},
		{
			name:   "method is upper-cased",
			method: "post",
			url:    "https://app.example.com/api/sync",
			want:   "POST https://app.example.com/api/sync",
		},
		{
			name:   "empty method defaults to GET",
			method: "",
			url:    "https://app.example.com/",
			want:   "GET https://app.example.com/",
		},
		{
			name:   "query params sorted",
			method: "GET",
			url:    "https://app.example.com/api/feed?sort=new&page=2",
			want:   "GET https://app.example.com/api/feed?page=2&sort=new",
		},
		{
			name:   "fragment dropped and host lower-cased",
			method: "GET",
			url:    "https://App.Example.com/index.html#top",
			want:   "GET https://app.example.com/index.html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewKey(tt.method, tt.url).String()
			if got != tt.want {
				t.Errorf("NewKey().String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestNewKey_Determinism ensures equivalent URLs always produce the same key.
func TestNewKey_Determinism(t *testing.T) {
	a := NewKey("GET", "https://app.example.com/api?b=2&a=1&c=3")
	b := NewKey("get", "https://app.example.com/api?c=3&a=1&b=2")

	if a != b {
		t.Errorf("keys differ: %v vs %v", a, b)
	}
}

func TestParseKey(t *testing.T) {
	k := NewKey("GET", "https://app.example.com/search?q=a b")
	got, err := ParseKey(k.String())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if got != k {
		t.Errorf("ParseKey() = %+v, want %+v", got, k)
	}

	for _, bad := range []string{"", "GET", " https://x"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}
