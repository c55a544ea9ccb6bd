package policy

import (
	"net/http/httptest"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		headers map[string]string
		want    Kind
	}{
		{"fetch dest document", "/dashboard", map[string]string{"Sec-Fetch-Dest": "document"}, KindNavigation},
		{"navigate mode", "/dashboard", map[string]string{"Sec-Fetch-Mode": "navigate"}, KindNavigation},
		{"fetch dest image", "/render?id=1", map[string]string{"Sec-Fetch-Dest": "image"}, KindImage},
		{"fetch dest script", "/bundle", map[string]string{"Sec-Fetch-Dest": "script"}, KindStatic},
		{"png extension", "/img/logo.PNG", nil, KindImage},
		{"js extension", "/assets/app.abc123.js", nil, KindStatic},
		{"font extension", "/fonts/inter.woff2", nil, KindStatic},
		{"html extension", "/offline.html", nil, KindNavigation},
		{"accept html", "/", map[string]string{"Accept": "text/html,application/xhtml+xml"}, KindNavigation},
		{"accept image", "/thumb", map[string]string{"Accept": "image/avif,image/webp"}, KindImage},
		{"json api", "/api/users", map[string]string{"Accept": "application/json"}, KindData},
		{"no hints", "/api/sync", nil, KindData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "https://app.example.com"+tt.url, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := KindOf(req); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf_NilRequest(t *testing.T) {
	if got := KindOf(nil); got != KindData {
		t.Errorf("KindOf(nil) = %q, want %q", got, KindData)
	}
}
