package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCSRFProtection(t *testing.T) {
	t.Parallel()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := csrfMiddleware([]string{"https://book.example.org"})(ok)

	tests := []struct { //nolint:govet // test cases prefer readability over memory layout
		name           string
		method         string
		path           string
		host           string
		headers        map[string]string
		expectedStatus int
	}{
		{
			name:           "GET requests bypass CSRF check",
			method:         http.MethodGet,
			path:           "/chapter/chapter-01.md",
			host:           "localhost:8080",
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "POST without Origin or Referer is rejected",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "POST with matching Origin succeeds",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			headers:        map[string]string{"Origin": "http://localhost:8080"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "loopback aliases are one host",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "127.0.0.1:8080",
			headers:        map[string]string{"Origin": "http://localhost:3000"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "IPv6 loopback",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "[::1]:8080",
			headers:        map[string]string{"Origin": "http://localhost:8080"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "POST with foreign Origin is rejected",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			headers:        map[string]string{"Origin": "http://evil.com"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "POST with matching Referer succeeds",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			headers:        map[string]string{"Referer": "http://localhost:8080/chapter/chapter-01.md"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "null Origin falls back to Referer",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			headers:        map[string]string{"Origin": "null", "Referer": "http://evil.com/page"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "same-origin fetch metadata succeeds",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			headers:        map[string]string{"Sec-Fetch-Site": "same-origin"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "cross-site fetch metadata needs an origin",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "localhost:8080",
			headers:        map[string]string{"Sec-Fetch-Site": "cross-site", "Origin": "http://evil.com"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "configured origin succeeds",
			method:         http.MethodPost,
			path:           "/api/run",
			host:           "10.0.0.5:8080",
			headers:        map[string]string{"Origin": "https://BOOK.example.org"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "health check bypasses",
			method:         http.MethodPost,
			path:           "/healthz",
			host:           "localhost:8080",
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "static assets bypass",
			method:         http.MethodPost,
			path:           "/static/js/app.js",
			host:           "localhost:8080",
			expectedStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"source": ""}`))
			req.Host = tt.host
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus == http.StatusForbidden && !strings.Contains(rec.Body.String(), "Invalid origin") {
				t.Fatalf("expected invalid origin message, got %q", rec.Body.String())
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()
	f := func(in, expected string) {
		t.Helper()
		if got := normalizeHost(in); got != expected {
			t.Errorf("normalizeHost(%q) = %q, want %q", in, got, expected)
		}
	}
	f("localhost:8080", "localhost")
	f("127.0.0.1", "localhost")
	f("[::1]:9000", "localhost")
	f("Example.COM:443", "example.com")
	f("example.com", "example.com")
}

func TestOriginHost(t *testing.T) {
	t.Parallel()
	f := func(in, expected string) {
		t.Helper()
		if got := originHost(in); got != expected {
			t.Errorf("originHost(%q) = %q, want %q", in, got, expected)
		}
	}
	f("http://localhost:8080", "localhost")
	f("https://book.example.org/path?q=1", "book.example.org")
	f("", "")
	f("not a url", "")
	f("null", "")
}
