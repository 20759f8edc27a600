package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// csrfMiddleware rejects cross-site state-changing requests, chiefly POST
// /api/run, which executes code. A request passes when the browser marks it
// same-origin via Sec-Fetch-Site, or its Origin (else Referer) names the
// request host or one of allowed. Safe methods, health, static and metrics
// endpoints bypass the check.
func csrfMiddleware(allowed []string) middleware {
	extra := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if host := originHost(origin); host != "" {
			extra[host] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			path := r.URL.Path
			if path == "/healthz" || path == "/metrics" || strings.HasPrefix(path, "/static/") {
				next.ServeHTTP(w, r)
				return
			}

			if !isAllowedOrigin(r, extra) {
				http.Error(w, "Forbidden: Invalid origin", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowedOrigin(r *http.Request, extra map[string]struct{}) bool {
	if r.Header.Get("Sec-Fetch-Site") == "same-origin" {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		origin = r.Header.Get("Referer")
	}
	host := originHost(origin)
	if host == "" {
		return false
	}

	requestHost := r.Host
	if requestHost == "" {
		requestHost = r.URL.Host
	}
	if host == normalizeHost(requestHost) {
		return true
	}
	_, ok := extra[host]
	return ok
}

// originHost extracts the normalized host of an Origin or Referer value.
func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return normalizeHost(u.Host)
}

// normalizeHost drops the port and treats loopback names as one host.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "localhost"
	}
	return host
}
