package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
)

// NewCheckOrigin returns a CheckOrigin function for the event stream.
// It allows empty origins (non-browser clients), localhost origins (the
// supervised application open in a local browser) and any extra origins
// given, compared by scheme and host.
func NewCheckOrigin(allowed ...string) func(r *http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if o := extractOrigin(a); o != "" {
			origins[o] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		if isLocalhostOrigin(origin) {
			return true
		}

		if _, ok := origins[origin]; ok {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
