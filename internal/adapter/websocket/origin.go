package websocket

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// NewCheckOrigin returns a CheckOrigin function for the upgrader. Empty origins (non-browser
// clients) are always allowed. A "*" entry allows every origin; otherwise the origin must match
// an entry exactly, ignoring a trailing slash.
func NewCheckOrigin(allowed []string) func(r *http.Request) bool {
	normalized := make([]string, 0, len(allowed))
	for _, o := range allowed {
		normalized = append(normalized, strings.TrimSuffix(o, "/"))
	}
	allowAll := slices.Contains(normalized, "*")

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" || allowAll {
			return true
		}

		if slices.Contains(normalized, strings.TrimSuffix(origin, "/")) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}
