package security

import (
	"net"
	"net/http"
	"slices"
)

// ClientIP extracts the client IP from the request.
// We only use RemoteAddr to avoid header spoofing.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If split fails, RemoteAddr might be just an IP without port
		return r.RemoteAddr
	}
	return ip
}

// OriginAllowed reports whether origin is in the allowlist. Matching is exact.
func OriginAllowed(origin string, allowed []string) bool {
	return slices.Contains(allowed, origin)
}
