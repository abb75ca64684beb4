package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// Caller addresses
//
// Admin mutations are allowed only from loopback or private
// addresses, judged on the socket peer. Forwarding headers are
// client-controlled, so they only feed the "client" log field.
// ------------------------------------------------------------

// isPublicIP:
//   - true unless private, loopback or link-local
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}

// safeParseIP returns nil for blank or malformed input.
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

// peerIP is the socket peer of r.
func peerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return safeParseIP(r.RemoteAddr)
	}
	return safeParseIP(host)
}

// trustedCaller reports whether r may change the verbose configuration.
// An unparseable peer is refused.
func trustedCaller(r *http.Request) bool {
	ip := peerIP(r)
	return ip != nil && !isPublicIP(ip)
}

// clientIP is the best guess at the originating client, for logs:
//  1. X-Forwarded-For, first public entry
//  2. socket peer
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := safeParseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}
	if ip := peerIP(r); ip != nil {
		return ip.String()
	}
	return ""
}
