package httpapi

import (
	"net"
	"strings"
)

// normalizeBasePath returns the mount prefix with a leading slash and no
// trailing slash, or "" when the backend is served from the root.
func normalizeBasePath(value string) string {
	path := strings.Trim(strings.TrimSpace(value), "/")
	if path == "" {
		return ""
	}
	return "/" + path
}

// advertisedRoot is the value clients should use as api.base_url. A
// configured public URL wins; otherwise it is derived from the listen
// address, with wildcard hosts reported as loopback.
func advertisedRoot(publicURL, addr, basePath string) string {
	path := normalizeBasePath(basePath)
	if base := strings.TrimRight(strings.TrimSpace(publicURL), "/"); base != "" {
		return base + path
	}
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil || port == "" {
		return ""
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}
