package media

import (
	"net"
	"net/url"
	"strings"
)

// RewriteLoopback points a URL the gateway built for itself (localhost,
// 127.0.0.0/8, ::1, 0.0.0.0) at the instance's configured base address,
// keeping path and query. Other URLs are returned unchanged.
func RewriteLoopback(rawURL, baseURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !isLoopbackHost(u.Hostname()) {
		return rawURL
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return rawURL
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String()
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified()
}
