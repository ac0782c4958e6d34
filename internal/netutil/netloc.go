// Package netutil provides outbound networking helpers: proxied dialing,
// HTTP execution through an upstream proxy, and netloc extraction.
package netutil

import (
	"net/url"
	"strings"
)

// ExtractNetloc returns the network location (host, plus port when present)
// of a URL. Check definitions are grouped by netloc for the banned-at map.
//
// Examples:
//
//	"https://www.amazon.com/s?k=x" -> "www.amazon.com"
//	"http://example.test:8080/"    -> "example.test:8080"
//	"www.olx.ua"                   -> "www.olx.ua"
func ExtractNetloc(target string) string {
	if !strings.Contains(target, "://") {
		// Bare host[:port][/path]; take everything before the first slash.
		if i := strings.IndexByte(target, '/'); i >= 0 {
			return target[:i]
		}
		return target
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}
