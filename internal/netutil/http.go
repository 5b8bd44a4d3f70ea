// Package netutil provides HTTP and URL helpers shared by the tunnel
// adapters.
package netutil

import (
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

var hopByHopHeaderNames = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopByHopHeaders strips hop-by-hop headers that must not be proxied,
// including any header named by a Connection token.
func RemoveHopByHopHeaders(h http.Header) {
	if len(h) == 0 {
		return
	}
	for _, connectionValue := range h.Values("Connection") {
		for _, token := range strings.Split(connectionValue, ",") {
			if key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(token)); key != "" {
				h.Del(key)
			}
		}
	}
	for _, key := range hopByHopHeaderNames {
		h.Del(key)
	}
}

// LoopbackURL returns the base URL of a listener bound on the loopback
// interface.
func LoopbackURL(port int) *url.URL {
	return &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", fmt.Sprint(port))}
}

// JoinPath appends path and query to base without touching base.
func JoinPath(base *url.URL, path, rawQuery string) string {
	target := *base
	target.Path = strings.TrimSuffix(base.Path, "/") + path
	target.RawQuery = rawQuery
	return target.String()
}

// NormalizeWSURLPort copies a non-default port from serverURL onto wsURL
// when the relay advertised a WebSocket URL without one.
func NormalizeWSURLPort(wsURL, serverURL string) string {
	wsURL = strings.TrimSpace(wsURL)
	serverURL = strings.TrimSpace(serverURL)
	if wsURL == "" || serverURL == "" {
		return wsURL
	}
	wsParsed, err := url.Parse(wsURL)
	if err != nil || wsParsed.Host == "" {
		return wsURL
	}
	if wsParsed.Port() != "" {
		return wsURL
	}
	serverParsed, err := url.Parse(serverURL)
	if err != nil {
		return wsURL
	}
	port := serverParsed.Port()
	if port == "" || port == "443" || port == "80" {
		return wsURL
	}
	wsParsed.Host = net.JoinHostPort(wsParsed.Hostname(), port)
	return wsParsed.String()
}
