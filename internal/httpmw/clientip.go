package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client address resolution.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies between the client and
	// this server. 0 ignores forwarding headers entirely, 1 trusts X-Real-IP
	// or the rightmost X-Forwarded-For entry, 2 the second from the end, etc.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context, see ClientIPFromContext.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
	r.Header.Del("X-Real-Ip")
}

// resolveClientAddr returns the peer address unless the peer is a private
// address and trustedHops > 0, in which case forwarding headers are honored.
// Untrusted forwarding headers are removed so nothing downstream reads them.
func resolveClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return ""
	}

	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		stripForwarded(r)
		return ""
	}

	if trustedHops <= 0 || !(ip.IsPrivate() || ip.IsLoopback()) {
		stripForwarded(r)
		return ip.String()
	}

	// X-Real-IP is set by the nearest proxy and wins when it parses.
	if xr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xr != "" {
		if cand := net.ParseIP(xr); cand != nil {
			return cand.String()
		}
	}

	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		idx := len(parts) - trustedHops
		if idx < 0 {
			// fewer entries than proxies, fail closed
			stripForwarded(r)
			return ip.String()
		}
		if cand := net.ParseIP(strings.TrimSpace(parts[idx])); cand != nil {
			return cand.String()
		}
	}

	return ip.String()
}

// ClientIPFromContext returns the resolved client address, or "" when none
// could be determined.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
