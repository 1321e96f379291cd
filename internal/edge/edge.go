// Package edge composes the inbound hardening applied to every page and API
// request: security policy headers and per-client rate limiting. Static
// assets and probes are passed through untouched.
package edge

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/policy"
	"github.com/keithlinneman/linnemanlabs-edge/internal/ratelimit"
)

// DefaultSkip lists the path prefixes that bypass the edge middleware.
var DefaultSkip = []string{
	"/static/",
	"/assets/",
	"/_next/static/",
	"/_next/image",
	"/favicon.ico",
	"/robots.txt",
	"/-/ping",
	"/-/healthy",
	"/-/ready",
}

var hostRe = regexp.MustCompile(`^(?:[A-Za-z0-9](?:[A-Za-z0-9.-]*[A-Za-z0-9])?|\[[0-9A-Fa-f:.]+\])(?::[0-9]{1,5})?$`)

type Options struct {
	Table       policy.Table
	Environment policy.Environment

	// PublicOrigin is the site's external scheme://host. When empty the
	// origin is derived per request from the forwarded scheme and Host.
	PublicOrigin string

	// Limiter is optional, nil disables rate limiting.
	Limiter *ratelimit.Limiter

	// Skip replaces DefaultSkip when non-nil.
	Skip []string
}

// Middleware returns the edge handler wrapper. Denied requests get the
// policy headers as well as the 429.
func Middleware(opts Options) func(http.Handler) http.Handler {
	skip := opts.Skip
	if skip == nil {
		skip = DefaultSkip
	}
	public := strings.TrimRight(strings.TrimSpace(opts.PublicOrigin), "/")

	var fixed policy.Headers
	if public != "" {
		fixed = policy.Build(opts.Table, opts.Environment, public)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Skipped(r.URL.Path, skip) {
				next.ServeHTTP(w, r)
				return
			}

			hdrs := fixed
			if hdrs == nil {
				hdrs = policy.Build(opts.Table, opts.Environment, requestOrigin(r))
			}
			hdrs.Apply(w.Header())

			if opts.Limiter != nil && !opts.Limiter.Enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Skipped reports whether p starts with any prefix in skip.
func Skipped(p string, skip []string) bool {
	for _, s := range skip {
		if strings.HasPrefix(p, s) {
			return true
		}
	}
	return false
}

// requestOrigin rebuilds scheme://host from the request. A Host that is not
// a plain hostname or IP with optional port yields "".
func requestOrigin(r *http.Request) string {
	host := r.Host
	if host == "" || !hostRe.MatchString(host) {
		return ""
	}
	return httpmw.SchemeFromRequest(r) + "://" + strings.ToLower(host)
}
