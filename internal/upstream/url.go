package upstream

import (
	"context"
	"net/url"
	"strings"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/pathutil"
)

// DefaultOrigin is used when the configured origin is missing or invalid.
const DefaultOrigin = "http://localhost:1337"

// Param is one query parameter. Order is preserved and values are opaque.
type Param struct {
	Key   string
	Value string
}

// P is shorthand for Param{Key: k, Value: v}.
func P(k, v string) Param { return Param{Key: k, Value: v} }

func defaultOrigin() *url.URL {
	u, _ := url.Parse(DefaultOrigin)
	return u
}

// ParseOrigin validates raw as an absolute http(s) origin and returns its
// scheme and host. It never fails: anything unusable is logged and replaced
// with DefaultOrigin. A path on raw is dropped.
func ParseOrigin(raw string, L log.Logger) *url.URL {
	if L == nil {
		L = log.Nop()
	}
	ctx := context.Background()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		L.Warn(ctx, "upstream origin not configured, using default", "default", DefaultOrigin)
		return defaultOrigin()
	}

	u, err := url.Parse(raw)
	switch {
	case err != nil:
		L.Warn(ctx, "upstream origin does not parse, using default", "error", err.Error(), "default", DefaultOrigin)
		return defaultOrigin()
	case u.Scheme != "http" && u.Scheme != "https":
		L.Warn(ctx, "upstream origin must be http or https, using default", "scheme", u.Scheme, "default", DefaultOrigin)
		return defaultOrigin()
	case u.Host == "" || u.Hostname() == "":
		L.Warn(ctx, "upstream origin has no host, using default", "default", DefaultOrigin)
		return defaultOrigin()
	case u.User != nil:
		L.Warn(ctx, "upstream origin must not carry credentials, using default", "default", DefaultOrigin)
		return defaultOrigin()
	}

	if p := strings.TrimRight(u.Path, "/"); p != "" {
		L.Warn(ctx, "upstream origin path ignored", "path", p)
	}
	return &url.URL{Scheme: u.Scheme, Host: strings.ToLower(u.Host)}
}

// BuildURL joins p onto base and appends params in order, skipping params
// with an empty value. p gets exactly one leading slash and its dot segments
// are resolved, so it cannot step outside base.
func BuildURL(base *url.URL, p string, params ...Param) *url.URL {
	if base == nil {
		base = defaultOrigin()
	}
	u := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: pathutil.Clean(p)}

	var q strings.Builder
	for _, prm := range params {
		if prm.Value == "" || prm.Key == "" {
			continue
		}
		if q.Len() > 0 {
			q.WriteByte('&')
		}
		q.WriteString(url.QueryEscape(prm.Key))
		q.WriteByte('=')
		q.WriteString(url.QueryEscape(prm.Value))
	}
	u.RawQuery = q.String()
	return u
}

// sameOrigin re-parses u and checks that it resolves to origin exactly:
// same scheme, host and port, no credentials, and a textual prefix match.
func sameOrigin(origin, u *url.URL) bool {
	if origin == nil || u == nil {
		return false
	}
	re, err := url.Parse(u.String())
	if err != nil {
		return false
	}
	if re.User != nil || re.Opaque != "" {
		return false
	}
	if re.Scheme != origin.Scheme || !strings.EqualFold(re.Host, origin.Host) || re.Port() != origin.Port() {
		return false
	}
	prefix := origin.Scheme + "://" + origin.Host
	s := re.String()
	if !strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix)) {
		return false
	}
	rest := s[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
