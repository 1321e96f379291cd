// Package policy builds the Content-Security-Policy and companion security
// headers for a response. Build is pure: the same table, environment and
// origin always yield the same headers.
package policy

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ReportGroup is the Report-To group named by the report-to directive.
const ReportGroup = "csp-endpoint"

// ReportPath is where browsers post violation reports, relative to the origin.
const ReportPath = "/api/csp-report"

const (
	hstsValue        = "max-age=63072000; includeSubDomains; preload"
	reportToMaxAge   = 10886400
	permissionsValue = "camera=(), microphone=(), geolocation=(), payment=()"
)

type Environment int

const (
	Production Environment = iota
	Development
)

// ParseEnvironment maps a configured environment name onto an Environment.
// Anything other than "production" is treated as non-production.
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(strings.TrimSpace(s), "production") {
		return Production
	}
	return Development
}

func (e Environment) String() string {
	if e == Production {
		return "production"
	}
	return "development"
}

// Table holds the per-directive allow-lists. Upstream, when set, is the
// content API origin and is added to img-src, connect-src and media-src.
type Table struct {
	Upstream string

	Default []string
	Script  []string
	Style   []string
	Img     []string
	Connect []string
	Frame   []string
	Font    []string
	Media   []string
}

// DefaultTable is the allow-list for the site and its comment widget.
func DefaultTable(upstream string) Table {
	return Table{
		Upstream: upstream,
		Default:  []string{"'self'"},
		Script:   []string{"'self'", "https://giscus.app"},
		Style:    []string{"'self'", "'unsafe-inline'"},
		Img:      []string{"'self'", "data:", "blob:", "https://avatars.githubusercontent.com"},
		Connect:  []string{"'self'", "https://giscus.app", "https://api.github.com"},
		Frame:    []string{"https://giscus.app"},
		Font:     []string{"'self'", "data:"},
		Media:    []string{"'self'"},
	}
}

// Header is one response header.
type Header struct {
	Name  string
	Value string
}

// Headers is the ordered header set produced by Build.
type Headers []Header

// Get returns the value of name, or "".
func (h Headers) Get(name string) string {
	for _, hd := range h {
		if http.CanonicalHeaderKey(hd.Name) == http.CanonicalHeaderKey(name) {
			return hd.Value
		}
	}
	return ""
}

// Apply sets every header on dst, replacing existing values.
func (h Headers) Apply(dst http.Header) {
	for _, hd := range h {
		dst.Set(hd.Name, hd.Value)
	}
}

// Build assembles the policy for env. origin is the public scheme://host of
// the current request, used for the report endpoint. An empty origin yields a
// relative report-uri and an endpoint-less Report-To.
func Build(t Table, env Environment, origin string) Headers {
	origin = strings.TrimRight(origin, "/")
	reportURL := origin + ReportPath
	dev := env != Production

	def, script := t.Default, t.Script
	if !dev {
		def, script = withoutScriptUnsafe(def), withoutScriptUnsafe(script)
	}

	var d DirectiveSet
	d.Add("default-src", def...)

	d.Add("script-src", script...)
	if dev {
		d.Add("script-src", "'unsafe-inline'", "'unsafe-eval'")
	}
	d.Add("style-src", t.Style...)
	d.Add("img-src", t.Img...)
	d.Add("img-src", t.Upstream)
	d.Add("connect-src", t.Connect...)
	d.Add("connect-src", t.Upstream)
	if dev {
		d.Add("connect-src", "ws:", "wss:")
	}
	d.Add("frame-src", t.Frame...)
	d.Add("font-src", t.Font...)
	d.Add("media-src", t.Media...)
	d.Add("media-src", t.Upstream)

	d.Add("object-src", "'none'")
	d.Add("frame-ancestors", "'self'")
	d.Add("base-uri", "'self'")
	d.Add("form-action", "'self'")
	d.Add("report-uri", reportURL)
	d.Add("report-to", ReportGroup)
	if !dev {
		d.Flag("upgrade-insecure-requests")
		d.Flag("block-all-mixed-content")
	}

	h := Headers{
		{"Content-Security-Policy", d.String()},
		{"Report-To", reportTo(origin, reportURL)},
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "SAMEORIGIN"},
		{"X-XSS-Protection", "1; mode=block"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Permissions-Policy", permissionsValue},
		{"X-Permitted-Cross-Domain-Policies", "none"},
	}
	if !dev {
		h = append(h, Header{"Strict-Transport-Security", hstsValue})
	}
	return h
}

// scriptUnsafe are the keywords that re-enable inline script or eval.
var scriptUnsafe = []string{"'unsafe-inline'", "'unsafe-eval'", "'wasm-unsafe-eval'"}

func isScriptUnsafe(src string) bool {
	for _, k := range scriptUnsafe {
		if strings.EqualFold(src, k) {
			return true
		}
	}
	return false
}

// withoutScriptUnsafe drops scriptUnsafe keywords, matched case-insensitively
// like browsers do.
func withoutScriptUnsafe(srcs []string) []string {
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		if !isScriptUnsafe(strings.TrimSpace(s)) {
			out = append(out, s)
		}
	}
	return out
}

type reportToValue struct {
	Group     string             `json:"group"`
	MaxAge    int                `json:"max_age"`
	Endpoints []reportToEndpoint `json:"endpoints"`
}

type reportToEndpoint struct {
	URL string `json:"url"`
}

func reportTo(origin, reportURL string) string {
	v := reportToValue{Group: ReportGroup, MaxAge: reportToMaxAge, Endpoints: []reportToEndpoint{}}
	// Report-To endpoints must be absolute
	if origin != "" {
		v.Endpoints = append(v.Endpoints, reportToEndpoint{URL: reportURL})
	}
	b, _ := json.Marshal(v)
	return string(b)
}
