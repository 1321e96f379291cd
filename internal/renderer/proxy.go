// Package renderer forwards page requests to the rendering service.
package renderer

import (
	"errors"
	"io/fs"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

type Options struct {
	Target  string
	Logger  log.Logger
	Timeout time.Duration
	// Transport overrides the otelhttp-instrumented default, for tests.
	Transport http.RoundTripper
	// Pages holds the maintenance page served when the renderer is
	// unreachable, defaults to the built-in pages.
	Pages fs.FS
}

// retryAfter is sent with the maintenance page.
const retryAfter = "30"

// New returns a reverse proxy to opts.Target. The client address resolved
// by the edge is forwarded in X-Forwarded-For, replacing whatever the client
// sent.
func New(opts Options) (http.Handler, error) {
	target, err := url.Parse(opts.Target)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse renderer url")
	}
	if target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
		return nil, xerrors.Newf("renderer url must be absolute http(s), got %q", opts.Target)
	}
	base := opts.Logger
	if base == nil {
		base = log.Nop()
	}
	pages := opts.Pages
	if pages == nil {
		pages = Pages()
	}
	rt := opts.Transport
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Timeout > 0 {
			tr.ResponseHeaderTimeout = opts.Timeout
		}
		rt = otelhttp.NewTransport(tr)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.Out.Header.Del("X-Real-Ip")
			pr.SetXForwarded()
			if ip := httpmw.ClientIPFromContext(pr.In.Context()); ip != "" {
				pr.Out.Header.Set("X-Forwarded-For", ip)
			}
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			if errors.Is(err, ctx.Err()) {
				// client went away
				return
			}
			L := base
			if l, ok := log.Lookup(ctx); ok {
				L = l
			}
			L.Error(ctx, xerrors.Wrap(err, "renderer proxy"), "renderer unavailable", "path", r.URL.Path)
			w.Header().Set("Retry-After", retryAfter)
			servePage(w, r, pages, MaintenancePage, http.StatusBadGateway)
		},
	}, nil
}
