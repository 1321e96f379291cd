package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

// RouteRegistrar mounts a feature's routes on the public router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// EdgeMW applies the security policy headers and the rate limiter. It
	// runs after client address resolution and outside everything else so
	// every response, including 429s and recovered panics, carries the policy.
	EdgeMW func(http.Handler) http.Handler

	// Routes are mounted in order on the chi router.
	Routes []RouteRegistrar

	// Fallback serves every request no route matched, typically the
	// renderer reverse proxy. A nil Fallback answers 404.
	Fallback http.Handler

	// MaxBodyBytes caps request bodies for every route, defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}
