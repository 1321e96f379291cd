package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-edge/internal/health"
	"github.com/keithlinneman/linnemanlabs-edge/internal/version"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Liveness    health.Probe
	Readiness   health.Probe
	// BuildInfo is served at /-/version when set.
	BuildInfo *version.Info
	// AllowPublic disables the private-network guard. Only for tests and
	// hosts where the admin port is firewalled some other way.
	AllowPublic bool
	OnPanic     func()
}
