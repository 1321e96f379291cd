package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler answers 200 with okBody when p passes and 503 with the failure
// reason otherwise. A nil probe always passes.
func Handler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error() + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}

// API serves the probe endpoints on the public router so load balancers in
// front of the edge can reach them without the admin port.
type API struct {
	Liveness  Probe
	Readiness Probe
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/-/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Get("/-/healthy", Handler(a.Liveness, "ok"))
	r.Get("/-/ready", Handler(a.Readiness, "ready"))
}
