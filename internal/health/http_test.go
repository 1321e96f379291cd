package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type ctxKey struct{}

func TestHandler(t *testing.T) {
	tests := []struct {
		name     string
		probe    Probe
		wantCode int
		wantBody string
	}{
		{"nil probe", nil, http.StatusOK, "ok"},
		{"passing", Fixed(true, ""), http.StatusOK, "ok"},
		{"failing", Fixed(false, "redis: connection refused"), http.StatusServiceUnavailable, "redis: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Handler(tt.probe, "ok").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
				t.Fatalf("Cache-Control = %q", cc)
			}
		})
	}
}

func TestHandler_UsesRequestContext(t *testing.T) {
	p := CheckFunc(func(ctx context.Context) error {
		if ctx.Value(ctxKey{}) != "v" {
			return errors.New("missing request context")
		}
		return nil
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "v"))

	rec := httptest.NewRecorder()
	Handler(p, "ok").ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
}

func TestAPI_Routes(t *testing.T) {
	var gate ShutdownGate
	r := chi.NewRouter()
	(&API{Readiness: gate.Probe()}).RegisterRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/-/ping"); rec.Code != http.StatusOK || rec.Body.String() != "pong\n" {
		t.Fatalf("/-/ping = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get("/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("/-/healthy = %d", rec.Code)
	}
	if rec := get("/-/ready"); rec.Code != http.StatusOK || rec.Body.String() != "ready\n" {
		t.Fatalf("/-/ready = %d %q", rec.Code, rec.Body.String())
	}

	gate.Close("shutting down")
	if rec := get("/-/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/-/ready while draining = %d", rec.Code)
	}
	if rec := get("/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("liveness should ignore the drain gate, got %d", rec.Code)
	}
}
