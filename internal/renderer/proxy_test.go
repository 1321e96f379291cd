package renderer

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
)

func TestNew_RejectsBadTarget(t *testing.T) {
	for _, target := range []string{"", "localhost:3000", "ftp://x", "http://"} {
		if _, err := New(Options{Target: target}); err == nil {
			t.Errorf("New(%q) succeeded", target)
		}
	}
}

func TestProxy_Forwards(t *testing.T) {
	var gotHost, gotXFF, gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost, gotXFF, gotPath = r.Host, r.Header.Get("X-Forwarded-For"), r.URL.RequestURI()
		_, _ = io.WriteString(w, "rendered")
	}))
	defer backend.Close()

	p, err := New(Options{Target: backend.URL, Transport: backend.Client().Transport})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.com/articles/a?x=1", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	req.Header.Set("X-Forwarded-For", "6.6.6.6")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "rendered" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if gotHost != "example.com" {
		t.Errorf("Host = %q", gotHost)
	}
	if gotXFF != "203.0.113.5" {
		t.Errorf("X-Forwarded-For = %q, want client address only", gotXFF)
	}
	if gotPath != "/articles/a?x=1" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestProxy_BadGateway(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	target := backend.URL
	backend.Close()

	p, err := New(Options{Target: target})
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != retryAfter {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rr.Header().Get("Cache-Control"))
	}
	if !strings.Contains(rr.Body.String(), "Temporarily unavailable") {
		t.Errorf("body is not the maintenance page: %q", rr.Body.String())
	}
}

func TestProxy_UsesResolvedClientIP(t *testing.T) {
	var gotXFF, gotRealIP string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF, gotRealIP = r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-Ip")
	}))
	defer backend.Close()

	p, err := New(Options{Target: backend.URL})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:999"
	req.Header.Set("X-Real-Ip", "6.6.6.6")
	req = req.WithContext(httpmw.WithClientIP(req.Context(), "198.51.100.4"))
	p.ServeHTTP(httptest.NewRecorder(), req)

	if gotXFF != "198.51.100.4" || gotRealIP != "" {
		t.Fatalf("X-Forwarded-For = %q, X-Real-Ip = %q", gotXFF, gotRealIP)
	}
}
