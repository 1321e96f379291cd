package renderer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func TestPages_Embedded(t *testing.T) {
	for _, name := range []string{NotFoundPage, MaintenancePage} {
		f, err := Pages().Open(name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		_ = f.Close()
	}
}

func TestNotFound(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		wantBody bool
	}{
		{"get", http.MethodGet, true},
		{"head", http.MethodHead, false},
		{"post", http.MethodPost, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NotFound(nil).ServeHTTP(rr, httptest.NewRequest(tt.method, "/missing", nil))
			if rr.Code != http.StatusNotFound {
				t.Fatalf("status = %d", rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			if rr.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("Cache-Control = %q", rr.Header().Get("Cache-Control"))
			}
			if got := strings.Contains(rr.Body.String(), "Page not found"); got != tt.wantBody {
				t.Errorf("body present = %v, want %v", got, tt.wantBody)
			}
		})
	}
}

func TestNotFound_CustomPages(t *testing.T) {
	pages := fstest.MapFS{NotFoundPage: {Data: []byte("<p>gone</p>")}}
	rr := httptest.NewRecorder()
	NotFound(pages).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusNotFound || rr.Body.String() != "<p>gone</p>" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestNotFound_MissingPageFallsBackToText(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFound(fstest.MapFS{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}
}
