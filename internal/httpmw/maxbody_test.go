package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		chunked    bool
		wantStatus int
		wantReadOK bool
	}{
		{"under limit", "0123", false, http.StatusOK, true},
		{"at limit", "0123456789", false, http.StatusOK, true},
		{"declared over limit", "0123456789A", false, http.StatusRequestEntityTooLarge, false},
		{"undeclared over limit", "0123456789ABCDEF", true, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			var readErr error
			h := MaxBody(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				_, readErr = io.ReadAll(r.Body)
			}))
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.chunked {
				r.ContentLength = -1
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status=%d want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if called {
					t.Fatal("handler should not run")
				}
				return
			}
			if (readErr == nil) != tt.wantReadOK {
				t.Fatalf("readErr=%v wantReadOK=%v", readErr, tt.wantReadOK)
			}
			var mbe *http.MaxBytesError
			if readErr != nil && !errors.As(readErr, &mbe) {
				t.Fatalf("readErr=%T want *http.MaxBytesError", readErr)
			}
		})
	}
}
