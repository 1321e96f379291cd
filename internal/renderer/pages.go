package renderer

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"
)

// Page names looked up in the pages FS.
const (
	NotFoundPage    = "404.html"
	MaintenancePage = "maintenance.html"
)

//go:embed pages
var embedded embed.FS

// Pages returns the built-in error pages.
func Pages() fs.FS {
	sub, err := fs.Sub(embedded, "pages")
	if err != nil {
		panic("renderer: pages subfs: " + err.Error())
	}
	return sub
}

// NotFound answers every request with the 404 page. It is the fallback when
// no renderer is configured.
func NotFound(pages fs.FS) http.Handler {
	if pages == nil {
		pages = Pages()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		servePage(w, r, pages, NotFoundPage, http.StatusNotFound)
	})
}

// servePage writes name from pages with status, falling back to the plain
// status text when the page is missing. Error pages are never cached.
func servePage(w http.ResponseWriter, r *http.Request, pages fs.FS, name string, status int) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")

	body, err := fs.ReadFile(pages, name)
	if err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
