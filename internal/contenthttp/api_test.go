package contenthttp

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-edge/internal/cms"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    map[string]int
	articles []cms.Article
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls: map[string]int{},
		articles: []cms.Article{
			{ID: 1, Slug: "hello", Title: "Hello & <World>", Excerpt: "first", PublicationDate: "2024-03-01"},
			{ID: 2, Slug: "second", Title: "Second", PublicationDate: "bogus"},
		},
	}
}

func (f *fakeSource) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) Articles(context.Context) []cms.Article {
	f.hit("articles")
	return f.articles
}

func (f *fakeSource) ArticleBySlug(_ context.Context, slug string) *cms.Article {
	f.hit("article")
	for i := range f.articles {
		if f.articles[i].Slug == slug {
			return &f.articles[i]
		}
	}
	return nil
}

func (f *fakeSource) ArticleSlugs(context.Context) []string {
	f.hit("slugs")
	return []string{"hello", "second"}
}

func (f *fakeSource) ArticlesByCategory(context.Context, string) []cms.Article {
	f.hit("category")
	return []cms.Article{}
}

func (f *fakeSource) ArticlesByTag(context.Context, string) []cms.Article {
	f.hit("tag")
	return f.articles[:1]
}

func (f *fakeSource) CategorySlugs(context.Context) []string { return []string{"technology"} }
func (f *fakeSource) TagSlugs(context.Context) []string      { return []string{} }

func (f *fakeSource) SearchIndex(context.Context) []cms.IndexEntry {
	f.hit("index")
	return []cms.IndexEntry{{ID: 1, Slug: "hello", Title: "Hello", Tags: []string{"go"}}}
}

func newRouter(t *testing.T, src Source, cache *Cache, giscus Giscus) http.Handler {
	t.Helper()
	api := NewAPI(&Options{Source: src, Cache: cache, SiteURL: "https://example.com/", Giscus: giscus})
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rr
}

func TestArticles_CachedUntilInvalidated(t *testing.T) {
	src := newFakeSource()
	cache := NewCache(time.Minute)
	h := newRouter(t, src, cache, Giscus{})

	first := get(h, "/api/content/articles")
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first: %d %s", first.Code, first.Header().Get("X-Cache"))
	}
	if first.Header().Get("Cache-Control") != PublicCacheControl {
		t.Fatalf("Cache-Control = %q", first.Header().Get("Cache-Control"))
	}
	second := get(h, "/api/content/articles")
	if second.Header().Get("X-Cache") != "HIT" || second.Body.String() != first.Body.String() {
		t.Fatal("second request not served from cache")
	}
	if src.count("articles") != 1 {
		t.Fatalf("source called %d times", src.count("articles"))
	}

	cache.Invalidate(context.Background(), []string{"/articles/hello"})
	get(h, "/api/content/articles")
	if src.count("articles") != 2 {
		t.Fatal("aggregate entry survived invalidation")
	}

	var body listResponse[cms.Article]
	if err := json.Unmarshal(first.Body.Bytes(), &body); err != nil || len(body.Data) != 2 {
		t.Fatalf("body = %s (%v)", first.Body.String(), err)
	}
}

func TestArticle(t *testing.T) {
	h := newRouter(t, newFakeSource(), NewCache(time.Minute), Giscus{})

	if rr := get(h, "/api/content/articles/hello"); rr.Code != http.StatusOK {
		t.Fatalf("existing: %d", rr.Code)
	}
	if rr := get(h, "/api/content/articles/missing"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rr.Code)
	}
	if rr := get(h, "/api/content/articles/Bad..Slug"); rr.Code != http.StatusNotFound {
		t.Fatalf("malformed: %d", rr.Code)
	}
}

func TestEmptyResultsNotCached(t *testing.T) {
	src := newFakeSource()
	h := newRouter(t, src, NewCache(time.Minute), Giscus{})

	get(h, "/api/content/categories/technology")
	get(h, "/api/content/categories/technology")
	if src.count("category") != 2 {
		t.Fatalf("empty category list cached, calls = %d", src.count("category"))
	}

	get(h, "/api/content/tags/go")
	get(h, "/api/content/tags/go")
	if src.count("tag") != 1 {
		t.Fatalf("tag list not cached, calls = %d", src.count("tag"))
	}
}

func TestSearchIndexIsBareArray(t *testing.T) {
	h := newRouter(t, newFakeSource(), nil, Giscus{})
	rr := get(h, "/api/search-index")
	if !strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "[") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestSlugs(t *testing.T) {
	h := newRouter(t, newFakeSource(), nil, Giscus{})
	var resp slugsResponse
	if err := json.Unmarshal(get(h, "/api/content/slugs").Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Articles) != 2 || len(resp.Categories) != 1 || resp.Tags == nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRSS(t *testing.T) {
	h := newRouter(t, newFakeSource(), nil, Giscus{})
	for _, p := range []string{"/rss.xml", "/api/rss"} {
		rr := get(h, p)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: %d", p, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != rssContentType {
			t.Fatalf("%s: Content-Type = %q", p, ct)
		}
		var doc rssDoc
		if err := xml.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		items := doc.Channel.Items
		if len(items) != 2 {
			t.Fatalf("%s: %d items", p, len(items))
		}
		if items[0].Title != "Hello & <World>" || items[0].Link != "https://example.com/articles/hello" || !items[0].GUID.IsPermaLink {
			t.Fatalf("%s: item = %+v", p, items[0])
		}
		if items[0].PubDate != "Fri, 01 Mar 2024 00:00:00 GMT" {
			t.Fatalf("%s: pubDate = %q", p, items[0].PubDate)
		}
		if items[1].PubDate != "" {
			t.Fatalf("%s: unparseable date rendered as %q", p, items[1].PubDate)
		}
	}
}

func TestSiteConfig(t *testing.T) {
	g := Giscus{Enabled: false, Repo: "o/r", RepoID: "R_x", Mapping: "javascript:", Theme: "evil"}
	h := newRouter(t, newFakeSource(), nil, g)

	var resp siteConfigResponse
	if err := json.Unmarshal(get(h, "/api/site-config").Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	got := resp.Giscus
	if got.Enabled || got.Repo != "" || got.RepoID != "" {
		t.Fatalf("disabled widget leaked identifiers: %+v", got)
	}
	if got.Mapping != "pathname" || got.Theme != "preferred_color_scheme" || got.Lang != "en" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}
