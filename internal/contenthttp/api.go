// Package contenthttp serves the site's content read API, search index,
// RSS feed and public site configuration on top of the cms fetchers.
package contenthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-edge/internal/cms"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

// PublicCacheControl lets shared caches keep content responses for five
// minutes and serve them stale for ten more while refreshing.
const PublicCacheControl = "s-maxage=300, stale-while-revalidate=600"

const defaultSiteTitle = "Personalized Content Platform"

// Source is the content the API serves, implemented by *cms.Client.
type Source interface {
	Articles(ctx context.Context) []cms.Article
	ArticleBySlug(ctx context.Context, slug string) *cms.Article
	ArticleSlugs(ctx context.Context) []string
	ArticlesByCategory(ctx context.Context, slug string) []cms.Article
	ArticlesByTag(ctx context.Context, slug string) []cms.Article
	CategorySlugs(ctx context.Context) []string
	TagSlugs(ctx context.Context) []string
	SearchIndex(ctx context.Context) []cms.IndexEntry
}

type Options struct {
	Logger log.Logger
	Source Source
	// Cache is optional, nil serves every request from the source.
	Cache *Cache

	// SiteURL is the public base URL used for feed links.
	SiteURL   string
	SiteTitle string

	Giscus Giscus
}

type API struct {
	src     Source
	cache   *Cache
	logger  log.Logger
	siteURL string
	title   string
	giscus  Giscus
}

func NewAPI(opts *Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	title := opts.SiteTitle
	if title == "" {
		title = defaultSiteTitle
	}
	return &API{
		src:     opts.Source,
		cache:   opts.Cache,
		logger:  opts.Logger,
		siteURL: strings.TrimRight(opts.SiteURL, "/"),
		title:   title,
		giscus:  opts.Giscus.Sanitized(),
	}
}

func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/content/articles", api.HandleArticles)
	r.Get("/api/content/articles/{slug}", api.HandleArticle)
	r.Get("/api/content/categories/{slug}", api.HandleCategory)
	r.Get("/api/content/tags/{slug}", api.HandleTag)
	r.Get("/api/content/slugs", api.HandleSlugs)
	r.Get("/api/search-index", api.HandleSearchIndex)
	r.Get("/api/site-config", api.HandleSiteConfig)
	r.Get("/api/rss", api.HandleRSS)
	r.Get("/rss.xml", api.HandleRSS)
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

type itemResponse struct {
	Data *cms.Article `json:"data"`
}

type slugsResponse struct {
	Articles   []string `json:"articles"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

type siteConfigResponse struct {
	Giscus Giscus `json:"giscus"`
}

func (api *API) HandleArticles(w http.ResponseWriter, r *http.Request) {
	const key = "articles"
	if api.serveCached(w, key) {
		return
	}
	items := api.src.Articles(r.Context())
	api.writeJSON(r.Context(), w, http.StatusOK, listResponse[cms.Article]{Data: items}, key, len(items) > 0, AggregatePath)
}

func (api *API) HandleArticle(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !cms.ValidSlug(slug) {
		api.notFound(r.Context(), w)
		return
	}
	key := "article:" + slug
	if api.serveCached(w, key) {
		return
	}
	a := api.src.ArticleBySlug(r.Context(), slug)
	if a == nil {
		api.notFound(r.Context(), w)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, itemResponse{Data: a}, key, true, "/articles/"+slug)
}

func (api *API) HandleCategory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !cms.ValidSlug(slug) {
		api.notFound(r.Context(), w)
		return
	}
	key := "category:" + slug
	if api.serveCached(w, key) {
		return
	}
	items := api.src.ArticlesByCategory(r.Context(), slug)
	api.writeJSON(r.Context(), w, http.StatusOK, listResponse[cms.Article]{Data: items}, key, len(items) > 0, "/categories/"+slug, AggregatePath)
}

func (api *API) HandleTag(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !cms.ValidSlug(slug) {
		api.notFound(r.Context(), w)
		return
	}
	key := "tag:" + slug
	if api.serveCached(w, key) {
		return
	}
	items := api.src.ArticlesByTag(r.Context(), slug)
	api.writeJSON(r.Context(), w, http.StatusOK, listResponse[cms.Article]{Data: items}, key, len(items) > 0, "/tags/"+slug, AggregatePath)
}

func (api *API) HandleSlugs(w http.ResponseWriter, r *http.Request) {
	const key = "slugs"
	if api.serveCached(w, key) {
		return
	}
	ctx := r.Context()
	resp := slugsResponse{
		Articles:   api.src.ArticleSlugs(ctx),
		Categories: api.src.CategorySlugs(ctx),
		Tags:       api.src.TagSlugs(ctx),
	}
	api.writeJSON(ctx, w, http.StatusOK, resp, key, len(resp.Articles) > 0, AggregatePath)
}

// HandleSearchIndex serves the bare array the client-side search expects.
func (api *API) HandleSearchIndex(w http.ResponseWriter, r *http.Request) {
	const key = "search-index"
	if api.serveCached(w, key) {
		return
	}
	idx := api.src.SearchIndex(r.Context())
	api.writeJSON(r.Context(), w, http.StatusOK, idx, key, len(idx) > 0, AggregatePath)
}

func (api *API) HandleSiteConfig(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, siteConfigResponse{Giscus: api.giscus}, "", false)
}

func (api *API) serveCached(w http.ResponseWriter, key string) bool {
	body, ct, ok := api.cache.Get(key)
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", PublicCacheControl)
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return true
}

// writeJSON writes v and, when key is set and cacheable is true, stores
// the encoded body tagged with paths. Empty results are not cached so an
// upstream outage is not pinned for the TTL.
func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any, key string, cacheable bool, paths ...string) {
	body, err := json.Marshal(v)
	if err != nil {
		api.logger.Error(ctx, err, "encode content response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	const ct = "application/json; charset=utf-8"
	if key != "" && cacheable {
		api.cache.Set(key, body, ct, paths...)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", PublicCacheControl)
	if key != "" {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (api *API) notFound(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"not found"}`))
}

func articleURL(site, slug string) string {
	return site + "/articles/" + url.PathEscape(slug)
}
