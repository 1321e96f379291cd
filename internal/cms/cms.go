// Package cms holds the content fetchers used by the site handlers.
//
// Every fetcher goes through the hardened upstream client and swallows its
// errors: a failed or rejected fetch yields an empty slice (or nil for a
// single article). The upstream client has already logged and counted the
// rejection by then.
package cms

import (
	"context"
	"net/url"
	"regexp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/upstream"
)

const (
	articlesPath   = "/api/articles"
	categoriesPath = "/api/categories"
	tagsPath       = "/api/tags"

	pageSize   = "100"
	sortNewest = "publication_date:desc"
)

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidSlug reports whether s is a slug the CMS could have generated.
func ValidSlug(s string) bool { return len(s) <= 200 && slugRe.MatchString(s) }

var populateArticle = []upstream.Param{
	upstream.P("populate[0]", "category"),
	upstream.P("populate[1]", "tags"),
	upstream.P("populate[2]", "coverImage"),
}

type Client struct {
	up     *upstream.Client
	logger log.Logger
}

func New(up *upstream.Client, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{up: up, logger: logger}
}

func params(head []upstream.Param, tail ...upstream.Param) []upstream.Param {
	out := make([]upstream.Param, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}

// Articles lists articles with category, tags and cover image populated.
func (c *Client) Articles(ctx context.Context) []Article {
	return c.articles(ctx, c.up.URL(articlesPath, populateArticle...))
}

// ArticleBySlug returns the first article matching slug, or nil.
func (c *Client) ArticleBySlug(ctx context.Context, slug string) *Article {
	if !c.checkSlug(ctx, "article", slug) {
		return nil
	}
	u := c.up.URL(articlesPath, params([]upstream.Param{upstream.P("filters[slug][$eq]", slug)}, populateArticle...)...)
	a, err := upstream.Fetch(ctx, c.up, u, upstream.FirstOf[Article]("data"))
	if err != nil {
		return nil
	}
	return a
}

// ArticleSlugs lists slugs of up to 100 articles, newest first.
func (c *Client) ArticleSlugs(ctx context.Context) []string {
	return c.slugs(ctx, articlesPath, upstream.P("sort[0]", sortNewest))
}

func (c *Client) ArticlesByCategory(ctx context.Context, slug string) []Article {
	if !c.checkSlug(ctx, "category", slug) {
		return []Article{}
	}
	u := c.up.URL(articlesPath, params(
		[]upstream.Param{upstream.P("filters[category][slug][$eq]", slug)},
		params(populateArticle, upstream.P("sort[0]", sortNewest))...,
	)...)
	return c.articles(ctx, u)
}

func (c *Client) ArticlesByTag(ctx context.Context, slug string) []Article {
	if !c.checkSlug(ctx, "tag", slug) {
		return []Article{}
	}
	u := c.up.URL(articlesPath, params(
		[]upstream.Param{upstream.P("filters[tags][slug][$eq]", slug)},
		params(populateArticle, upstream.P("sort[0]", sortNewest))...,
	)...)
	return c.articles(ctx, u)
}

func (c *Client) CategorySlugs(ctx context.Context) []string {
	return c.slugs(ctx, categoriesPath)
}

func (c *Client) TagSlugs(ctx context.Context) []string {
	return c.slugs(ctx, tagsPath)
}

// SearchIndex returns the minimal per-article records for client-side search.
func (c *Client) SearchIndex(ctx context.Context) []IndexEntry {
	u := c.up.URL(articlesPath,
		upstream.P("fields[0]", "id"),
		upstream.P("fields[1]", "slug"),
		upstream.P("fields[2]", "title"),
		upstream.P("fields[3]", "excerpt"),
		upstream.P("populate[tags][fields][0]", "slug"),
		upstream.P("populate[tags][fields][1]", "name"),
		upstream.P("pagination[pageSize]", pageSize),
		upstream.P("sort[0]", sortNewest),
	)
	items, err := upstream.Fetch(ctx, c.up, u, upstream.ListOf[indexArticle]("data"))
	if err != nil {
		return []IndexEntry{}
	}
	out := make([]IndexEntry, 0, len(items))
	for _, a := range items {
		out = append(out, a.entry())
	}
	return out
}

func (c *Client) articles(ctx context.Context, u *url.URL) []Article {
	items, err := upstream.Fetch(ctx, c.up, u, upstream.ListOf[Article]("data"))
	if err != nil || items == nil {
		return []Article{}
	}
	return items
}

func (c *Client) slugs(ctx context.Context, path string, extra ...upstream.Param) []string {
	u := c.up.URL(path, params([]upstream.Param{
		upstream.P("fields[0]", "slug"),
		upstream.P("pagination[pageSize]", pageSize),
	}, extra...)...)
	refs, err := upstream.Fetch(ctx, c.up, u, upstream.ListOf[slugRef]("data"))
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Slug != "" {
			out = append(out, r.Slug)
		}
	}
	return out
}

func (c *Client) checkSlug(ctx context.Context, kind, slug string) bool {
	if ValidSlug(slug) {
		return true
	}
	c.logger.Debug(ctx, "rejected malformed slug", "kind", kind, "slug_len", len(slug))
	return false
}
