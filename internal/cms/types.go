package cms

import (
	"encoding/json"
	"strings"
	"time"
)

type MediaFormat struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type CoverImage struct {
	ID      int                    `json:"id"`
	URL     string                 `json:"url"`
	Width   int                    `json:"width,omitempty"`
	Height  int                    `json:"height,omitempty"`
	Formats map[string]MediaFormat `json:"formats,omitempty"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Tag struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Article is one published article. ID and Slug are required, an element
// without them fails the whole response.
type Article struct {
	ID              int             `json:"id" validate:"required"`
	Title           string          `json:"title"`
	Slug            string          `json:"slug" validate:"required"`
	Content         json.RawMessage `json:"content,omitempty"`
	Excerpt         string          `json:"excerpt"`
	PublicationDate string          `json:"publication_date"`
	CoverImage      *CoverImage     `json:"coverImage,omitempty"`
	Category        *Category       `json:"category,omitempty"`
	Tags            []Tag           `json:"tags"`
}

// Published parses PublicationDate, which the CMS sends either as a full
// timestamp or a bare date.
func (a Article) Published() (time.Time, bool) {
	s := strings.TrimSpace(a.PublicationDate)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IndexEntry is the flattened record served to client-side search.
type IndexEntry struct {
	ID      int      `json:"id"`
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt"`
	Tags    []string `json:"tags"`
}

type slugRef struct {
	ID   int    `json:"id" validate:"required"`
	Slug string `json:"slug"`
}

type indexArticle struct {
	ID      int    `json:"id" validate:"required"`
	Slug    string `json:"slug" validate:"required"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Tags    []Tag  `json:"tags"`
}

func (a indexArticle) entry() IndexEntry {
	tags := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		name := t.Name
		if name == "" {
			name = t.Slug
		}
		if name != "" {
			tags = append(tags, name)
		}
	}
	return IndexEntry{ID: a.ID, Slug: a.Slug, Title: a.Title, Excerpt: a.Excerpt, Tags: tags}
}
