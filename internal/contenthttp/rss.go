package contenthttp

import (
	"bytes"
	"encoding/xml"
	"net/http"
)

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

const rssContentType = "application/rss+xml; charset=utf-8"

func (api *API) HandleRSS(w http.ResponseWriter, r *http.Request) {
	const key = "rss"
	if api.serveCached(w, key) {
		return
	}
	ctx := r.Context()
	articles := api.src.Articles(ctx)

	doc := rssDoc{
		Version: "2.0",
		Channel: rssChannel{
			Title:       api.title,
			Link:        api.siteURL,
			Description: "Latest articles",
			Items:       make([]rssItem, 0, len(articles)),
		},
	}
	for _, a := range articles {
		link := articleURL(api.siteURL, a.Slug)
		it := rssItem{
			Title:       a.Title,
			Link:        link,
			GUID:        rssGUID{IsPermaLink: true, Value: link},
			Description: a.Excerpt,
		}
		if t, ok := a.Published(); ok {
			it.PubDate = t.UTC().Format(http.TimeFormat)
		}
		doc.Channel.Items = append(doc.Channel.Items, it)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		api.logger.Error(ctx, err, "encode rss feed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	body := buf.Bytes()
	if len(articles) > 0 {
		api.cache.Set(key, body, rssContentType, AggregatePath)
	}
	w.Header().Set("Content-Type", rssContentType)
	w.Header().Set("Cache-Control", PublicCacheControl)
	w.Header().Set("X-Cache", "MISS")
	_, _ = w.Write(body)
}
