package contenthttp

import "slices"

var (
	allowedMappings = []string{"pathname", "url", "title", "og:title"}
	allowedThemes   = []string{
		"light", "light_high_contrast", "light_protanopia", "light_tritanopia",
		"dark", "dark_high_contrast", "dark_protanopia", "dark_tritanopia",
		"dark_dimmed", "transparent_dark", "preferred_color_scheme",
	}
)

// Giscus is the public comment widget configuration served to the page.
// Only identifiers that are already public on GitHub belong here.
type Giscus struct {
	Enabled    bool   `json:"enabled"`
	Repo       string `json:"repo,omitempty"`
	RepoID     string `json:"repoId,omitempty"`
	Category   string `json:"category,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	Mapping    string `json:"mapping"`
	Theme      string `json:"theme"`
	Lang       string `json:"lang"`
	Reactions  bool   `json:"reactionsEnabled"`
	Metadata   bool   `json:"emitMetadata"`
	Lazy       bool   `json:"lazy"`
}

// Sanitized replaces an unknown mapping or theme with the defaults and
// blanks the identifiers when the widget is disabled.
func (g Giscus) Sanitized() Giscus {
	if !slices.Contains(allowedMappings, g.Mapping) {
		g.Mapping = "pathname"
	}
	if !slices.Contains(allowedThemes, g.Theme) {
		g.Theme = "preferred_color_scheme"
	}
	if g.Lang == "" {
		g.Lang = "en"
	}
	if !g.Enabled {
		g.Repo, g.RepoID, g.Category, g.CategoryID = "", "", "", ""
	}
	return g
}
