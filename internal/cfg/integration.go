package cfg

import (
	"context"
	"fmt"
	"regexp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

const minSecretLen = 32

var (
	giscusRepoRe       = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)
	giscusRepoIDRe     = regexp.MustCompile(`^R_[a-zA-Z0-9_]+$`)
	giscusCategoryIDRe = regexp.MustCompile(`^DIC_[a-zA-Z0-9_]+$`)
)

// Report is the ordered list of advisory warnings produced by
// IntegrationValidator. It never fails startup.
type Report struct {
	Warnings []string
}

// OK reports whether no warnings were produced.
func (r Report) OK() bool { return len(r.Warnings) == 0 }

// Log emits each warning at warn level.
func (r Report) Log(ctx context.Context, L log.Logger) {
	if L == nil {
		L = log.Nop()
	}
	for _, w := range r.Warnings {
		L.Warn(ctx, "config warning", "warning", w)
	}
}

// IntegrationValidator checks the optional third-party integration settings
// (content API, comment widget, auth) for presence and shape.
type IntegrationValidator struct {
	// Prefix names env keys in messages, defaults to EnvPrefix.
	Prefix string
}

func NewIntegrationValidator() *IntegrationValidator {
	return &IntegrationValidator{Prefix: EnvPrefix}
}

func (v *IntegrationValidator) Validate(c App) Report {
	var r Report

	v.required(&r, c.UpstreamURL, "upstream-url", "API URL")

	if c.GiscusRepo != "" {
		v.required(&r, c.GiscusRepo, "giscus-repo", "Giscus repository")
		v.required(&r, c.GiscusRepoID, "giscus-repo-id", "Giscus repository ID")
		v.required(&r, c.GiscusCategory, "giscus-category", "Giscus category")
		v.required(&r, c.GiscusCategoryID, "giscus-category-id", "Giscus category ID")

		v.format(&r, c.GiscusRepo, "giscus-repo", giscusRepoRe, `must be in format "owner/repo"`)
		v.format(&r, c.GiscusRepoID, "giscus-repo-id", giscusRepoIDRe, "must be a valid GitHub repository ID (starts with R_)")
		v.format(&r, c.GiscusCategoryID, "giscus-category-id", giscusCategoryIDRe, "must be a valid GitHub discussion category ID (starts with DIC_)")
	}

	if c.AuthURL != "" || c.AuthSecret != "" {
		v.required(&r, c.AuthURL, "auth-url", "Auth URL")
		v.required(&r, c.AuthSecret, "auth-secret", "Auth secret")
		if c.AuthSecret != "" && len(c.AuthSecret) < minSecretLen {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s is too weak (should be at least %d characters)", v.key("auth-secret"), minSecretLen))
		}
	}

	return r
}

func (v *IntegrationValidator) key(flagName string) string {
	p := v.Prefix
	if p == "" {
		p = EnvPrefix
	}
	return EnvKey(p, flagName)
}

func (v *IntegrationValidator) required(r *Report, val, flagName, label string) {
	if val == "" {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s (%s) is required but not set", label, v.key(flagName)))
	}
}

func (v *IntegrationValidator) format(r *Report, val, flagName string, re *regexp.Regexp, msg string) {
	if val != "" && !re.MatchString(val) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s %s, but got %q", v.key(flagName), msg, val))
	}
}

// GiscusEnabled reports whether the comment widget is fully and validly
// configured. A partial configuration is reported by IntegrationValidator
// and leaves the widget off.
func (c App) GiscusEnabled() bool {
	return giscusRepoRe.MatchString(c.GiscusRepo) &&
		giscusRepoIDRe.MatchString(c.GiscusRepoID) &&
		c.GiscusCategory != "" &&
		giscusCategoryIDRe.MatchString(c.GiscusCategoryID)
}
