package policy

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// Overlay lists extra sources per directive, loaded from YAML:
//
//	script-src:
//	  - https://plausible.io
//	img-src: [https://images.example.com]
type Overlay map[string][]string

var overlayDirectives = map[string]bool{
	"default-src": true,
	"script-src":  true,
	"style-src":   true,
	"img-src":     true,
	"connect-src": true,
	"frame-src":   true,
	"font-src":    true,
	"media-src":   true,
}

// scriptDirectives govern script execution and never take scriptUnsafe
// keywords from an overlay.
var scriptDirectives = map[string]bool{"default-src": true, "script-src": true}

// LoadOverlay reads and validates an overlay file. An empty path yields an
// empty overlay.
func LoadOverlay(path string) (Overlay, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read csp overlay %s", path)
	}
	return ParseOverlay(b)
}

// ParseOverlay decodes YAML overlay bytes. Only fetch directives may be
// extended, and sources may not contain whitespace, ';' or ','.
func ParseOverlay(b []byte) (Overlay, error) {
	var o Overlay
	if err := yaml.Unmarshal(b, &o); err != nil {
		return nil, xerrors.Wrap(err, "parse csp overlay")
	}
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !overlayDirectives[name] {
			return nil, xerrors.Newf("csp overlay: directive %q cannot be extended", name)
		}
		for _, src := range o[name] {
			if src == "" || strings.ContainsAny(src, " \t\r\n;,") {
				return nil, xerrors.Newf("csp overlay: invalid source %q for %s", src, name)
			}
			if src == "*" || strings.EqualFold(src, "'unsafe-eval'") {
				return nil, xerrors.Newf("csp overlay: source %q is not allowed", src)
			}
			if scriptDirectives[name] && isScriptUnsafe(src) {
				return nil, xerrors.Newf("csp overlay: source %q is not allowed in %s", src, name)
			}
		}
	}
	return o, nil
}

// Apply returns a copy of t with the overlay sources appended.
func (o Overlay) Apply(t Table) Table {
	if len(o) == 0 {
		return t
	}
	ext := func(base []string, name string) []string {
		return append(append([]string(nil), base...), o[name]...)
	}
	t.Default = ext(t.Default, "default-src")
	t.Script = ext(t.Script, "script-src")
	t.Style = ext(t.Style, "style-src")
	t.Img = ext(t.Img, "img-src")
	t.Connect = ext(t.Connect, "connect-src")
	t.Frame = ext(t.Frame, "frame-src")
	t.Font = ext(t.Font, "font-src")
	t.Media = ext(t.Media, "media-src")
	return t
}
