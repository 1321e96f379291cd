// Package pathutil normalizes URL paths before they are joined onto an
// origin or used as cache keys.
package pathutil

import (
	"path"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// Clean returns p with exactly one leading slash, no repeated slashes and
// dot segments resolved. ".." never climbs above the root. A trailing slash
// is dropped except for the root itself.
func Clean(p string) string {
	return path.Clean("/" + strings.TrimLeft(p, "/"))
}

// IsClean reports whether p is already in the form Clean returns.
func IsClean(p string) bool {
	return p != "" && Clean(p) == p
}
