package policy

import "strings"

// DirectiveSet is an ordered directive -> sources mapping. Directives keep
// the order they were first added in and sources are deduplicated.
type DirectiveSet struct {
	names   []string
	sources map[string][]string
}

// Add appends srcs to directive name. Empty sources are ignored but the
// directive itself is still recorded.
func (d *DirectiveSet) Add(name string, srcs ...string) {
	if d.sources == nil {
		d.sources = make(map[string][]string)
	}
	cur, seen := d.sources[name]
	if !seen {
		d.names = append(d.names, name)
	}
	for _, s := range srcs {
		s = strings.TrimSpace(s)
		if s == "" || contains(cur, s) {
			continue
		}
		cur = append(cur, s)
	}
	d.sources[name] = cur
}

// Flag records a directive that takes no sources.
func (d *DirectiveSet) Flag(name string) { d.Add(name) }

// Sources returns the sources recorded for name.
func (d DirectiveSet) Sources(name string) []string {
	return append([]string(nil), d.sources[name]...)
}

// Names returns directive names in insertion order.
func (d DirectiveSet) Names() []string { return append([]string(nil), d.names...) }

func (d DirectiveSet) String() string {
	parts := make([]string, 0, len(d.names))
	for _, n := range d.names {
		srcs := d.sources[n]
		if len(srcs) == 0 {
			parts = append(parts, n)
			continue
		}
		parts = append(parts, n+" "+strings.Join(srcs, " "))
	}
	return strings.Join(parts, "; ")
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Parse splits a serialized policy back into a DirectiveSet.
func Parse(csp string) DirectiveSet {
	var d DirectiveSet
	for _, part := range strings.Split(csp, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		d.Add(fields[0], fields[1:]...)
	}
	return d
}
