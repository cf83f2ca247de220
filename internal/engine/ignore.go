package engine

import "strings"

// vcsMarkers are path components that are always ignored regardless of the
// caller-supplied ignore list (spec.md §3).
var vcsMarkers = [...]string{".svn", ".git", ".hg"}

// IsIgnored reports whether path should never be registered: it is prefixed
// by one of rules, suffixed by one of rules, or contains a VCS marker as a
// path component. The suffix match excludes categorical names regardless of
// location; the prefix match excludes user-designated subtrees.
func IsIgnored(path string, rules []string) bool {
	for _, rule := range rules {
		if rule == "" {
			continue
		}
		if strings.HasPrefix(path, rule) || strings.HasSuffix(path, rule) {
			return true
		}
	}
	return hasVCSComponent(path)
}

// hasVCSComponent reports whether any "/"-delimited component of path
// matches a hard-coded VCS marker.
func hasVCSComponent(path string) bool {
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			component := path[start:i]
			for _, marker := range vcsMarkers {
				if component == marker {
					return true
				}
			}
			start = i + 1
		}
	}
	return false
}
