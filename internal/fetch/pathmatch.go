package fetch

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludes are sections of school sites that never list staff.
var defaultExcludes = []string{
	"/news/*",
	"/blog/*",
	"/calendar/*",
	"/events/*",
	"/gallery/*",
	"/galleries/*",
	"/class-pages/*",
	"/classes/*",
	"/diary/*",
	"/*.doc",
	"/*.docx",
	"/*.xls",
	"/*.xlsx",
	"/*.zip",
	"/*.mp4",
}

// PathMatcher excludes URLs by glob patterns on their path. A pattern ending
// in "/*" also matches deeper paths, so "/news/*" excludes "/news/2024/05/x".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher. No patterns means the defaults.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludes
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// Excluded reports whether rawURL matches an exclude pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) Excluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		if strings.HasPrefix(pattern, "/*.") && strings.HasSuffix(p, pattern[2:]) {
			return true
		}
		if prefix, found := strings.CutSuffix(pattern, "/*"); found {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return true
			}
		}
	}
	return false
}
