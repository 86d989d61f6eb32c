package storage

import (
	"net/url"
	"strings"
)

// PathSegmentFromURL turns a page URL into a filesystem-safe directory name
// built from its host and path, e.g. "example.com_docs_intro".
func PathSegmentFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	parts := []string{sanitize(parsed.Hostname())}
	path := strings.Trim(parsed.Path, "/")
	if path != "" {
		for _, p := range strings.Split(path, "/") {
			if p = sanitize(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, "_")
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
