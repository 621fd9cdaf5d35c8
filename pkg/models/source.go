package models

import (
	"net/url"
	"strings"
)

// Source is a single web source referenced by research findings.
// Its identity is the normalized URL.
type Source struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Relevance string `json:"relevance,omitempty"`
}

// Key returns the deduplication key for the source.
func (s Source) Key() string {
	return NormalizeURL(s.URL)
}

// NormalizeURL lowercases scheme and host, drops fragments and trailing
// slashes so that trivially different spellings of one page compare equal.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Fragment = ""
	if u.Scheme == "" {
		u.Scheme = "https"
	} else {
		u.Scheme = strings.ToLower(u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	return u.String()
}

// DedupeSources returns sources with duplicate URLs removed, keeping the
// first occurrence and its position.
func DedupeSources(sources []Source) []Source {
	seen := make(map[string]bool, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		key := s.Key()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
