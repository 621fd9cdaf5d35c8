package filestore

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

// Layout of the research tree.
const (
	Root      = "/research"
	IndexPath = "/research/index.md"

	FindingsFile = "findings.md"
	SourcesFile  = "sources.json"
)

const maxSlugLen = 48

// Slugify turns a subtopic into a lowercase directory name made of letters,
// digits and single dashes.
func Slugify(subtopic string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(subtopic) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "subtopic"
	}
	return slug
}

// SubtopicDir returns /research/<slug>.
func SubtopicDir(slug string) string {
	return path.Join(Root, slug)
}

// FindingsPath returns /research/<slug>/findings.md.
func FindingsPath(slug string) string {
	return path.Join(Root, slug, FindingsFile)
}

// SourcesPath returns /research/<slug>/sources.json.
func SourcesPath(slug string) string {
	return path.Join(Root, slug, SourcesFile)
}

// RawSearchPath returns /research/<slug>/search_<n>_raw.md.
func RawSearchPath(slug string, n int) string {
	return path.Join(Root, slug, fmt.Sprintf("search_%d_raw.md", n))
}

// SlugRegistry hands out run-unique slugs. A slug that is already taken
// gets a numeric suffix.
type SlugRegistry struct {
	used map[string]bool
}

// NewSlugRegistry creates an empty registry.
func NewSlugRegistry() *SlugRegistry {
	return &SlugRegistry{used: make(map[string]bool)}
}

// Assign returns a unique slug for subtopic and reserves it.
// The boolean reports whether the base slug collided.
func (r *SlugRegistry) Assign(subtopic string) (string, bool) {
	base := Slugify(subtopic)
	if !r.used[base] {
		r.used[base] = true
		return base, false
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !r.used[candidate] {
			r.used[candidate] = true
			return candidate, true
		}
	}
}
