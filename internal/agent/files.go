package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/delve/internal/search"
	"github.com/ShayCichocki/delve/pkg/models"
)

// FindingsMarkdown renders findings.md for a directive.
func FindingsMarkdown(d models.Directive, findings string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Subtopic)
	b.WriteString("## Research Questions Addressed\n")
	for i, q := range d.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(findings))
	b.WriteString("\n")
	return b.String()
}

// SourcesJSON renders sources.json.
func SourcesJSON(sources []models.Source) (string, error) {
	if sources == nil {
		sources = []models.Source{}
	}
	data, err := json.MarshalIndent(sources, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding sources: %w", err)
	}
	return string(data) + "\n", nil
}

// RawSearchMarkdown renders search_N_raw.md for one search call.
func RawSearchMarkdown(n int, query string, results []search.Result, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Search %d: %s\n\n", n, query)
	fmt.Fprintf(&b, "Date: %s\n\n", FormatDate(at))
	if len(results) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "## Result %d: %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n", r.URL)
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// numberedSources renders "[n] Title: URL" lines.
func numberedSources(sources []models.Source) string {
	if len(sources) == 0 {
		return "(no sources found)\n"
	}
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, s.Title, s.URL)
	}
	return b.String()
}
