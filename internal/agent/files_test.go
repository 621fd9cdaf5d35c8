package agent

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/delve/internal/search"
	"github.com/ShayCichocki/delve/pkg/models"
)

func TestFindingsMarkdown(t *testing.T) {
	d := models.Directive{
		Subtopic:  "Battery chemistry",
		Questions: []string{"Which electrolytes?", "What energy density?"},
	}
	got := FindingsMarkdown(d, "\n## Key Findings\nSulfide electrolytes lead [1].\n\n")

	want := "# Battery chemistry\n\n## Research Questions Addressed\n1. Which electrolytes?\n2. What energy density?\n\n## Key Findings\nSulfide electrolytes lead [1].\n"
	if got != want {
		t.Errorf("FindingsMarkdown() =\n%q\nwant\n%q", got, want)
	}
}

func TestSourcesJSON(t *testing.T) {
	empty, err := SourcesJSON(nil)
	if err != nil {
		t.Fatalf("SourcesJSON(nil) error = %v", err)
	}
	if empty != "[]\n" {
		t.Errorf("SourcesJSON(nil) = %q, want %q", empty, "[]\n")
	}

	out, err := SourcesJSON([]models.Source{{Title: "A", URL: "https://a.example"}})
	if err != nil {
		t.Fatalf("SourcesJSON() error = %v", err)
	}
	var decoded []models.Source
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0].URL != "https://a.example" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestRawSearchMarkdown(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	none := RawSearchMarkdown(2, "empty query", nil, at)
	if !strings.HasPrefix(none, "# Search 2: empty query\n\nDate: Fri Mar 14, 2025\n\n") {
		t.Errorf("header = %q", none)
	}
	if !strings.Contains(none, "No results found.") {
		t.Errorf("missing empty marker: %q", none)
	}

	got := RawSearchMarkdown(1, "go scheduler", []search.Result{
		{Title: "Go runtime", URL: "https://go.dev/rt", Content: "M:N scheduling."},
		{Title: "GMP", URL: "https://example.com/gmp", Content: "P holds a run queue."},
	}, at)
	for _, want := range []string{
		"## Result 1: Go runtime\nURL: https://go.dev/rt\nM:N scheduling.",
		"## Result 2: GMP\nURL: https://example.com/gmp\nP holds a run queue.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNumberedSources(t *testing.T) {
	if got := numberedSources(nil); got != "(no sources found)\n" {
		t.Errorf("numberedSources(nil) = %q", got)
	}
	got := numberedSources([]models.Source{
		{Title: "Alpha", URL: "https://a.example"},
		{Title: "Beta", URL: "https://b.example"},
	})
	if got != "[1] Alpha: https://a.example\n[2] Beta: https://b.example\n" {
		t.Errorf("numberedSources() = %q", got)
	}
}
