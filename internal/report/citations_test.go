package report

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/delve/pkg/models"
)

func TestRenumber_GlobalFirstSeenOrder(t *testing.T) {
	sections := []Section{
		{
			Subtopic: "Performance",
			Findings: "Go is fast [1]. Generics landed [2].\n\n### Sources\n[1] Go Blog: https://go.dev/blog\n[2] Release notes: https://go.dev/doc/go1.18\n",
		},
		{
			Subtopic: "Tooling",
			Findings: "Tooling is good [1, 2] and [3].",
			Sources: []models.Source{
				{Title: "Release notes", URL: "https://GO.dev/doc/go1.18/"},
				{Title: "Survey", URL: "https://go.dev/survey"},
			},
		},
	}

	got := Renumber(sections)

	if len(got.Sections) != 2 {
		t.Fatalf("len(Sections) = %d, want 2", len(got.Sections))
	}
	if want := "Go is fast [1]. Generics landed [2]."; got.Sections[0].Findings != want {
		t.Errorf("section 0 = %q, want %q", got.Sections[0].Findings, want)
	}
	if want := "Tooling is good [2, 3] and."; got.Sections[1].Findings != want {
		t.Errorf("section 1 = %q, want %q", got.Sections[1].Findings, want)
	}

	wantURLs := []string{"https://go.dev/blog", "https://go.dev/doc/go1.18", "https://go.dev/survey"}
	if len(got.Sources) != len(wantURLs) {
		t.Fatalf("len(Sources) = %d, want %d", len(got.Sources), len(wantURLs))
	}
	for i, u := range wantURLs {
		if got.Sources[i].URL != u {
			t.Errorf("Sources[%d].URL = %q, want %q", i, got.Sources[i].URL, u)
		}
	}

	if len(got.Dropped) != 1 || got.Dropped[0] != "Tooling: [3]" {
		t.Errorf("Dropped = %v, want [Tooling: [3]]", got.Dropped)
	}
}

func TestRenumber_SiteRootWithAndWithoutSlash(t *testing.T) {
	sections := []Section{
		{
			Subtopic: "History",
			Findings: "The project started in 2009 [1].",
			Sources:  []models.Source{{Title: "Site", URL: "https://a.com"}},
		},
		{
			Subtopic: "Today",
			Findings: "It is still maintained [1].",
			Sources:  []models.Source{{Title: "Site", URL: "https://a.com/"}},
		},
	}

	got := Renumber(sections)
	if len(got.Sources) != 1 {
		t.Fatalf("len(Sources) = %d, want 1: %+v", len(got.Sources), got.Sources)
	}
	if want := "It is still maintained [1]."; got.Sections[1].Findings != want {
		t.Errorf("section 1 = %q, want %q", got.Sections[1].Findings, want)
	}

	report, _ := Finalize("# A\n\nBody [1].", "A", got.Sources)
	if strings.Contains(report, "[2]") {
		t.Errorf("report numbers the same page twice:\n%s", report)
	}
}

func TestRenumber_OnlyCitedSourcesAreNumbered(t *testing.T) {
	sections := []Section{{
		Subtopic: "A",
		Findings: "Only the second source is cited [2].",
		Sources: []models.Source{
			{Title: "One", URL: "https://one.example"},
			{Title: "Two", URL: "https://two.example"},
		},
	}}

	got := Renumber(sections)
	if len(got.Sources) != 1 || got.Sources[0].URL != "https://two.example" {
		t.Fatalf("Sources = %+v, want only two.example", got.Sources)
	}
	if want := "Only the second source is cited [1]."; got.Sections[0].Findings != want {
		t.Errorf("Findings = %q, want %q", got.Sections[0].Findings, want)
	}
}

func TestRenumber_LeavesYearsAlone(t *testing.T) {
	sections := []Section{{
		Subtopic: "A",
		Findings: "Released in [2023] and cited [1].",
		Sources:  []models.Source{{Title: "One", URL: "https://one.example"}},
	}}

	got := Renumber(sections)
	if want := "Released in [2023] and cited [1]."; got.Sections[0].Findings != want {
		t.Errorf("Findings = %q, want %q", got.Sections[0].Findings, want)
	}
}

func TestRenumber_DuplicateMarkerCollapses(t *testing.T) {
	sections := []Section{{
		Subtopic: "A",
		Findings: "Same page twice [1, 2].",
		Sources: []models.Source{
			{Title: "One", URL: "https://one.example/page"},
			{Title: "One again", URL: "https://one.example/page#top"},
		},
	}}

	got := Renumber(sections)
	if want := "Same page twice [1]."; got.Sections[0].Findings != want {
		t.Errorf("Findings = %q, want %q", got.Sections[0].Findings, want)
	}
	if len(got.Sources) != 1 {
		t.Errorf("len(Sources) = %d, want 1", len(got.Sources))
	}
}

func TestFinalize(t *testing.T) {
	body := "Intro [1] and [4].\n\n## Sources\n[1] whatever: http://x.example\n\n## Appendix\nmore [2]"
	sources := []models.Source{
		{Title: "A", URL: "https://a.example"},
		{URL: "https://b.example/x"},
	}

	got, dropped := Finalize(body, "T", sources)

	want := "# T\n\nIntro [1] and.\n\n## Appendix\nmore [2]\n\n## Sources\n\n[1] A: https://a.example\n[2] b.example: https://b.example/x\n"
	if got != want {
		t.Errorf("Finalize() =\n%s\nwant\n%s", got, want)
	}
	if len(dropped) != 1 || dropped[0] != "[4]" {
		t.Errorf("dropped = %v, want [[4]]", dropped)
	}
}

func TestFinalize_KeepsExistingTitle(t *testing.T) {
	got, _ := Finalize("\n# Existing\n\nBody.", "Topic", nil)
	if !strings.HasPrefix(got, "# Existing") {
		t.Errorf("Finalize() should keep the existing title, got %q", got)
	}
	if strings.Contains(got, "# Topic") {
		t.Error("Finalize() should not add a second title")
	}
	if !strings.HasSuffix(got, "## Sources\n\nNo sources were cited.\n") {
		t.Errorf("Finalize() without sources = %q", got)
	}
}

func TestFinalize_SequentialNumbering(t *testing.T) {
	sources := []models.Source{
		{Title: "A", URL: "https://a.example"},
		{Title: "B", URL: "https://b.example"},
		{Title: "C", URL: "https://c.example"},
	}
	got, _ := Finalize("# T\n\nx [3] y [1]", "T", sources)

	idx := strings.Index(got, "## Sources")
	if idx < 0 {
		t.Fatal("missing Sources section")
	}
	lines := strings.Split(strings.TrimSpace(got[idx:]), "\n")[2:]
	for i, line := range lines {
		prefix := "[" + string(rune('1'+i)) + "] "
		if !strings.HasPrefix(line, prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, line, prefix)
		}
	}
	if len(lines) != 3 {
		t.Errorf("got %d source lines, want 3", len(lines))
	}
}
