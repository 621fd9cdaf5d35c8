package filestore

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"React", "react"},
		{"React vs. Vue: hiring", "react-vs-vue-hiring"},
		{"  --AI & jobs--  ", "ai-jobs"},
		{"Ünïcode", "n-code"},
		{"!!!", "subtopic"},
		{"", "subtopic"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_Truncates(t *testing.T) {
	long := "a very long subtopic name that keeps going well past any reasonable directory length"
	got := Slugify(long)
	if len(got) > maxSlugLen {
		t.Errorf("len(Slugify) = %d, want <= %d", len(got), maxSlugLen)
	}
	if got[len(got)-1] == '-' {
		t.Errorf("slug %q ends with a dash", got)
	}
}

func TestPaths(t *testing.T) {
	if got := FindingsPath("go"); got != "/research/go/findings.md" {
		t.Errorf("FindingsPath = %q", got)
	}
	if got := SourcesPath("go"); got != "/research/go/sources.json" {
		t.Errorf("SourcesPath = %q", got)
	}
	if got := RawSearchPath("go", 2); got != "/research/go/search_2_raw.md" {
		t.Errorf("RawSearchPath = %q", got)
	}
}

func TestSlugRegistry_Assign(t *testing.T) {
	r := NewSlugRegistry()

	first, collided := r.Assign("React")
	if first != "react" || collided {
		t.Fatalf("Assign(React) = %q, %v; want react, false", first, collided)
	}

	second, collided := r.Assign("react!")
	if second != "react-2" || !collided {
		t.Errorf("Assign(react!) = %q, %v; want react-2, true", second, collided)
	}

	third, _ := r.Assign("REACT")
	if third != "react-3" {
		t.Errorf("Assign(REACT) = %q, want react-3", third)
	}
}
