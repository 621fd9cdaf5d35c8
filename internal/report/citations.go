package report

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/delve/pkg/models"
)

var (
	// markerRe matches [n] and [n, m] citation markers with an optional
	// leading space. Numbers are capped at three digits so years survive.
	markerRe = regexp.MustCompile(`( ?)\[(\d{1,3}(?:\s*,\s*\d{1,3})*)\]`)
	// sourceLineRe matches "[n] Title: URL" source list lines.
	sourceLineRe = regexp.MustCompile(`^\s*(?:[-*]\s*)?\[(\d{1,3})\]\s*(.*?):?\s*(https?://\S+)\s*$`)
	// sourcesHeadingRe matches a Sources or References heading.
	sourcesHeadingRe = regexp.MustCompile(`(?i)^(#{1,6})\s*(sources|references)\s*:?\s*$`)
	headingRe        = regexp.MustCompile(`^(#{1,6})\s`)
)

// Section is one subtopic's findings with its local source numbering.
type Section struct {
	Subtopic string
	Findings string
	// Sources are numbered 1..n by position for local markers.
	Sources []models.Source
}

// Renumbered is the result of Renumber.
type Renumbered struct {
	// Sections hold findings rewritten to global citation numbers, with their
	// local source lists removed.
	Sections []Section
	// Sources is the global source list; Sources[i] is citation i+1.
	Sources []models.Source
	// Dropped describes every marker that could not be resolved.
	Dropped []string
}

// Renumber assigns global citation numbers across sections. Sections are
// scanned in order; the first time a normalized URL is cited it gets the next
// number. Markers with no matching local source are removed.
func Renumber(sections []Section) Renumbered {
	var out Renumbered
	index := make(map[string]int)

	for _, sec := range sections {
		local := localSources(sec)
		body := stripSourceList(sec.Findings)

		rewritten := markerRe.ReplaceAllStringFunc(body, func(m string) string {
			sub := markerRe.FindStringSubmatch(m)
			lead := sub[1]
			var nums []int
			seen := make(map[int]bool)
			for _, n := range parseNumbers(sub[2]) {
				src, ok := local[n]
				if !ok {
					out.Dropped = append(out.Dropped, fmt.Sprintf("%s: [%d]", sec.Subtopic, n))
					continue
				}
				key := src.Key()
				g, ok := index[key]
				if !ok {
					out.Sources = append(out.Sources, src)
					g = len(out.Sources)
					index[key] = g
				}
				if !seen[g] {
					seen[g] = true
					nums = append(nums, g)
				}
			}
			if len(nums) == 0 {
				return ""
			}
			return lead + formatMarker(nums)
		})

		out.Sections = append(out.Sections, Section{
			Subtopic: sec.Subtopic,
			Findings: strings.TrimSpace(rewritten),
		})
	}
	return out
}

// Finalize prepares the writer's body for delivery: it removes any
// model-written Sources section, drops markers outside 1..len(sources),
// makes sure the report has a title and appends the canonical Sources list.
func Finalize(body, topic string, sources []models.Source) (string, []string) {
	body = stripSourcesSection(body)

	var dropped []string
	body = markerRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := markerRe.FindStringSubmatch(m)
		var nums []int
		for _, n := range parseNumbers(sub[2]) {
			if n < 1 || n > len(sources) {
				dropped = append(dropped, fmt.Sprintf("[%d]", n))
				continue
			}
			nums = append(nums, n)
		}
		if len(nums) == 0 {
			return ""
		}
		return sub[1] + formatMarker(nums)
	})

	body = strings.TrimSpace(body)
	if !hasTitle(body) {
		body = "# " + topic + "\n\n" + body
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n## Sources\n\n")
	if len(sources) == 0 {
		b.WriteString("No sources were cited.\n")
	}
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, sourceTitle(s), s.URL)
	}
	return b.String(), dropped
}

// localSources maps local citation numbers to sources. Explicit
// "[n] Title: URL" lines in the findings win over list positions.
func localSources(sec Section) map[int]models.Source {
	local := make(map[int]models.Source, len(sec.Sources))
	for i, s := range sec.Sources {
		if s.URL != "" {
			local[i+1] = s
		}
	}
	for _, line := range strings.Split(sec.Findings, "\n") {
		m := sourceLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		local[n] = models.Source{Title: strings.TrimSpace(m[2]), URL: m[3]}
	}
	return local
}

// stripSourceList removes source list lines and Sources headings from
// findings; the global list replaces them.
func stripSourceList(findings string) string {
	lines := strings.Split(findings, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if sourceLineRe.MatchString(line) || sourcesHeadingRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// stripSourcesSection cuts a Sources/References section up to the next
// heading of the same or a higher level.
func stripSourcesSection(body string) string {
	lines := strings.Split(body, "\n")
	var kept []string
	skipLevel := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := sourcesHeadingRe.FindStringSubmatch(trimmed); m != nil {
			skipLevel = len(m[1])
			continue
		}
		if skipLevel > 0 {
			if m := headingRe.FindStringSubmatch(trimmed); m != nil && len(m[1]) <= skipLevel {
				skipLevel = 0
			} else {
				continue
			}
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func parseNumbers(s string) []int {
	var nums []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

func formatMarker(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func hasTitle(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return strings.HasPrefix(line, "# ")
	}
	return false
}

func sourceTitle(s models.Source) string {
	if t := strings.TrimSpace(s.Title); t != "" {
		return t
	}
	if u, err := url.Parse(s.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return s.URL
}
