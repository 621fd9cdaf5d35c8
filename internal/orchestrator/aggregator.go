package orchestrator

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/pkg/models"
)

// maxSummaryLen bounds the per-subtopic summary in the index.
const maxSummaryLen = 300

// indexDateFormat is the date printed at the bottom of the index.
const indexDateFormat = "Mon Jan 2, 2006"

// IndexEntry is one subtopic line group in /research/index.md.
type IndexEntry struct {
	Subtopic    string
	Slug        string
	SourceCount int
	Summary     string
	Failed      bool
	Failure     string
}

// Aggregator merges worker results into the run state and the shared store.
// It is only called from the supervisor goroutine.
type Aggregator struct {
	store   *filestore.Store
	entries []IndexEntry
	now     func() time.Time
}

// NewAggregator creates an Aggregator writing into store.
func NewAggregator(store *filestore.Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// Apply folds a batch of results into state and the store, in batch order,
// then rewrites the index from every entry seen so far.
func (a *Aggregator) Apply(state *models.RunState, results []models.WorkerResult) error {
	for _, res := range results {
		if res.Failed {
			state.Notes = append(state.Notes, FailureNote(res))
			a.entries = append(a.entries, IndexEntry{
				Subtopic: res.Subtopic,
				Slug:     res.Slug,
				Failed:   true,
				Failure:  res.Failure,
			})
			state.Results = append(state.Results, res)
			continue
		}

		if err := a.store.Apply(res.Writes); err != nil {
			return fmt.Errorf("storing findings for %s: %w", res.Subtopic, err)
		}
		state.Notes = append(state.Notes, res.Findings)
		state.RawNotes = append(state.RawNotes, strings.Join(res.RawNotes, "\n"))
		state.Results = append(state.Results, res)
		a.entries = append(a.entries, IndexEntry{
			Subtopic:    res.Subtopic,
			Slug:        res.Slug,
			SourceCount: res.SourceCount(),
			Summary:     Summarize(res.Findings, maxSummaryLen),
		})
	}

	index := RenderIndex(state.Topic, a.entries, a.now())
	if err := a.store.Write(filestore.IndexPath, index); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	debugLog("[aggregator] index rewritten with %d entries", len(a.entries))
	return nil
}

// Entries returns a copy of the index entries.
func (a *Aggregator) Entries() []IndexEntry {
	out := make([]IndexEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// FailureNote is the supervisor note recorded for a failed directive.
func FailureNote(res models.WorkerResult) string {
	return fmt.Sprintf("Research failed for %s: %s", res.Subtopic, res.Failure)
}

// RenderIndex renders the full index. Output depends only on its inputs.
func RenderIndex(topic string, entries []IndexEntry, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Index: %s\n\n", topic)

	subtopics, sources := 0, 0
	for _, e := range entries {
		fmt.Fprintf(&b, "## %s\n", e.Subtopic)
		if e.Failed {
			fmt.Fprintf(&b, "- Status: failed (%s)\n\n", e.Failure)
			continue
		}
		subtopics++
		sources += e.SourceCount
		fmt.Fprintf(&b, "- Findings: %s\n", filestore.FindingsPath(e.Slug))
		fmt.Fprintf(&b, "- Sources: %s\n", filestore.SourcesPath(e.Slug))
		fmt.Fprintf(&b, "- Source Count: %d sources\n", e.SourceCount)
		fmt.Fprintf(&b, "- Summary: %s\n\n", e.Summary)
	}

	b.WriteString("## Total Research Coverage\n")
	fmt.Fprintf(&b, "- %d subtopics researched\n", subtopics)
	fmt.Fprintf(&b, "- %d total sources collected\n", sources)
	fmt.Fprintf(&b, "- Research completed: %s\n", date.Format(indexDateFormat))
	return b.String()
}

// Summarize returns the leading prose of findings, at most max bytes, cut at
// a sentence end when one is available.
func Summarize(findings string, max int) string {
	var parts []string
	for _, line := range strings.Split(findings, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts = append(parts, strings.TrimLeft(line, "-* "))
	}
	text := strings.Join(parts, " ")
	if len(text) <= max {
		return text
	}

	cut := text[:max]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	if i := strings.LastIndexAny(cut, ".!?"); i > max/3 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
