package models

// FileWrite is a single pending write into the shared research store.
type FileWrite struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WorkerResult is produced exactly once per dispatched directive, either by
// a completed researcher or as a failure sentinel.
type WorkerResult struct {
	DirectiveID string `json:"directive_id"`
	Subtopic    string `json:"subtopic"`
	Slug        string `json:"slug"`
	// Findings is the compressed findings summary.
	Findings string `json:"findings"`
	// RawNotes holds one entry per search call, in call order.
	RawNotes []string `json:"raw_notes"`
	Sources  []Source `json:"sources"`
	// Searches is the number of search calls actually issued.
	Searches int `json:"searches"`
	// Writes are applied to the shared store after the batch joins.
	Writes []FileWrite `json:"-"`

	TokensIn  int64 `json:"tokens_in"`
	TokensOut int64 `json:"tokens_out"`

	// Failed marks a sentinel result for a worker that could not finish.
	Failed  bool   `json:"failed"`
	Failure string `json:"failure,omitempty"`
}

// SourceCount returns the number of distinct sources.
func (r WorkerResult) SourceCount() int {
	return len(DedupeSources(r.Sources))
}

// FailedResult builds the sentinel result for a directive whose worker failed.
func FailedResult(d Directive, reason string) WorkerResult {
	return WorkerResult{
		DirectiveID: d.ID,
		Subtopic:    d.Subtopic,
		Slug:        d.Slug,
		Failed:      true,
		Failure:     reason,
	}
}
