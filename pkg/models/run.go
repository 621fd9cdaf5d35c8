package models

// StopReason records which condition ended a supervisor run.
type StopReason string

const (
	StopMaxRounds   StopReason = "max_rounds"
	StopNoToolCalls StopReason = "no_tool_calls"
	StopComplete    StopReason = "complete"
	StopDeadline    StopReason = "deadline"
	StopSignal      StopReason = "stopped"
	StopBudget      StopReason = "budget"
	StopError       StopReason = "error"
)

// Graceful reports whether the run ended without a fatal error.
func (r StopReason) Graceful() bool {
	return r != StopError && r != ""
}

// RunState is the single mutable state of a supervisor run. It is only
// mutated by the supervisor between rounds.
type RunState struct {
	Topic string `json:"topic"`
	Scope string `json:"scope"`
	// Round is the number of decide/execute rounds started.
	Round int `json:"round"`
	// Notes holds one compressed findings entry per completed directive.
	Notes []string `json:"notes"`
	// RawNotes holds one joined raw-notes entry per completed directive.
	RawNotes []string `json:"raw_notes"`
	// Iterations counts completed rounds; it never exceeds the configured max.
	Iterations int        `json:"iterations"`
	Terminated bool       `json:"terminated"`
	Reason     StopReason `json:"reason"`
	// Summary is the supervisor's closing message, if any.
	Summary string `json:"summary,omitempty"`
	// Results holds every aggregated worker result in note order.
	Results []WorkerResult `json:"-"`
}

// Terminate marks the run as finished with the given reason.
// The first reason wins.
func (s *RunState) Terminate(reason StopReason) {
	if s.Terminated {
		return
	}
	s.Terminated = true
	s.Reason = reason
}

// SourceCount returns the number of distinct sources across all results.
func (s *RunState) SourceCount() int {
	var all []Source
	for _, r := range s.Results {
		all = append(all, r.Sources...)
	}
	return len(DedupeSources(all))
}
