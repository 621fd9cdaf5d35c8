package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates the supervisor has started.
	EventRunStarted EventType = "run_started"
	// EventRoundStarted indicates a decide step is about to run.
	EventRoundStarted EventType = "round_started"
	// EventDirectiveRejected indicates a delegate call was refused before dispatch.
	EventDirectiveRejected EventType = "directive_rejected"
	// EventWorkerStarted indicates a researcher started on a directive.
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerCompleted indicates a researcher finished its findings.
	EventWorkerCompleted EventType = "worker_completed"
	// EventWorkerFailed indicates a researcher failed and a sentinel was recorded.
	EventWorkerFailed EventType = "worker_failed"
	// EventRoundCompleted indicates findings of a round were aggregated.
	EventRoundCompleted EventType = "round_completed"
	// EventSupervisorDone indicates the supervisor stopped delegating.
	EventSupervisorDone EventType = "supervisor_done"
	// EventSynthesisStarted indicates the report writer is running.
	EventSynthesisStarted EventType = "synthesis_started"
	// EventRunDone indicates the report is ready.
	EventRunDone EventType = "run_done"
	// EventBudgetWarning indicates token usage crossed the warning threshold.
	EventBudgetWarning EventType = "budget_warning"
)

// Event represents an event emitted during a research run.
// These events are used to update the TUI and the headless output.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Round is the supervisor round the event belongs to (1-based).
	Round int
	// DirectiveID is the ID of the related directive, if applicable.
	DirectiveID string
	// Subtopic is the related subtopic, if applicable.
	Subtopic string
	// Slug is the research directory of the related subtopic.
	Slug string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Reason is set on EventSupervisorDone.
	Reason string
	// Sources is the number of sources a worker collected.
	Sources int
	// TokensUsed is the worker's own usage on worker events and the run total otherwise.
	TokensUsed int64
	// Duration is the elapsed time of the related operation.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
