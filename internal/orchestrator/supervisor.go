package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/config"
	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/internal/metrics"
	"github.com/ShayCichocki/delve/pkg/models"
)

// SupervisorConfig contains everything a Supervisor needs.
type SupervisorConfig struct {
	Generator  api.Generator
	Dispatcher *Dispatcher
	Store      *filestore.Store

	MaxConcurrent  int
	MaxRounds      int
	MaxSearches    int
	OverflowPolicy string

	// Optional collaborators; nil disables them.
	Budget        *BudgetHandler
	Notifications *api.NotificationManager
	Emitter       *EventEmitter
	Metrics       *metrics.Recorder
	Logger        *DebugLogger
	Now           func() time.Time
}

// Supervisor runs the decide/execute loop that delegates subtopics to
// researchers. A Supervisor serves a single run.
type Supervisor struct {
	cfg        SupervisorConfig
	aggregator *Aggregator
	slugs      *filestore.SlugRegistry
	newID      func() string
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = config.OverflowTruncate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Store == nil {
		cfg.Store = filestore.New()
	}
	return &Supervisor{
		cfg:        cfg,
		aggregator: NewAggregator(cfg.Store, cfg.Now),
		slugs:      filestore.NewSlugRegistry(),
		newID:      func() string { return uuid.New().String()[:8] },
	}
}

// Run delegates research on topic until a stop condition fires. Before each
// decide step it checks, in order: the round limit, the run context, the stop
// signal and the token budget. After a decide step it stops when the model
// made no tool calls or called complete.
//
// The returned state is always non-nil. An error is returned only when a
// decide call fails for a reason other than the run context ending; the
// state then still holds everything aggregated so far.
func (s *Supervisor) Run(ctx context.Context, topic, scope string) (*models.RunState, error) {
	state := &models.RunState{Topic: topic, Scope: scope}
	system := fmt.Sprintf(supervisorPrompt, s.cfg.Now().Format(indexDateFormat), topic, scope,
		s.cfg.MaxConcurrent, s.cfg.MaxRounds)
	turns := []api.Turn{api.UserTurn(fmt.Sprintf(
		"Research Topic: %s\nResearch Scope: %s\n\nPlan the research and delegate it.", topic, scope))}

	var runErr error
	for {
		if state.Iterations >= s.cfg.MaxRounds {
			state.Terminate(models.StopMaxRounds)
			break
		}
		if reason, stop := s.shouldStop(ctx); stop {
			state.Terminate(reason)
			break
		}

		state.Round++
		s.cfg.Logger.Log("[supervisor] round %d: decide", state.Round)
		s.cfg.Emitter.Emit(Event{Type: EventRoundStarted, Round: state.Round})

		resp, err := s.cfg.Generator.Generate(ctx, api.Request{
			System: system,
			Turns:  turns,
			Tools:  supervisorTools,
		})
		if err != nil {
			if reason, ended := contextReason(ctx); ended {
				s.cfg.Logger.Log("[supervisor] round %d: decide interrupted: %v", state.Round, err)
				state.Terminate(reason)
				break
			}
			state.Terminate(models.StopError)
			runErr = fmt.Errorf("supervisor decide step (round %d): %w", state.Round, err)
			break
		}
		turns = append(turns, resp.AssistantTurn())

		if len(resp.ToolCalls) == 0 {
			state.Summary = strings.TrimSpace(resp.Text)
			state.Terminate(models.StopNoToolCalls)
			break
		}

		results, complete := s.execute(ctx, state, resp.ToolCalls)
		turns = append(turns, api.Turn{Role: api.RoleUser, ToolResults: results})

		if complete {
			state.Summary = strings.TrimSpace(resp.Text)
			state.Terminate(models.StopComplete)
			break
		}

		state.Iterations++
		s.cfg.Metrics.RoundCompleted()
		var used int64
		if s.cfg.Budget != nil {
			used, _, _ = s.cfg.Budget.GetUsage()
		}
		s.cfg.Emitter.Emit(Event{
			Type:       EventRoundCompleted,
			Round:      state.Round,
			Sources:    state.SourceCount(),
			TokensUsed: used,
			Message:    fmt.Sprintf("%d notes", len(state.Notes)),
		})
	}

	s.cfg.Logger.Log("[supervisor] stopped after %d rounds: %s", state.Iterations, state.Reason)
	s.cfg.Emitter.Emit(Event{
		Type:    EventSupervisorDone,
		Round:   state.Round,
		Reason:  string(state.Reason),
		Message: fmt.Sprintf("%d rounds, %d notes", state.Iterations, len(state.Notes)),
		Error:   runErr,
	})
	return state, runErr
}

// shouldStop reports the pre-round stop conditions other than the round limit.
func (s *Supervisor) shouldStop(ctx context.Context) (models.StopReason, bool) {
	if reason, ended := contextReason(ctx); ended {
		return reason, true
	}
	if s.cfg.Notifications != nil && s.cfg.Notifications.ShouldStop() {
		return models.StopSignal, true
	}
	if b := s.cfg.Budget; b != nil {
		if b.CrossedWarning() {
			used, budget, pct := b.GetUsage()
			s.cfg.Emitter.Emit(Event{
				Type:       EventBudgetWarning,
				TokensUsed: used,
				Message:    fmt.Sprintf("%.0f%% of %d token budget used", pct*100, budget),
			})
		}
		if !b.CanDelegate() {
			b.OnExhausted()
			return models.StopBudget, true
		}
	}
	return "", false
}

// contextReason maps a finished context to its stop reason.
func contextReason(ctx context.Context) (models.StopReason, bool) {
	err := ctx.Err()
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, context.DeadlineExceeded):
		return models.StopDeadline, true
	default:
		return models.StopSignal, true
	}
}

// pendingDelegation is a valid directive waiting for dispatch.
type pendingDelegation struct {
	callIndex int
	directive models.Directive
}

// execute answers every tool call of one decide step. It reports whether
// complete was called, in which case nothing is dispatched.
func (s *Supervisor) execute(ctx context.Context, state *models.RunState, calls []api.ToolCall) ([]api.ToolResult, bool) {
	classified := classify(calls)
	results := make([]api.ToolResult, len(calls))

	complete := false
	for _, c := range classified {
		if c.kind == callComplete {
			complete = true
		}
	}

	var pending []pendingDelegation
	for i, c := range classified {
		results[i].CallID = c.call.ID
		switch c.kind {
		case callMalformed:
			results[i].Content = fmt.Sprintf("Invalid %s call: %s. Fix the arguments and call the tool again.", c.call.Name, c.problem)
			results[i].IsError = true
			s.reject(state.Round, c.call.Name, c.problem, metrics.OutcomeRejected)
		case callReflect:
			results[i].Content = "Reflection recorded: " + c.reflection
			s.cfg.Logger.Log("[supervisor] reflect: %s", c.reflection)
		case callComplete:
			results[i].Content = "Research marked complete."
		case callDelegate:
			if complete {
				results[i].Content = fmt.Sprintf("Delegation of %q was not started because research was marked complete in the same message.", c.directive.Subtopic)
				s.cfg.Metrics.Directive(metrics.OutcomeDiscarded)
				continue
			}
			pending = append(pending, pendingDelegation{callIndex: i, directive: c.directive})
		}
	}
	if complete || len(pending) == 0 {
		return results, complete
	}

	pending = s.applyOverflow(state.Round, pending, results)
	if len(pending) == 0 {
		return results, false
	}

	directives := make([]models.Directive, len(pending))
	for k, p := range pending {
		d := p.directive
		d.ID = s.newID()
		slug, collided := s.slugs.Assign(d.Subtopic)
		if collided {
			s.cfg.Logger.Log("[supervisor] slug for %q already used, assigned %s", d.Subtopic, slug)
		}
		d.Slug = slug
		if s.cfg.MaxSearches > 0 && d.SearchBudget > s.cfg.MaxSearches {
			d.SearchBudget = max(s.cfg.MaxSearches, models.MinSearchBudget)
		}
		directives[k] = d
	}

	s.cfg.Logger.Log("[supervisor] round %d: dispatching %d directives", state.Round, len(directives))
	workerResults := s.cfg.Dispatcher.Dispatch(ctx, state.Round, directives, s.cfg.Store.Snapshot())
	if err := s.aggregator.Apply(state, workerResults); err != nil {
		s.cfg.Logger.Log("[supervisor] aggregation: %v", err)
	}

	for k, res := range workerResults {
		i := pending[k].callIndex
		if res.Failed {
			results[i].Content = FailureNote(res)
			results[i].IsError = true
			continue
		}
		results[i].Content = fmt.Sprintf("%s\n\n(Findings saved to %s)", res.Findings, filestore.FindingsPath(res.Slug))
	}
	return results, false
}

// applyOverflow enforces the per-round researcher limit on pending
// delegations and answers refused calls. It returns what may be dispatched.
func (s *Supervisor) applyOverflow(round int, pending []pendingDelegation, results []api.ToolResult) []pendingDelegation {
	limit := s.cfg.MaxConcurrent
	if len(pending) <= limit {
		return pending
	}

	if s.cfg.OverflowPolicy == config.OverflowReject {
		for _, p := range pending {
			results[p.callIndex].Content = fmt.Sprintf(
				"Delegation refused: %d delegations were requested but at most %d researchers run per round. Delegate again with at most %d subtopics.",
				len(pending), limit, limit)
			results[p.callIndex].IsError = true
			s.reject(round, ToolDelegate, "batch exceeds max concurrent researchers", metrics.OutcomeRejected)
		}
		return nil
	}

	for _, p := range pending[limit:] {
		results[p.callIndex].Content = fmt.Sprintf(
			"Delegation of %q not started: at most %d researchers run per round. Delegate it again in a later round if it is still needed.",
			p.directive.Subtopic, limit)
		results[p.callIndex].IsError = true
		s.reject(round, ToolDelegate, "truncated: "+p.directive.Subtopic, metrics.OutcomeTruncated)
	}
	return pending[:limit]
}

func (s *Supervisor) reject(round int, tool, problem, outcome string) {
	s.cfg.Logger.Log("[supervisor] round %d: refused %s call: %s", round, tool, problem)
	if tool == ToolDelegate {
		s.cfg.Metrics.Directive(outcome)
	}
	s.cfg.Emitter.Emit(Event{
		Type:    EventDirectiveRejected,
		Round:   round,
		Message: problem,
	})
}
