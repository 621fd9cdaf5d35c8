package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/delve/internal/agent"
	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/config"
	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/internal/report"
	"github.com/ShayCichocki/delve/internal/search"
	"github.com/ShayCichocki/delve/pkg/models"
)

// ErrInvalidInput is returned for an empty topic or scope, or unusable limits.
var ErrInvalidInput = errors.New("invalid research input")

// Generation roles, used for metrics labels and the debug log.
const (
	RoleSupervisor  = "supervisor"
	RoleResearcher  = "researcher"
	RoleCompression = "compression"
	RoleWriter      = "writer"
)

// Outcome is everything a finished run produced.
type Outcome struct {
	RunID  string
	State  *models.RunState
	Report *report.Report
	// Files is the final content of the shared research store.
	Files     map[string]string
	TokensIn  int64
	TokensOut int64
	Started   time.Time
	Finished  time.Time
}

// Orchestrator wires the supervisor, researchers and report writer for a
// single research run: supervisor -> dispatcher -> aggregator -> synthesizer.
type Orchestrator struct {
	req     RequiredConfig
	opts    *orchestratorOptions
	runID   string
	emitter *EventEmitter
	logger  *DebugLogger
	budget  *BudgetHandler

	tokensIn  atomic.Int64
	tokensOut atomic.Int64
	ran       atomic.Bool
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if req.Generator == nil {
		return nil, fmt.Errorf("%w: a generator is required", ErrInvalidInput)
	}
	if req.Searcher == nil && o.worker == nil {
		return nil, fmt.Errorf("%w: a searcher is required", ErrInvalidInput)
	}
	if err := validateOptions(o); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	return &Orchestrator{
		req:     req,
		opts:    o,
		runID:   uuid.New().String()[:8],
		emitter: NewEventEmitter(o.eventBuffer),
		logger:  logger,
		budget:  NewBudgetHandler(o.tokenBudget),
	}, nil
}

func validateOptions(o *orchestratorOptions) error {
	var errs []error
	if o.maxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be at least 1, got %d", o.maxConcurrent))
	}
	if o.maxRounds < 1 {
		errs = append(errs, fmt.Errorf("max rounds must be at least 1, got %d", o.maxRounds))
	}
	if o.maxSearches < models.MinSearchBudget {
		errs = append(errs, fmt.Errorf("max searches must be at least %d, got %d", models.MinSearchBudget, o.maxSearches))
	}
	if o.maxResults < 1 {
		errs = append(errs, fmt.Errorf("max results must be at least 1, got %d", o.maxResults))
	}
	switch o.overflowPolicy {
	case config.OverflowTruncate, config.OverflowReject:
	default:
		errs = append(errs, fmt.Errorf("unknown overflow policy %q", o.overflowPolicy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// RunID returns the short identifier of this run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Events returns the event stream of the run. It is closed when Run returns.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEventCount returns how many events were dropped because no one was reading.
func (o *Orchestrator) DroppedEventCount() uint64 {
	return o.emitter.DroppedCount()
}

// Run researches topic within scope and writes the report:
//  1. Run the supervisor until it stops (rounds, completion, deadline, stop signal or budget)
//  2. Renumber citations across the aggregated findings
//  3. Write the report, falling back to a plain assembly if the writer fails
//
// The run deadline ends delegation, not the run: the report is still written
// from what was gathered, on a fresh synthesis timeout. Run returns a
// non-nil Outcome whenever the input was valid, even alongside an error.
func (o *Orchestrator) Run(ctx context.Context, topic, scope string) (*Outcome, error) {
	if o.ran.Swap(true) {
		return nil, errors.New("orchestrator: Run called twice")
	}
	// Readers range over Events; every return below must close it.
	defer o.emitter.Close()

	topic, scope = strings.TrimSpace(topic), strings.TrimSpace(scope)
	if topic == "" {
		return nil, fmt.Errorf("%w: research topic is empty", ErrInvalidInput)
	}
	if scope == "" {
		return nil, fmt.Errorf("%w: research scope is empty", ErrInvalidInput)
	}

	setPackageLogger(o.logger)
	defer setPackageLogger(nil)

	started := o.opts.now()
	o.logger.Log("Run() %s started for topic: %s", o.runID, topic)
	o.emitter.Emit(Event{Type: EventRunStarted, Message: topic})

	roles := o.generators()
	store := filestore.New()
	worker := o.opts.worker
	if worker == nil {
		worker = agent.NewResearcher(agent.ResearcherConfig{
			Generator:  roles.Researcher,
			Compressor: roles.Compression,
			Searcher:   o.searcher(),
			MaxResults: o.opts.maxResults,
			Now:        o.opts.now,
		})
	}

	runCtx := ctx
	if o.opts.timeouts.Run > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.timeouts.Run)
		defer cancel()
	}

	sup := NewSupervisor(SupervisorConfig{
		Generator:      roles.Supervisor,
		Dispatcher:     NewDispatcher(worker, o.opts.maxConcurrent, o.opts.timeouts.Worker, o.emitter, o.opts.metrics),
		Store:          store,
		MaxConcurrent:  o.opts.maxConcurrent,
		MaxRounds:      o.opts.maxRounds,
		MaxSearches:    o.opts.maxSearches,
		OverflowPolicy: o.opts.overflowPolicy,
		Budget:         o.budget,
		Notifications:  o.opts.notifications,
		Emitter:        o.emitter,
		Metrics:        o.opts.metrics,
		Logger:         o.logger,
		Now:            o.opts.now,
	})
	state, supErr := sup.Run(runCtx, topic, scope)
	if supErr != nil {
		log.Printf("[orchestrator] supervisor failed, writing a partial report: %v", supErr)
	}
	if o.budget.IsExhausted() {
		used, budget, _ := o.budget.GetUsage()
		o.logger.Log("[orchestrator] token budget exhausted: %d of %d tokens used", used, budget)
	}

	o.emitter.Emit(Event{Type: EventSynthesisStarted, Message: fmt.Sprintf("%d sections", len(state.Notes))})

	// The run context may already be done; synthesis gets its own budget.
	synthCtx, cancelSynth := context.WithTimeout(context.WithoutCancel(ctx), o.opts.timeouts.Synthesis)
	defer cancelSynth()

	synth := report.NewSynthesizer(roles.Writer,
		report.WithClock(o.opts.now),
		report.WithMetrics(o.opts.metrics),
		report.WithLogf(func(format string, args ...interface{}) {
			log.Printf(format, args...)
			o.logger.Log(format, args...)
		}),
	)
	rep, synthErr := synth.Synthesize(synthCtx, report.Input{
		Topic:    topic,
		Scope:    scope,
		Summary:  state.Summary,
		Sections: Sections(state),
	})

	out := &Outcome{
		RunID:     o.runID,
		State:     state,
		Report:    rep,
		Files:     store.Files(),
		TokensIn:  o.tokensIn.Load(),
		TokensOut: o.tokensOut.Load(),
		Started:   started,
		Finished:  o.opts.now(),
	}

	o.logger.Log("Run() %s finished: reason=%s rounds=%d notes=%d", o.runID, state.Reason, state.Iterations, len(state.Notes))
	o.emitter.Emit(Event{
		Type:       EventRunDone,
		Reason:     string(state.Reason),
		Sources:    len(rep.Sources),
		TokensUsed: out.TokensIn + out.TokensOut,
		Duration:   out.Finished.Sub(started),
	})

	if synthErr != nil {
		synthErr = fmt.Errorf("report synthesis: %w", synthErr)
	}
	return out, errors.Join(supErr, synthErr)
}

// Sections converts the successful results of a run into report sections,
// in note order.
func Sections(state *models.RunState) []report.Section {
	var sections []report.Section
	for _, res := range state.Results {
		if res.Failed || strings.TrimSpace(res.Findings) == "" {
			continue
		}
		sections = append(sections, report.Section{
			Subtopic: res.Subtopic,
			Findings: res.Findings,
			Sources:  res.Sources,
		})
	}
	return sections
}

// generators wraps every role generator with timeout, retry and accounting.
func (o *Orchestrator) generators() Roles {
	pick := func(g api.Generator) api.Generator {
		if g != nil {
			return g
		}
		return o.req.Generator
	}
	return Roles{
		Supervisor:  o.wrap(RoleSupervisor, pick(o.opts.roles.Supervisor)),
		Researcher:  o.wrap(RoleResearcher, pick(o.opts.roles.Researcher)),
		Compression: o.wrap(RoleCompression, pick(o.opts.roles.Compression)),
		Writer:      o.wrap(RoleWriter, pick(o.opts.roles.Writer)),
	}
}

func (o *Orchestrator) wrap(role string, g api.Generator) api.Generator {
	g = api.WithTimeout(g, o.opts.timeouts.Generate)
	g = api.WithRetry(g, o.opts.retryAttempts, o.opts.retryBackoff)
	return api.WithHook(g, func(req api.Request, resp *api.Response, err error, elapsed time.Duration) {
		o.opts.metrics.GenerateCall(role, err)
		if err != nil {
			o.logger.Log("[%s] generate failed after %s: %v", role, elapsed.Round(time.Millisecond), err)
			return
		}
		o.tokensIn.Add(resp.TokensIn)
		o.tokensOut.Add(resp.TokensOut)
		o.budget.Update(resp.TokensIn + resp.TokensOut)
		o.logger.Log("[%s] generate ok in %s (%d in, %d out, %d tool calls)",
			role, elapsed.Round(time.Millisecond), resp.TokensIn, resp.TokensOut, len(resp.ToolCalls))
	})
}

// searcher applies the search timeout and records search metrics.
func (o *Orchestrator) searcher() search.Searcher {
	s := search.WithTimeout(o.req.Searcher, o.opts.timeouts.Search)
	rec := o.opts.metrics
	return search.SearcherFunc(func(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
		results, err := s.Search(ctx, query, maxResults)
		rec.Search(err)
		return results, err
	})
}
