package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/config"
	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/pkg/models"
)

// scriptedGenerator replays responses in order and records every request.
// Once the script is exhausted it answers with plain text.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []*api.Response
	requests  []api.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req api.Request) (*api.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	if n > len(g.responses) {
		return &api.Response{Text: "Research is sufficient."}, nil
	}
	return g.responses[n-1], nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func delegateCall(id, subtopic string, budget int) api.ToolCall {
	input, _ := json.Marshal(map[string]interface{}{
		"subtopic":      subtopic,
		"questions":     []string{"What is it?", "Why does it matter?"},
		"search_budget": budget,
	})
	return api.ToolCall{ID: id, Name: ToolDelegate, Input: input}
}

func completeCall(id string) api.ToolCall {
	return api.ToolCall{ID: id, Name: ToolComplete, Input: json.RawMessage(`{}`)}
}

func newTestSupervisor(gen api.Generator, w Worker, mod func(*SupervisorConfig)) *Supervisor {
	cfg := SupervisorConfig{
		Generator:     gen,
		Dispatcher:    NewDispatcher(w, 3, time.Second, nil, nil),
		Store:         filestore.New(),
		MaxConcurrent: 3,
		MaxRounds:     6,
		MaxSearches:   5,
		Now:           fixedNow,
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewSupervisor(cfg)
}

func TestSupervisor_StopsAtMaxRounds(t *testing.T) {
	round := 0
	gen := api.GeneratorFunc(func(ctx context.Context, req api.Request) (*api.Response, error) {
		round++
		return &api.Response{ToolCalls: []api.ToolCall{delegateCall(fmt.Sprintf("c%d", round), "Topic A", 2)}}, nil
	})
	w := &fakeWorker{}

	s := newTestSupervisor(gen, w, func(c *SupervisorConfig) { c.MaxRounds = 2 })
	state, err := s.Run(context.Background(), "T", "S")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if state.Reason != models.StopMaxRounds {
		t.Errorf("Reason = %q, want %q", state.Reason, models.StopMaxRounds)
	}
	if state.Iterations != 2 || round != 2 {
		t.Errorf("Iterations = %d, decide calls = %d, want 2 and 2", state.Iterations, round)
	}
	if len(state.Notes) != 2 {
		t.Errorf("len(Notes) = %d, want 2", len(state.Notes))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.calls) != 2 {
		t.Fatalf("worker calls = %d, want 2", len(w.calls))
	}
	if w.calls[0].Slug != "topic-a" || w.calls[1].Slug != "topic-a-2" {
		t.Errorf("slugs = %q, %q, want topic-a and topic-a-2", w.calls[0].Slug, w.calls[1].Slug)
	}
	if w.calls[0].ID == "" || w.calls[0].ID == w.calls[1].ID {
		t.Errorf("directive IDs should be unique and non-empty: %q %q", w.calls[0].ID, w.calls[1].ID)
	}
}

func TestSupervisor_NoToolCallsEndsRun(t *testing.T) {
	gen := &scriptedGenerator{responses: []*api.Response{
		{ToolCalls: []api.ToolCall{delegateCall("c1", "Go", 3)}},
		{Text: "Everything is covered."},
	}}

	state, err := newTestSupervisor(gen, &fakeWorker{}, nil).Run(context.Background(), "T", "S")
	if err != nil {
		t.Fatal(err)
	}
	if state.Reason != models.StopNoToolCalls {
		t.Errorf("Reason = %q, want %q", state.Reason, models.StopNoToolCalls)
	}
	if state.Summary != "Everything is covered." {
		t.Errorf("Summary = %q", state.Summary)
	}
	if state.Iterations != 1 || state.Round != 2 {
		t.Errorf("Iterations = %d, Round = %d, want 1 and 2", state.Iterations, state.Round)
	}

	// The findings come back as the tool result of the delegation.
	last := gen.requests[1].Turns[len(gen.requests[1].Turns)-1]
	if len(last.ToolResults) != 1 || last.ToolResults[0].CallID != "c1" {
		t.Fatalf("tool results = %+v", last.ToolResults)
	}
	if !strings.Contains(last.ToolResults[0].Content, "Findings for Go") {
		t.Errorf("tool result = %q", last.ToolResults[0].Content)
	}
}

func TestSupervisor_CompleteWinsOverDelegations(t *testing.T) {
	gen := &scriptedGenerator{responses: []*api.Response{
		{Text: "All covered.", ToolCalls: []api.ToolCall{delegateCall("c1", "Extra", 3), completeCall("c2")}},
	}}
	w := &fakeWorker{}

	state, err := newTestSupervisor(gen, w, nil).Run(context.Background(), "T", "S")
	if err != nil {
		t.Fatal(err)
	}
	if state.Reason != models.StopComplete {
		t.Errorf("Reason = %q, want %q", state.Reason, models.StopComplete)
	}
	if len(w.subtopics()) != 0 {
		t.Errorf("worker ran for %v, want no dispatch", w.subtopics())
	}
	if state.Summary != "All covered." {
		t.Errorf("Summary = %q", state.Summary)
	}
	if gen.calls() != 1 {
		t.Errorf("decide calls = %d, want 1", gen.calls())
	}
}

func TestSupervisor_ExecuteAnswersEveryCallOnComplete(t *testing.T) {
	s := newTestSupervisor(&scriptedGenerator{}, &fakeWorker{}, nil)
	state := &models.RunState{Topic: "T", Round: 1}
	calls := []api.ToolCall{
		delegateCall("c1", "Extra", 3),
		{ID: "c2", Name: ToolReflect, Input: json.RawMessage(`{"reflection":"done"}`)},
		completeCall("c3"),
	}

	results, complete := s.execute(context.Background(), state, calls)
	if !complete {
		t.Fatal("complete should be reported")
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.CallID != calls[i].ID {
			t.Errorf("results[%d].CallID = %q, want %q", i, r.CallID, calls[i].ID)
		}
		if r.Content == "" {
			t.Errorf("results[%d] is empty", i)
		}
	}
	if !strings.Contains(results[0].Content, "not started") {
		t.Errorf("discarded delegation result = %q", results[0].Content)
	}
}

func TestSupervisor_MalformedDirectiveIsRetried(t *testing.T) {
	bad := api.ToolCall{ID: "c1", Name: ToolDelegate, Input: json.RawMessage(`{"subtopic":"A","questions":"one? two?","search_budget":3}`)}
	gen := &scriptedGenerator{responses: []*api.Response{
		{ToolCalls: []api.ToolCall{bad, delegateCall("c2", "B", 3)}},
		{ToolCalls: []api.ToolCall{delegateCall("c3", "A", 3)}},
		{Text: "Done."},
	}}
	w := &fakeWorker{}

	state, err := newTestSupervisor(gen, w, nil).Run(context.Background(), "T", "S")
	if err != nil {
		t.Fatal(err)
	}

	if got := w.subtopics(); len(got) != 2 || got[0] != "B" || got[1] != "A" {
		t.Errorf("dispatched = %v, want [B A]", got)
	}
	if state.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", state.Iterations)
	}

	turns := gen.requests[1].Turns
	results := turns[len(turns)-1].ToolResults
	if len(results) != 2 {
		t.Fatalf("round 1 tool results = %d, want 2", len(results))
	}
	if !results[0].IsError || !strings.Contains(results[0].Content, "list of strings") {
		t.Errorf("malformed result = %+v", results[0])
	}
	if results[1].IsError {
		t.Errorf("valid sibling should succeed, got %+v", results[1])
	}
}

func TestSupervisor_Overflow(t *testing.T) {
	calls := make([]api.ToolCall, 5)
	for i := range calls {
		calls[i] = delegateCall(fmt.Sprintf("c%d", i), fmt.Sprintf("Subtopic %d", i), 2)
	}

	tests := []struct {
		name         string
		policy       string
		wantDispatch int
		wantErrors   int
	}{
		{"truncate keeps the first max", config.OverflowTruncate, 3, 2},
		{"reject refuses the batch", config.OverflowReject, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWorker{}
			s := newTestSupervisor(&scriptedGenerator{}, w, func(c *SupervisorConfig) { c.OverflowPolicy = tt.policy })
			state := &models.RunState{Topic: "T", Round: 1}

			results, complete := s.execute(context.Background(), state, calls)
			if complete {
				t.Fatal("complete should not be reported")
			}

			dispatched := w.subtopics()
			sort.Strings(dispatched)
			if len(dispatched) != tt.wantDispatch {
				t.Errorf("dispatched %d, want %d", len(dispatched), tt.wantDispatch)
			}
			for i, sub := range dispatched {
				if want := fmt.Sprintf("Subtopic %d", i); sub != want {
					t.Errorf("dispatched[%d] = %q, want %q", i, sub, want)
				}
			}

			errs := 0
			for _, r := range results {
				if r.IsError {
					errs++
				}
			}
			if errs != tt.wantErrors {
				t.Errorf("error results = %d, want %d", errs, tt.wantErrors)
			}
			if len(state.Notes) != tt.wantDispatch {
				t.Errorf("len(Notes) = %d, want %d", len(state.Notes), tt.wantDispatch)
			}
		})
	}
}

func TestSupervisor_SameBatchSlugCollision(t *testing.T) {
	w := &fakeWorker{}
	s := newTestSupervisor(&scriptedGenerator{}, w, nil)
	state := &models.RunState{Topic: "T", Round: 1}

	s.execute(context.Background(), state, []api.ToolCall{
		delegateCall("c1", "Go Runtime", 2),
		delegateCall("c2", "go runtime!", 2),
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	slugs := map[string]bool{}
	for _, d := range w.calls {
		slugs[d.Slug] = true
	}
	if !slugs["go-runtime"] || !slugs["go-runtime-2"] {
		t.Errorf("slugs = %v, want go-runtime and go-runtime-2", slugs)
	}
}

func TestSupervisor_ClampsSearchBudget(t *testing.T) {
	w := &fakeWorker{}
	s := newTestSupervisor(&scriptedGenerator{}, w, func(c *SupervisorConfig) { c.MaxSearches = 3 })

	s.execute(context.Background(), &models.RunState{Round: 1}, []api.ToolCall{delegateCall("c1", "Go", 5)})

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.calls) != 1 || w.calls[0].SearchBudget != 3 {
		t.Errorf("calls = %+v, want one directive with budget 3", w.calls)
	}
}

func TestSupervisor_FailedWorkerBecomesErrorResult(t *testing.T) {
	w := &fakeWorker{fn: func(ctx context.Context, d models.Directive) (*models.WorkerResult, error) {
		return nil, errors.New("search provider down")
	}}
	s := newTestSupervisor(&scriptedGenerator{}, w, nil)
	state := &models.RunState{Topic: "T", Round: 1}

	results, _ := s.execute(context.Background(), state, []api.ToolCall{delegateCall("c1", "Go", 2)})

	if !results[0].IsError || results[0].Content != "Research failed for Go: search provider down" {
		t.Errorf("result = %+v", results[0])
	}
	if len(state.Notes) != 1 || state.Notes[0] != results[0].Content {
		t.Errorf("Notes = %q", state.Notes)
	}
}

func TestSupervisor_PreRoundStops(t *testing.T) {
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	exhausted := NewBudgetHandler(100)
	exhausted.Update(150)

	tests := []struct {
		name string
		ctx  context.Context
		mod  func(*SupervisorConfig)
		want models.StopReason
	}{
		{"deadline", expired, nil, models.StopDeadline},
		{"canceled", canceled, nil, models.StopSignal},
		{"budget", context.Background(), func(c *SupervisorConfig) { c.Budget = exhausted }, models.StopBudget},
		{"zero rounds left", context.Background(), func(c *SupervisorConfig) { c.MaxRounds = 1 }, models.StopMaxRounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{responses: []*api.Response{
				{ToolCalls: []api.ToolCall{{ID: "r", Name: ToolReflect, Input: json.RawMessage(`{"reflection":"x"}`)}}},
			}}
			state, err := newTestSupervisor(gen, &fakeWorker{}, tt.mod).Run(tt.ctx, "T", "S")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if state.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", state.Reason, tt.want)
			}
		})
	}

	if !exhausted.IsExhausted() {
		t.Error("budget stop should mark the handler exhausted")
	}
}

func TestSupervisor_StopSignal(t *testing.T) {
	dir := t.TempDir()
	nm, err := api.NewNotificationManager(dir)
	if err != nil {
		t.Fatalf("NewNotificationManager() error = %v", err)
	}
	defer nm.Close()
	if err := nm.SendStop(); err != nil {
		t.Fatal(err)
	}

	gen := &scriptedGenerator{}
	state, err := newTestSupervisor(gen, &fakeWorker{}, func(c *SupervisorConfig) { c.Notifications = nm }).Run(context.Background(), "T", "S")
	if err != nil {
		t.Fatal(err)
	}
	if state.Reason != models.StopSignal {
		t.Errorf("Reason = %q, want %q", state.Reason, models.StopSignal)
	}
	if gen.calls() != 0 {
		t.Errorf("decide calls = %d, want 0", gen.calls())
	}
}

func TestSupervisor_DecideFailure(t *testing.T) {
	calls := 0
	gen := api.GeneratorFunc(func(ctx context.Context, req api.Request) (*api.Response, error) {
		calls++
		if calls == 1 {
			return &api.Response{ToolCalls: []api.ToolCall{delegateCall("c1", "Go", 2)}}, nil
		}
		return nil, errors.New("invalid request")
	})

	state, err := newTestSupervisor(gen, &fakeWorker{}, nil).Run(context.Background(), "T", "S")
	if err == nil {
		t.Fatal("Run() should fail when a decide call fails")
	}
	if state == nil {
		t.Fatal("state should be returned with the error")
	}
	if state.Reason != models.StopError {
		t.Errorf("Reason = %q, want %q", state.Reason, models.StopError)
	}
	if len(state.Notes) != 1 {
		t.Errorf("findings gathered before the failure should be kept, got %d notes", len(state.Notes))
	}
}

func TestSupervisor_DecideInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := api.GeneratorFunc(func(ctx context.Context, req api.Request) (*api.Response, error) {
		cancel()
		return nil, ctx.Err()
	})

	state, err := newTestSupervisor(gen, &fakeWorker{}, nil).Run(ctx, "T", "S")
	if err != nil {
		t.Fatalf("an interrupted run is not an error, got %v", err)
	}
	if state.Reason != models.StopSignal {
		t.Errorf("Reason = %q, want %q", state.Reason, models.StopSignal)
	}
}

func TestSupervisor_IndexVisibleToLaterRounds(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	snapWorker := workerFunc(func(ctx context.Context, d models.Directive, snap filestore.Snapshot) (*models.WorkerResult, error) {
		index, _ := snap.Read(filestore.IndexPath)
		mu.Lock()
		seen = append(seen, index)
		mu.Unlock()
		return okResult(d), nil
	})
	gen := &scriptedGenerator{responses: []*api.Response{
		{ToolCalls: []api.ToolCall{delegateCall("c1", "First", 2)}},
		{ToolCalls: []api.ToolCall{delegateCall("c2", "Second", 2)}},
	}}

	if _, err := newTestSupervisor(gen, snapWorker, nil).Run(context.Background(), "T", "S"); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 {
		t.Fatalf("worker ran %d times, want 2", len(seen))
	}
	if seen[0] != "" {
		t.Errorf("first round should see no index, got %q", seen[0])
	}
	if !strings.Contains(seen[1], "## First") {
		t.Errorf("second round should see the first subtopic in the index, got %q", seen[1])
	}
}

// workerFunc adapts a function to the Worker interface.
type workerFunc func(ctx context.Context, d models.Directive, snap filestore.Snapshot) (*models.WorkerResult, error)

func (f workerFunc) Run(ctx context.Context, d models.Directive, snap filestore.Snapshot) (*models.WorkerResult, error) {
	return f(ctx, d, snap)
}
