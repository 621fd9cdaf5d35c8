package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/internal/search"
	"github.com/ShayCichocki/delve/pkg/models"
)

// DefaultMaxResults is the number of hits requested per search.
const DefaultMaxResults = 3

// maxSharedContext bounds how much of the shared index a worker is shown.
const maxSharedContext = 4000

// ResearcherConfig configures a Researcher.
type ResearcherConfig struct {
	// Generator runs the decide step.
	Generator api.Generator
	// Compressor runs the final compression call. Defaults to Generator.
	Compressor api.Generator
	Searcher   search.Searcher
	// MaxResults is the number of results per search (default 3).
	MaxResults int
	// Now is the clock used for file dates (default time.Now).
	Now func() time.Time
}

// Researcher runs the search loop for one directive at a time. It holds no
// per-run state, so one Researcher serves every worker of a batch.
type Researcher struct {
	gen        api.Generator
	compressor api.Generator
	searcher   search.Searcher
	maxResults int
	now        func() time.Time
}

// NewResearcher creates a Researcher.
func NewResearcher(cfg ResearcherConfig) *Researcher {
	r := &Researcher{
		gen:        cfg.Generator,
		compressor: cfg.Compressor,
		searcher:   cfg.Searcher,
		maxResults: cfg.MaxResults,
		now:        cfg.Now,
	}
	if r.compressor == nil {
		r.compressor = r.gen
	}
	if r.maxResults <= 0 {
		r.maxResults = DefaultMaxResults
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// loopState is the mutable state of a single Run.
type loopState struct {
	directive models.Directive
	slug      string
	writes    *filestore.WriteSet
	turns     []api.Turn
	rawNotes  []string
	sources   []models.Source
	searches  int
	tokensIn  int64
	tokensOut int64
}

// searchOutcome is the result of one web_search call within a batch.
type searchOutcome struct {
	n       int
	query   string
	results []search.Result
	err     error
}

// Run researches a directive. The loop alternates decide steps and tool
// execution until the model stops calling tools, the search budget is
// spent, or the decide-step cap is hit; then one compression call produces
// the findings. Only a failing decide or compression call returns an error.
func (r *Researcher) Run(ctx context.Context, d models.Directive, snap filestore.Snapshot) (*models.WorkerResult, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directive: %w", err)
	}
	slug := d.Slug
	if slug == "" {
		slug = filestore.Slugify(d.Subtopic)
	}
	writes, err := filestore.NewWriteSet(filestore.SubtopicDir(slug))
	if err != nil {
		return nil, err
	}

	st := &loopState{
		directive: d,
		slug:      slug,
		writes:    writes,
		turns:     []api.Turn{api.UserTurn(d.Instructions())},
	}
	system := r.systemPrompt(d, snap)

	maxSteps := d.SearchBudget*2 + 4
	for step := 0; step < maxSteps && st.searches < d.SearchBudget; step++ {
		resp, err := r.gen.Generate(ctx, api.Request{
			System: system,
			Turns:  st.turns,
			Tools:  researcherTools,
		})
		if err != nil {
			return nil, fmt.Errorf("researcher decide step %d: %w", step+1, err)
		}
		st.tokensIn += resp.TokensIn
		st.tokensOut += resp.TokensOut
		st.turns = append(st.turns, resp.AssistantTurn())

		if len(resp.ToolCalls) == 0 {
			break
		}
		st.turns = append(st.turns, api.Turn{
			Role:        api.RoleUser,
			ToolResults: r.act(ctx, st, resp.ToolCalls),
		})
	}

	findings, err := r.compress(ctx, st)
	if err != nil {
		return nil, err
	}

	sources := models.DedupeSources(st.sources)
	if err := writes.Write(filestore.FindingsPath(slug), FindingsMarkdown(d, findings)); err != nil {
		return nil, err
	}
	sourcesJSON, err := SourcesJSON(sources)
	if err != nil {
		return nil, err
	}
	if err := writes.Write(filestore.SourcesPath(slug), sourcesJSON); err != nil {
		return nil, err
	}

	return &models.WorkerResult{
		DirectiveID: d.ID,
		Subtopic:    d.Subtopic,
		Slug:        slug,
		Findings:    findings,
		RawNotes:    st.rawNotes,
		Sources:     sources,
		Searches:    st.searches,
		Writes:      writes.Writes(),
		TokensIn:    st.tokensIn,
		TokensOut:   st.tokensOut,
	}, nil
}

func (r *Researcher) systemPrompt(d models.Directive, snap filestore.Snapshot) string {
	shared := ""
	if index, err := snap.Read(filestore.IndexPath); err == nil && strings.TrimSpace(index) != "" {
		if len(index) > maxSharedContext {
			n := maxSharedContext
			for n > 0 && !utf8.RuneStart(index[n]) {
				n--
			}
			index = index[:n] + "\n..."
		}
		shared = fmt.Sprintf(sharedContextBlock, index)
	}
	return fmt.Sprintf(researcherPrompt, FormatDate(r.now()), d.SearchBudget, d.SearchBudget, shared)
}

// act executes one batch of tool calls. Searches run concurrently; results
// are returned in call order with one entry per call.
func (r *Researcher) act(ctx context.Context, st *loopState, calls []api.ToolCall) []api.ToolResult {
	results := make([]api.ToolResult, len(calls))
	outcomes := make([]*searchOutcome, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		results[i].CallID = call.ID

		switch call.Name {
		case ToolWebSearch:
			query, err := parseSearchArgs(call.Input)
			if err != nil {
				results[i].Content = err.Error()
				results[i].IsError = true
				continue
			}
			if st.searches >= st.directive.SearchBudget {
				results[i].Content = fmt.Sprintf("Search budget exhausted (%d of %d searches used). Write your final answer.",
					st.searches, st.directive.SearchBudget)
				results[i].IsError = true
				continue
			}
			st.searches++
			out := &searchOutcome{n: st.searches, query: query}
			outcomes[i] = out
			g.Go(func() error {
				defer func() {
					if p := recover(); p != nil {
						out.err = fmt.Errorf("search panicked: %v", p)
					}
				}()
				out.results, out.err = r.searcher.Search(ctx, out.query, r.maxResults)
				return nil
			})

		case ToolReflect:
			reflection, err := parseReflectArgs(call.Input)
			if err != nil {
				results[i].Content = err.Error()
				results[i].IsError = true
				continue
			}
			results[i].Content = "Reflection recorded: " + reflection

		default:
			results[i].Content = fmt.Sprintf("Unknown tool %q. Available tools: %s, %s.", call.Name, ToolWebSearch, ToolReflect)
			results[i].IsError = true
		}
	}
	_ = g.Wait()

	for i, out := range outcomes {
		if out == nil {
			continue
		}
		if out.err != nil {
			log.Printf("[researcher] search %q for %q failed: %v", out.query, st.directive.Subtopic, out.err)
			results[i].Content = fmt.Sprintf("Search failed for %q: %v", out.query, out.err)
			results[i].IsError = true
			continue
		}

		formatted := search.Format(out.query, out.results)
		results[i].Content = formatted
		st.rawNotes = append(st.rawNotes, formatted)
		for _, res := range out.results {
			st.sources = append(st.sources, models.Source{
				Title:     res.Title,
				URL:       res.URL,
				Relevance: "Result for search: " + out.query,
			})
		}
		raw := RawSearchMarkdown(out.n, out.query, out.results, r.now())
		if err := st.writes.Write(filestore.RawSearchPath(st.slug, out.n), raw); err != nil {
			log.Printf("[researcher] saving raw search %d: %v", out.n, err)
		}
	}
	return results
}

// compress turns the transcript into the findings document with one call
// and no tools.
func (r *Researcher) compress(ctx context.Context, st *loopState) (string, error) {
	sources := models.DedupeSources(st.sources)
	prompt := fmt.Sprintf(compressionRequest,
		st.directive.Instructions(),
		numberedSources(sources),
		renderTranscript(st.turns[1:]),
	)

	resp, err := r.compressor.Generate(ctx, api.Request{
		System: fmt.Sprintf(compressionPrompt, FormatDate(r.now())),
		Turns:  []api.Turn{api.UserTurn(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("compressing research for %q: %w", st.directive.Subtopic, err)
	}
	st.tokensIn += resp.TokensIn
	st.tokensOut += resp.TokensOut

	findings := strings.TrimSpace(resp.Text)
	if findings == "" {
		return "", errors.New("compression returned no findings")
	}
	return findings, nil
}

// renderTranscript flattens tool calls and results into plain text so the
// compression call does not need tool definitions.
func renderTranscript(turns []api.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Role == api.RoleAssistant {
			if text := strings.TrimSpace(turn.Text); text != "" {
				fmt.Fprintf(&b, "Assistant: %s\n\n", text)
			}
			for _, call := range turn.ToolCalls {
				fmt.Fprintf(&b, "Tool call %s: %s\n\n", call.Name, string(call.Input))
			}
			continue
		}
		for _, res := range turn.ToolResults {
			if res.IsError {
				fmt.Fprintf(&b, "Tool error: %s\n\n", res.Content)
				continue
			}
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(res.Content))
		}
		if text := strings.TrimSpace(turn.Text); text != "" {
			fmt.Fprintf(&b, "User: %s\n\n", text)
		}
	}
	return strings.TrimSpace(b.String())
}
