// Package report synthesizes the final cited markdown report from the
// aggregated findings of a research run.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/metrics"
	"github.com/ShayCichocki/delve/pkg/models"
)

// DateFormat matches the date used in research files.
const DateFormat = "Mon Jan 2, 2006"

// writerMaxTokens bounds the writer response.
const writerMaxTokens = 16000

// Input is everything the writer needs.
type Input struct {
	Topic string
	Scope string
	// Summary is the supervisor's closing message, if any.
	Summary  string
	Sections []Section
}

// Report is the synthesized result.
type Report struct {
	Markdown string
	// Sources is the global citation list; Sources[i] is [i+1].
	Sources []models.Source
	// Dropped lists citation markers that were removed.
	Dropped []string
	// Fallback is set when the report was assembled without the writer.
	Fallback bool

	TokensIn  int64
	TokensOut int64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithClock sets the clock used for the report date.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// WithMetrics records dropped citations.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Synthesizer) { s.metrics = r }
}

// WithLogf sets the function used to log dropped citations.
func WithLogf(logf func(format string, args ...interface{})) Option {
	return func(s *Synthesizer) { s.logf = logf }
}

// Synthesizer writes reports with one generation call.
type Synthesizer struct {
	gen     api.Generator
	now     func() time.Time
	metrics *metrics.Recorder
	logf    func(format string, args ...interface{})
}

// NewSynthesizer creates a Synthesizer backed by gen.
func NewSynthesizer(gen api.Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		gen:  gen,
		now:  time.Now,
		logf: log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize renumbers citations across sections, asks the writer for the
// report body and appends the Sources list. When there is nothing to write
// about, or the writer fails, a fallback report is built from the sections.
// A writer failure still returns the fallback report together with the error.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Report, error) {
	renum := Renumber(in.Sections)
	for _, d := range renum.Dropped {
		s.logf("[report] dropped unresolvable citation %s", d)
	}

	rep := &Report{Sources: renum.Sources, Dropped: renum.Dropped}

	if len(renum.Sections) == 0 {
		rep.Fallback = true
		rep.Markdown, _ = Finalize(Fallback(in, renum.Sections), in.Topic, renum.Sources)
		s.metrics.CitationsDropped(len(rep.Dropped))
		return rep, nil
	}

	resp, err := s.gen.Generate(ctx, api.Request{
		System:    fmt.Sprintf(writerPrompt, s.now().Format(DateFormat)),
		Turns:     []api.Turn{api.UserTurn(s.request(in, renum.Sections))},
		MaxTokens: writerMaxTokens,
	})
	var writeErr error
	body := ""
	if err != nil {
		writeErr = fmt.Errorf("writing report: %w", err)
	} else {
		rep.TokensIn = resp.TokensIn
		rep.TokensOut = resp.TokensOut
		body = strings.TrimSpace(resp.Text)
		if body == "" {
			writeErr = errors.New("writing report: writer returned an empty report")
		}
	}

	if writeErr != nil {
		s.logf("[report] %v; using fallback report", writeErr)
		rep.Fallback = true
		body = Fallback(in, renum.Sections)
	}

	md, dropped := Finalize(body, in.Topic, renum.Sources)
	for _, d := range dropped {
		s.logf("[report] dropped citation %s not in the source list", d)
	}
	rep.Markdown = md
	rep.Dropped = append(rep.Dropped, dropped...)
	s.metrics.CitationsDropped(len(rep.Dropped))
	return rep, writeErr
}

func (s *Synthesizer) request(in Input, sections []Section) string {
	summary := ""
	if strings.TrimSpace(in.Summary) != "" {
		summary = fmt.Sprintf(summaryBlock, strings.TrimSpace(in.Summary))
	}
	var findings strings.Builder
	for i, sec := range sections {
		if i > 0 {
			findings.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&findings, "### %s\n\n%s", sec.Subtopic, sec.Findings)
	}
	return fmt.Sprintf(writerRequest, in.Topic, in.Scope, summary, findings.String())
}

// Fallback assembles a report body from renumbered sections without a model.
func Fallback(in Input, sections []Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", in.Topic)
	if strings.TrimSpace(in.Scope) != "" {
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(in.Scope))
	}
	if strings.TrimSpace(in.Summary) != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", strings.TrimSpace(in.Summary))
	}
	if len(sections) == 0 {
		b.WriteString("No research findings were collected.\n")
		return b.String()
	}
	for _, sec := range sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Subtopic, demoteHeadings(sec.Findings))
	}
	return b.String()
}

// demoteHeadings pushes findings headings below the section heading.
func demoteHeadings(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil && len(m[1]) < 3 {
			lines[i] = strings.Repeat("#", 3-len(m[1])) + line
		}
	}
	return strings.Join(lines, "\n")
}
