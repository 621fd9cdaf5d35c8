// Package advisor drafts a research scope for a bare topic.
//
// A scope tells the supervisor which angles of the topic matter. When the
// user only gives a topic, DraftScope asks the model for one focused
// direction and returns it as the scope for the run.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/delve/internal/api"
)

// ErrEmptyScope is returned when the model produced no usable scope.
var ErrEmptyScope = errors.New("advisor returned an empty scope")

const scopeMaxTokens = 1024

const scopePrompt = `You are a research advisor. Your job: take the topic a user wants researched and turn it into one focused research direction that a team of researchers can execute.

# How to Respond

1. Pick the single most useful direction for the topic:
   - Be specific and grounded
   - Prefer current, checkable angles (recent data, named products, measurable trends)
   - Keep it narrow enough to cover in a few rounds of web searches

2. Write the research scope as one short paragraph (2-4 sentences):
   - What exactly should be investigated
   - Which 2-3 focus areas matter most
   - Any time frame or region the research should respect

# Rules

- Reply with the scope paragraph only: no greeting, no headings, no list of alternatives
- Do not ask questions; make a reasonable choice instead
- Write in the same language as the topic

Current date: %s`

// Options tune DraftScope.
type Options struct {
	// Now is the clock used for the date in the prompt. Defaults to time.Now.
	Now func() time.Time
}

// DraftScope returns a research scope for topic using a single generation call.
func DraftScope(ctx context.Context, gen api.Generator, topic string, opts ...Options) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("advisor: topic is empty")
	}
	if gen == nil {
		return "", errors.New("advisor: generator is nil")
	}

	now := time.Now
	if len(opts) > 0 && opts[0].Now != nil {
		now = opts[0].Now
	}

	resp, err := gen.Generate(ctx, api.Request{
		System:    fmt.Sprintf(scopePrompt, now().Format("Mon Jan 2, 2006")),
		Turns:     []api.Turn{api.UserTurn("Research topic: " + topic)},
		MaxTokens: scopeMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("advisor: drafting scope: %w", err)
	}

	scope := cleanScope(resp.Text)
	if scope == "" {
		return "", ErrEmptyScope
	}
	return scope, nil
}

// cleanScope drops a leading label and surrounding quotes the model sometimes adds.
func cleanScope(text string) string {
	s := strings.TrimSpace(text)
	for _, label := range []string{"Research scope:", "Scope:", "**Research scope:**", "**Scope:**"} {
		if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
			s = strings.TrimSpace(s[len(label):])
			break
		}
	}
	s = strings.Trim(s, "\"“”")
	return strings.TrimSpace(s)
}
