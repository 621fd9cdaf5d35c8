package models

import (
	"fmt"
	"strings"
)

// Bounds for a delegated research directive.
const (
	MinQuestions    = 2
	MaxQuestions    = 4
	MinSearchBudget = 2
	MaxSearchBudget = 5
)

// Directive is a single unit of delegated research work.
// A Directive is created once per delegation and is never reused across
// rounds; a retried subtopic gets a new Directive with a new ID.
type Directive struct {
	// ID uniquely identifies this directive within a run.
	ID string `json:"id"`
	// Subtopic is the focus area handed to the researcher.
	Subtopic string `json:"subtopic"`
	// Questions are the 2-4 research questions to answer, in order.
	Questions []string `json:"questions"`
	// SearchBudget is the maximum number of web searches (2-5).
	SearchBudget int `json:"search_budget"`
	// Slug is the directory name under /research assigned before dispatch.
	Slug string `json:"slug"`
}

// Validate checks the directive against the delegation bounds.
func (d Directive) Validate() error {
	if strings.TrimSpace(d.Subtopic) == "" {
		return fmt.Errorf("subtopic must not be empty")
	}
	if n := len(d.Questions); n < MinQuestions || n > MaxQuestions {
		return fmt.Errorf("questions must contain %d-%d entries, got %d", MinQuestions, MaxQuestions, n)
	}
	for i, q := range d.Questions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("question %d is empty", i+1)
		}
	}
	if d.SearchBudget < MinSearchBudget || d.SearchBudget > MaxSearchBudget {
		return fmt.Errorf("search_budget must be between %d and %d, got %d", MinSearchBudget, MaxSearchBudget, d.SearchBudget)
	}
	return nil
}

// Instructions renders the task message a researcher starts from.
func (d Directive) Instructions() string {
	var b strings.Builder
	b.WriteString("Research the following topic:\n\n")
	fmt.Fprintf(&b, "**Topic**: %s\n\n", d.Subtopic)
	b.WriteString("**Research Questions to Answer**:\n")
	for i, q := range d.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\nPlease conduct thorough research to answer these questions.")
	return b.String()
}
