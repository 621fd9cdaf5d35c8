package orchestrator

import (
	"fmt"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/pkg/models"
)

// Supervisor tool names.
const (
	ToolReflect  = "reflect"
	ToolDelegate = "delegate"
	ToolComplete = "complete"
)

// supervisorPrompt takes the date, topic, scope, max concurrent researchers
// and max rounds.
const supervisorPrompt = `You are a research supervisor coordinating researchers. For context, today's date is %s.

Research Topic: %s
Research Scope: %s

<Task>
Analyze the research scope and decide how to delegate research to researchers.

For each researcher you want to start, call the delegate tool with:
- subtopic: a clear, focused area of research (string)
- questions: 2-4 specific research questions (a list of strings, never a single string)
- search_budget: the number of web searches for this researcher (integer, 2-5; 2-3 for simple subtopics, 4-5 for complex ones)

Findings of every researcher are returned to you as tool results and filed under /research/<subtopic>/findings.md.
When the findings answer the research scope comprehensively, call complete.
</Task>

<Scaling Rules>
- Comparisons: one researcher per item being compared.
- Complex multi-faceted topics: split into logical, distinct subtopics.
- Simple focused queries, lists or rankings: one researcher with comprehensive questions.
- Every researcher must have a DISTINCT, NON-OVERLAPPING subtopic.
</Scaling Rules>

<Available Tools>
1. **reflect(reflection)**: think through your plan or assess findings. Use it before delegating and after findings come back.
2. **delegate(subtopic, questions, search_budget)**: start a researcher on a subtopic.
3. **complete()**: signal that research is done. Delegations in the same message as complete are ignored.
</Available Tools>

<Hard Limits>
- At most %d delegate calls per message. Extra calls are refused.
- At most %d rounds of tool calls in total.
- Stop as soon as you can answer the research scope. Do not keep delegating for perfection.
</Hard Limits>`

var supervisorTools = []api.ToolSpec{
	{
		Name:        ToolReflect,
		Description: "Record a reflection on the research plan or on the findings so far.",
		Properties: map[string]interface{}{
			"reflection": map[string]interface{}{
				"type":        "string",
				"description": "Your reflection: what is covered, what is missing, what to do next.",
			},
		},
		Required: []string{"reflection"},
	},
	{
		Name:        ToolDelegate,
		Description: "Delegate a focused subtopic to a researcher that searches the web and returns compressed findings.",
		Properties: map[string]interface{}{
			"subtopic": map[string]interface{}{
				"type":        "string",
				"description": "The specific subtopic to research, distinct from other delegations.",
			},
			"questions": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"minItems":    models.MinQuestions,
				"maxItems":    models.MaxQuestions,
				"description": fmt.Sprintf("%d-%d specific research questions.", models.MinQuestions, models.MaxQuestions),
			},
			"search_budget": map[string]interface{}{
				"type":        "integer",
				"minimum":     models.MinSearchBudget,
				"maximum":     models.MaxSearchBudget,
				"description": "Maximum number of web searches for this researcher.",
			},
		},
		Required: []string{"subtopic", "questions", "search_budget"},
	},
	{
		Name:        ToolComplete,
		Description: "Signal that research is complete and the report can be written.",
		Properties:  map[string]interface{}{},
	},
}
