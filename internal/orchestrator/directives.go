package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/pkg/models"
)

// callKind classifies a supervisor tool call.
type callKind int

const (
	callMalformed callKind = iota
	callReflect
	callDelegate
	callComplete
)

// classifiedCall is a supervisor tool call after validation.
type classifiedCall struct {
	call       api.ToolCall
	kind       callKind
	directive  models.Directive
	reflection string
	// problem explains why a malformed call was refused.
	problem string
}

type delegateArgs struct {
	Subtopic     string          `json:"subtopic"`
	Questions    json.RawMessage `json:"questions"`
	SearchBudget json.RawMessage `json:"search_budget"`
}

// classify validates each call against the closed set of supervisor tools.
func classify(calls []api.ToolCall) []classifiedCall {
	out := make([]classifiedCall, len(calls))
	for i, call := range calls {
		out[i] = classifiedCall{call: call}
		switch call.Name {
		case ToolReflect:
			var args struct {
				Reflection string `json:"reflection"`
			}
			if len(call.Input) > 0 {
				if err := json.Unmarshal(call.Input, &args); err != nil {
					out[i].problem = fmt.Sprintf("invalid reflect arguments: %v", err)
					continue
				}
			}
			out[i].kind = callReflect
			out[i].reflection = strings.TrimSpace(args.Reflection)
		case ToolComplete:
			out[i].kind = callComplete
		case ToolDelegate:
			d, err := parseDirective(call.Input)
			if err != nil {
				out[i].problem = err.Error()
				continue
			}
			out[i].kind = callDelegate
			out[i].directive = d
		default:
			out[i].problem = fmt.Sprintf("unknown tool %q; available tools are %s, %s and %s",
				call.Name, ToolReflect, ToolDelegate, ToolComplete)
		}
	}
	return out
}

// parseDirective decodes delegate arguments strictly: questions must be a
// JSON list of strings and search_budget an integer.
func parseDirective(input json.RawMessage) (models.Directive, error) {
	var args delegateArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return models.Directive{}, fmt.Errorf("invalid delegate arguments: %v", err)
	}

	var questions []string
	raw := bytes.TrimSpace(args.Questions)
	if len(raw) == 0 || raw[0] != '[' {
		return models.Directive{}, fmt.Errorf("questions must be a list of strings, got %s", describeJSON(raw))
	}
	if err := json.Unmarshal(raw, &questions); err != nil {
		return models.Directive{}, fmt.Errorf("questions must be a list of strings: %v", err)
	}

	var budget int
	if err := json.Unmarshal(args.SearchBudget, &budget); err != nil {
		return models.Directive{}, fmt.Errorf("search_budget must be an integer, got %s", describeJSON(args.SearchBudget))
	}

	d := models.Directive{
		Subtopic:     strings.TrimSpace(args.Subtopic),
		Questions:    questions,
		SearchBudget: budget,
	}
	for i := range d.Questions {
		d.Questions[i] = strings.TrimSpace(d.Questions[i])
	}
	if err := d.Validate(); err != nil {
		return models.Directive{}, err
	}
	return d, nil
}

func describeJSON(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "nothing"
	}
	if len(raw) > 60 {
		return string(raw[:60]) + "..."
	}
	return string(raw)
}
