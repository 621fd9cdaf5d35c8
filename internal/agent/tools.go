package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/delve/internal/api"
)

// Researcher tool names.
const (
	ToolWebSearch = "web_search"
	ToolReflect   = "reflect"
)

var researcherTools = []api.ToolSpec{
	{
		Name:        ToolWebSearch,
		Description: "Search the web for information on a query. Returns numbered sources with their content.",
		Properties: map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
		},
		Required: []string{"query"},
	},
	{
		Name:        ToolReflect,
		Description: "Record a reflection on research progress: what was found, what is missing, and whether to keep searching.",
		Properties: map[string]interface{}{
			"reflection": map[string]interface{}{
				"type":        "string",
				"description": "Your reflection on the research so far",
			},
		},
		Required: []string{"reflection"},
	},
}

type searchArgs struct {
	Query string `json:"query"`
}

type reflectArgs struct {
	Reflection string `json:"reflection"`
}

func parseSearchArgs(raw json.RawMessage) (string, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid web_search arguments: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", fmt.Errorf("web_search requires a non-empty query")
	}
	return query, nil
}

func parseReflectArgs(raw json.RawMessage) (string, error) {
	var args reflectArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid reflect arguments: %w", err)
	}
	return strings.TrimSpace(args.Reflection), nil
}
