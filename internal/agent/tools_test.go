package agent

import (
	"encoding/json"
	"testing"
)

func TestParseSearchArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"valid", `{"query":"  solid state batteries "}`, "solid state batteries", false},
		{"empty query", `{"query":"   "}`, "", true},
		{"missing query", `{}`, "", true},
		{"not json", `query=go`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSearchArgs(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSearchArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseSearchArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseReflectArgs(t *testing.T) {
	got, err := parseReflectArgs(json.RawMessage(`{"reflection":" need pricing data "}`))
	if err != nil {
		t.Fatalf("parseReflectArgs() error = %v", err)
	}
	if got != "need pricing data" {
		t.Errorf("parseReflectArgs() = %q", got)
	}
	if _, err := parseReflectArgs(json.RawMessage(`[1]`)); err == nil {
		t.Error("expected error for non-object arguments")
	}
}

func TestResearcherTools(t *testing.T) {
	names := map[string]bool{}
	for _, spec := range researcherTools {
		names[spec.Name] = true
	}
	if !names[ToolWebSearch] || !names[ToolReflect] || len(names) != 2 {
		t.Errorf("researcher tools = %v", names)
	}
}
