package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/delve/internal/api"
)

func TestDraftScope(t *testing.T) {
	var got api.Request
	gen := api.GeneratorFunc(func(ctx context.Context, req api.Request) (*api.Response, error) {
		got = req
		return &api.Response{Text: "Scope: Investigate how AI coding tools changed junior hiring in 2024-2025."}, nil
	})
	now := func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) }

	scope, err := DraftScope(context.Background(), gen, "  AI and software jobs ", Options{Now: now})
	if err != nil {
		t.Fatalf("DraftScope() error = %v", err)
	}
	if scope != "Investigate how AI coding tools changed junior hiring in 2024-2025." {
		t.Errorf("scope = %q", scope)
	}
	if !strings.Contains(got.System, "Current date: Fri Mar 14, 2025") {
		t.Error("system prompt should carry the current date")
	}
	if len(got.Turns) != 1 || got.Turns[0].Text != "Research topic: AI and software jobs" {
		t.Errorf("turns = %+v", got.Turns)
	}
	if len(got.Tools) != 0 {
		t.Error("scope drafting should not offer tools")
	}
}

func TestDraftScope_Errors(t *testing.T) {
	failing := api.GeneratorFunc(func(ctx context.Context, req api.Request) (*api.Response, error) {
		return nil, errors.New("overloaded")
	})
	blank := api.GeneratorFunc(func(ctx context.Context, req api.Request) (*api.Response, error) {
		return &api.Response{Text: "  Scope:  "}, nil
	})

	tests := []struct {
		name  string
		gen   api.Generator
		topic string
	}{
		{"empty topic", blank, " "},
		{"nil generator", nil, "topic"},
		{"generator failure", failing, "topic"},
		{"blank answer", blank, "topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DraftScope(context.Background(), tt.gen, tt.topic); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := DraftScope(context.Background(), blank, "topic"); !errors.Is(err, ErrEmptyScope) {
		t.Errorf("blank answer error = %v, want ErrEmptyScope", err)
	}
}

func TestCleanScope(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain scope", "plain scope"},
		{"research scope: Focus on X", "Focus on X"},
		{"**Scope:** Focus on Y", "Focus on Y"},
		{"\"Quoted scope\"", "Quoted scope"},
		{"\n\n  spaced  \n", "spaced"},
	}
	for _, tt := range tests {
		if got := cleanScope(tt.in); got != tt.want {
			t.Errorf("cleanScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
