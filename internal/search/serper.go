package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper searches Google results through serper.dev.
type Serper struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

// NewSerper creates a Serper searcher.
func NewSerper(apiKey string) *Serper {
	return &Serper{APIKey: apiKey, Endpoint: serperEndpoint}
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search implements Searcher.
func (s *Serper) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": maxResults})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serper request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := send(s.Client, req)
	if err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("serper", resp); err != nil {
		return nil, err
	}

	var raw serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding serper response: %w", err)
	}

	out := make([]Result, 0, len(raw.Organic))
	for _, it := range raw.Organic {
		out = append(out, Result{Title: it.Title, URL: it.Link, Content: it.Snippet})
	}
	return clip(out, maxResults), nil
}
