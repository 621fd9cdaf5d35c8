package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave searches through the Brave Search API.
type Brave struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

// NewBrave creates a Brave searcher.
func NewBrave(apiKey string) *Brave {
	return &Brave{APIKey: apiKey, Endpoint: braveEndpoint}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Searcher.
func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	if maxResults > 0 {
		params.Set("count", strconv.Itoa(maxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := send(b.Client, req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("brave", resp); err != nil {
		return nil, err
	}

	var raw braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding brave response: %w", err)
	}

	out := make([]Result, 0, len(raw.Web.Results))
	for _, r := range raw.Web.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Content: r.Description})
	}
	return clip(out, maxResults), nil
}
