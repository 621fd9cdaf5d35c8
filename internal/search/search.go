// Package search provides web search backends for the researcher tool loop.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ShayCichocki/delve/internal/version"
)

// ErrUnsupportedProvider is returned by New for an unknown provider name.
var ErrUnsupportedProvider = errors.New("unsupported search provider")

// Result is a single search hit.
type Result struct {
	Title   string
	URL     string
	Content string
}

// Searcher runs a web query and returns at most maxResults hits.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string, maxResults int) ([]Result, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return f(ctx, query, maxResults)
}

// New returns the searcher for provider ("tavily", "serper" or "brave").
func New(provider, apiKey string) (Searcher, error) {
	switch provider {
	case "", "tavily":
		return NewTavily(apiKey), nil
	case "serper":
		return NewSerper(apiKey), nil
	case "brave":
		return NewBrave(apiKey), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}

// WithTimeout bounds each search by d.
func WithTimeout(s Searcher, d time.Duration) Searcher {
	if d <= 0 {
		return s
	}
	return SearcherFunc(func(ctx context.Context, query string, maxResults int) ([]Result, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return s.Search(ctx, query, maxResults)
	})
}

const separator = "--------------------------------------------------------------------------------"

// Format renders results as the text block handed back to the model.
func Format(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n\n", query)
	if len(results) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "--- SOURCE %d: %s ---\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n\n", r.URL)
		b.WriteString("CONTENT:\n")
		b.WriteString(r.Content)
		b.WriteString("\n")
		b.WriteString(separator)
		b.WriteString("\n\n")
	}
	return b.String()
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s search failed: status %d: %s", e.Provider, e.Code, e.Body)
}

func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func clip(results []Result, k int) []Result {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}

// send tags req with the delve User-Agent and sends it on c, or the default client.
func send(c *http.Client, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	if c == nil {
		c = http.DefaultClient
	}
	return c.Do(req)
}
