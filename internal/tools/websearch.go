package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebSearchTool is the agent tool name served by [WebSearch].
const WebSearchTool = "web_search"

const defaultTavilyURL = "https://api.tavily.com"

// SearchOption configures a [WebSearch].
type SearchOption func(*WebSearch)

// WithSearchBaseURL overrides the Tavily endpoint.
func WithSearchBaseURL(u string) SearchOption {
	return func(w *WebSearch) { w.baseURL = strings.TrimRight(u, "/") }
}

// WithSearchHTTPClient sets the HTTP client.
func WithSearchHTTPClient(c *http.Client) SearchOption {
	return func(w *WebSearch) { w.client = c }
}

// WithMaxResults caps the number of hits per query.
func WithMaxResults(n int) SearchOption {
	return func(w *WebSearch) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// WebSearch answers web_search calls through the Tavily search API.
type WebSearch struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxResults int
}

// NewWebSearch returns a search backend using apiKey.
func NewWebSearch(apiKey string, opts ...SearchOption) *WebSearch {
	w := &WebSearch{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultTavilyURL,
		client:     &http.Client{Timeout: 20 * time.Second},
		maxResults: 5,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// SearchHit is one search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Handler returns the builtin handler for [WebSearchTool].
func (w *WebSearch) Handler() Handler {
	return Builtin(WebSearchTool, w.call)
}

func (w *WebSearch) call(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	hits, err := w.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "results": hits}, nil
}

// Search runs one basic-depth query.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchHit, error) {
	if w.apiKey == "" {
		return nil, errors.New("web search: api key is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("web search: query is required")
	}

	body, err := json.Marshal(map[string]any{
		"query":        query,
		"search_depth": "basic",
		"max_results":  w.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("web search: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("web search: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("web search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("web search: decode response: %w", err)
	}
	hits := make([]SearchHit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return hits, nil
}
