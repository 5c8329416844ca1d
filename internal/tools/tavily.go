package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/parley/internal/version"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// Tavily implements Searcher over the Tavily search API.
type Tavily struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTavily returns a Tavily searcher. An empty baseURL selects the public
// endpoint; a nil client selects a client with a 15s timeout.
func NewTavily(apiKey string, baseURL string, client *http.Client) *Tavily {
	if baseURL == "" {
		baseURL = defaultTavilyBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Tavily{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type tavilySearchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
}

type tavilySearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	body, err := json.Marshal(tavilySearchRequest{
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("tavily: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavily: API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return hits, nil
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
