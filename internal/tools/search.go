package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/rbright/parley/internal/conversation"
)

// SearchToolName is the model-facing name of the web search capability.
const SearchToolName = "web_search"

const (
	defaultSearchResults  = 5
	maxSearchResults      = 10
	defaultSearchAttempts = 4
	defaultSearchDelay    = 500 * time.Millisecond
	maxSearchDelay        = 8 * time.Second
)

// Hit is one search result.
type Hit struct {
	Title   string
	URL     string
	Content string
}

// Searcher runs a web search against a provider.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Hit, error)
}

// SearchOption configures a Search capability.
type SearchOption func(*Search)

// WithSearchRetry bounds rate-limit retries: attempts total tries starting
// from base delay, doubling with jitter.
func WithSearchRetry(attempts int, base time.Duration) SearchOption {
	return func(s *Search) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if base > 0 {
			s.baseDelay = base
		}
	}
}

// WithSearchRate throttles outgoing provider calls.
func WithSearchRate(perSecond float64) SearchOption {
	return func(s *Search) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithSearchDefaultResults sets the default max_results.
func WithSearchDefaultResults(n int) SearchOption {
	return func(s *Search) {
		if n > 0 {
			s.defaultResults = min(n, maxSearchResults)
		}
	}
}

// WithSearchLogger sets the logger used for retry diagnostics.
func WithSearchLogger(logger *slog.Logger) SearchOption {
	return func(s *Search) { s.logger = logger }
}

// Search is the web_search capability.
type Search struct {
	searcher       Searcher
	limiter        *rate.Limiter
	attempts       int
	baseDelay      time.Duration
	defaultResults int
	logger         *slog.Logger
}

func NewSearch(searcher Searcher, opts ...SearchOption) *Search {
	s := &Search{
		searcher:       searcher,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		attempts:       defaultSearchAttempts,
		baseDelay:      defaultSearchDelay,
		defaultResults: defaultSearchResults,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Search) Spec() Spec {
	return Spec{
		Name: SearchToolName,
		Description: "Search the web for current information. Use this for questions about recent events, " +
			"facts that may have changed, or anything you are not sure about.",
		Params: []Param{
			{Name: "query", Type: "string", Description: "The search query.", Required: true},
			{
				Name:        "max_results",
				Type:        "integer",
				Description: fmt.Sprintf("Maximum number of results to return (1-%d).", maxSearchResults),
				Default:     s.defaultResults,
			},
		},
	}
}

func (s *Search) Execute(ctx context.Context, input map[string]any) ([]conversation.Text, error) {
	query, err := requireString(input, "query")
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	maxResults := IntArg(input, "max_results", s.defaultResults)
	if maxResults < 1 {
		maxResults = 1
	}
	maxResults = min(maxResults, maxSearchResults)

	hits, err := s.search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return formatHits(query, hits), nil
}

func (s *Search) search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	backoff := retry.NewExponential(s.baseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(maxSearchDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(s.attempts-1), backoff)

	var (
		hits    []Hit
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		found, err := s.searcher.Search(ctx, query, maxResults)
		if err != nil {
			var limited *RateLimitedError
			if errors.As(err, &limited) {
				if s.logger != nil {
					s.logger.Warn("search rate limited", "attempt", attempt, "error", err.Error())
				}
				return retry.RetryableError(err)
			}
			return err
		}
		hits = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return hits, nil
}

func formatHits(query string, hits []Hit) []conversation.Text {
	if len(hits) == 0 {
		return []conversation.Text{{Value: fmt.Sprintf("No results found for %q.", query)}}
	}

	out := make([]conversation.Text, 0, len(hits))
	for _, hit := range hits {
		out = append(out, conversation.Text{
			Value: fmt.Sprintf("Title: %s\nLink: %s\nContent: %s", hit.Title, hit.URL, hit.Content),
		})
	}
	return out
}
