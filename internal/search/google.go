package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/fetch"
	"github.com/jonathan/research-orchestrator/internal/retry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultResultsPerQuery is how many hits each query keeps.
const DefaultResultsPerQuery = 3

// DefaultExcerptLength bounds page text used as an advanced snippet.
const DefaultExcerptLength = 1500

// PageSource returns page text for advanced-depth enrichment.
type PageSource interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// GoogleSearcher searches with the Google Programmable Search API.
type GoogleSearcher struct {
	svc           *customsearch.Service
	cx            string
	num           int
	pages         PageSource
	excerptLength int
	logger        *slog.Logger
}

// GoogleOption configures a GoogleSearcher.
type GoogleOption func(*GoogleSearcher)

// WithResultsPerQuery sets how many hits are requested per query (1-10).
func WithResultsPerQuery(n int) GoogleOption {
	return func(g *GoogleSearcher) {
		if n > 0 && n <= 10 {
			g.num = n
		}
	}
}

// WithPageSource enables advanced depth using pages.
func WithPageSource(pages PageSource) GoogleOption {
	return func(g *GoogleSearcher) { g.pages = pages }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GoogleOption {
	return func(g *GoogleSearcher) { g.logger = logger }
}

// NewGoogleSearcher creates a searcher for the given engine id.
func NewGoogleSearcher(ctx context.Context, apiKey, cx string, opts ...GoogleOption) (*GoogleSearcher, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("search API key and engine id are required")
	}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return newGoogleSearcher(svc, cx, opts...), nil
}

func newGoogleSearcher(svc *customsearch.Service, cx string, opts ...GoogleOption) *GoogleSearcher {
	g := &GoogleSearcher{
		svc:           svc,
		cx:            cx,
		num:           DefaultResultsPerQuery,
		excerptLength: DefaultExcerptLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Search runs query and returns deduplicated results.
func (g *GoogleSearcher) Search(ctx context.Context, query string, depth Depth) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, retry.Permanent(fmt.Errorf("empty search query"))
	}

	resp, err := g.svc.Cse.List().Cx(g.cx).Q(query).Num(int64(g.num)).Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(fmt.Errorf("search failed: %w", err))
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: strings.TrimSpace(item.Snippet),
		})
	}
	results = Dedupe(results)

	if depth == DepthAdvanced && g.pages != nil {
		g.enrich(ctx, results)
	}
	return results, nil
}

// enrich swaps each snippet for the page's main text. Pages that fail to
// load keep their snippet.
func (g *GoogleSearcher) enrich(ctx context.Context, results []Result) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i := range results {
		eg.Go(func() error {
			page, err := g.pages.Fetch(egCtx, results[i].URL)
			if err != nil {
				g.logger.Debug("page enrichment skipped", slog.String("url", results[i].URL), slog.String("error", err.Error()))
				return nil
			}
			if text := strings.TrimSpace(page.Text); len(text) > len(results[i].Snippet) {
				results[i].Snippet = fetch.Excerpt(text, g.excerptLength)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// classifyAPIError marks client errors other than 429 as permanent.
func classifyAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
