package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Page is the readable text of a fetched URL.
type Page struct {
	URL  string
	Text string
	Kind SourceKind
}

// PageStore persists fetched pages and failed fetches across processes.
// *db.DB implements it.
type PageStore interface {
	GetFreshPage(ctx context.Context, pageURL string, maxAge time.Duration) (*Page, error)
	UpsertPage(ctx context.Context, page *Page) error
	RecordFailedFetch(ctx context.Context, pageURL string, httpStatus int, errorMsg string) error
	ShouldSkipURL(ctx context.Context, pageURL string) (bool, string, error)
}

// ErrSkipped is the cause of fetch errors for URLs still in failure backoff.
var ErrSkipped = errors.New("skipped after earlier failure")

// PageFetcherConfig configures a PageFetcher.
type PageFetcherConfig struct {
	Options        *Options
	CacheSize      int
	CacheTTL       time.Duration
	BrowserEnabled bool
	BrowserTimeout time.Duration

	// Store is optional. StoreMaxAge bounds how old a stored page may be.
	Store       PageStore
	StoreMaxAge time.Duration
}

// DefaultPageFetcherConfig returns sensible defaults.
func DefaultPageFetcherConfig() PageFetcherConfig {
	return PageFetcherConfig{
		Options:        DefaultOptions(),
		CacheSize:      512,
		CacheTTL:       time.Hour,
		BrowserTimeout: 30 * time.Second,
		StoreMaxAge:    24 * time.Hour,
	}
}

// PageFetcher fetches pages and extracts their main text. Results are
// cached by URL, and concurrent requests for the same URL share one fetch.
type PageFetcher struct {
	cfg    PageFetcherConfig
	cache  *expirable.LRU[string, *Page]
	group  singleflight.Group
	logger *slog.Logger

	// render is swapped in tests
	render func(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (string, error)
}

// NewPageFetcher creates a PageFetcher.
func NewPageFetcher(cfg PageFetcherConfig, logger *slog.Logger) *PageFetcher {
	if cfg.Options == nil {
		cfg.Options = DefaultOptions()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.BrowserTimeout <= 0 {
		cfg.BrowserTimeout = 30 * time.Second
	}
	if cfg.StoreMaxAge <= 0 {
		cfg.StoreMaxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PageFetcher{
		cfg:    cfg,
		cache:  expirable.NewLRU[string, *Page](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger,
		render: WithBrowser,
	}
}

// Fetch returns the main text of urlStr.
func (f *PageFetcher) Fetch(ctx context.Context, urlStr string) (*Page, error) {
	if page, ok := f.cache.Get(urlStr); ok {
		return page, nil
	}

	v, err, _ := f.group.Do(urlStr, func() (any, error) {
		page, err := f.fetchStored(ctx, urlStr)
		if err != nil {
			return nil, err
		}
		f.cache.Add(urlStr, page)
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

// fetchStored consults the page store around a network fetch. Store
// failures are logged and never fail the fetch.
func (f *PageFetcher) fetchStored(ctx context.Context, urlStr string) (*Page, error) {
	store := f.cfg.Store
	if store == nil {
		return f.fetch(ctx, urlStr)
	}

	skip, reason, err := store.ShouldSkipURL(ctx, urlStr)
	if err != nil {
		f.logger.Warn("page store lookup failed", slog.String("url", urlStr), slog.String("error", err.Error()))
	} else if skip {
		return nil, &Error{URL: urlStr, Message: reason, Cause: ErrSkipped}
	}

	if page, err := store.GetFreshPage(ctx, urlStr, f.cfg.StoreMaxAge); err != nil {
		f.logger.Warn("page store lookup failed", slog.String("url", urlStr), slog.String("error", err.Error()))
	} else if page != nil {
		return page, nil
	}

	page, err := f.fetch(ctx, urlStr)
	if err != nil {
		if ctx.Err() == nil {
			status := 0
			var fe *Error
			if errors.As(err, &fe) {
				status = fe.StatusCode
			}
			if rerr := store.RecordFailedFetch(ctx, urlStr, status, err.Error()); rerr != nil {
				f.logger.Warn("failed to record fetch failure", slog.String("url", urlStr), slog.String("error", rerr.Error()))
			}
		}
		return nil, err
	}

	if err := store.UpsertPage(ctx, page); err != nil {
		f.logger.Warn("failed to store page", slog.String("url", urlStr), slog.String("error", err.Error()))
	}
	return page, nil
}

func (f *PageFetcher) fetch(ctx context.Context, urlStr string) (*Page, error) {
	kind := DetectSourceKind(urlStr)
	selectors := SourceContentSelectors(kind)
	noise := SourceNoiseSelectors(kind)

	result, err := URL(ctx, urlStr, f.cfg.Options)
	if err != nil {
		return nil, err
	}

	text, err := ExtractMainText(result.HTML, selectors, noise...)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to extract text", Cause: err}
	}

	if f.cfg.BrowserEnabled && ShouldUseBrowser(text) {
		html, berr := f.render(ctx, urlStr, f.cfg.BrowserTimeout, f.logger)
		if berr != nil {
			f.logger.Warn("browser fallback failed", slog.String("url", urlStr), slog.String("error", berr.Error()))
		} else if rendered, xerr := ExtractMainText(html, selectors, noise...); xerr == nil && len(rendered) > len(text) {
			text = rendered
		}
	}

	return &Page{URL: urlStr, Text: text, Kind: kind}, nil
}
