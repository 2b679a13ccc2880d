// Package scraper holds the page-fetching capability used by the site
// scrapers: an HTTP fetcher, a headless-browser fetcher and a retrying
// wrapper around either.
package scraper

import (
	"context"
	"fmt"
	"time"

	"merchant/config"
	"merchant/utils"
)

// Fetcher returns the raw content of the page at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// RetryFetcher retries transient failures of the wrapped Fetcher with
// exponential back-off.
type RetryFetcher struct {
	next  Fetcher
	retry *utils.RetryConfig
}

// NewRetryFetcher wraps next with retry.
func NewRetryFetcher(next Fetcher, retry *utils.RetryConfig) *RetryFetcher {
	return &RetryFetcher{next: next, retry: retry}
}

func (f *RetryFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.retry.Do(ctx, "fetch "+url, func() error {
		b, err := f.next.Fetch(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// Closer is implemented by fetchers that hold external resources.
type Closer interface {
	Close() error
}

// NewFromConfig builds the fetcher selected by cfg.FetchMode, wrapped with
// retries.
func NewFromConfig(cfg *config.Config, logger *utils.Logger) (Fetcher, error) {
	var base Fetcher
	switch cfg.FetchMode {
	case config.FetchHTTP, "":
		f, err := NewCollyFetcher(cfg.UserAgent, cfg.MaxConcurrency, 30*time.Second)
		if err != nil {
			return nil, err
		}
		base = f
	case config.FetchBrowser:
		base = NewBrowserFetcher(cfg.ChromeBin, cfg.UserAgent, logger)
	default:
		return nil, fmt.Errorf("unknown FETCH_MODE %q", cfg.FetchMode)
	}

	return &closingRetryFetcher{
		RetryFetcher: NewRetryFetcher(base, &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		}),
		base: base,
	}, nil
}

type closingRetryFetcher struct {
	*RetryFetcher
	base Fetcher
}

func (f *closingRetryFetcher) Close() error {
	if c, ok := f.base.(Closer); ok {
		return c.Close()
	}
	return nil
}
