package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"merchant/utils"
)

// CollyFetcher fetches pages over plain HTTP. Every Fetch runs on a clone
// of one base collector, so the HTTP backend and its per-domain limits are
// shared between concurrent fetches.
type CollyFetcher struct {
	collector *colly.Collector
}

// NewCollyFetcher creates a CollyFetcher allowing at most parallelism
// concurrent requests per domain.
func NewCollyFetcher(userAgent string, parallelism int, timeout time.Duration) (*CollyFetcher, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: parallelism}); err != nil {
		return nil, fmt.Errorf("colly: limit rule: %w", err)
	}
	return &CollyFetcher{collector: c}, nil
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.collector.Clone()

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(url); err != nil {
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return nil, fmt.Errorf("GET %s: status %d: %w", url, status, utils.ErrPermanent)
		}
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return body, nil
}
