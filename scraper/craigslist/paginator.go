// Package craigslist scrapes the result pages of one marketplace category:
// the Paginator walks every page offset and the Extractor turns each page
// into raw listing records.
package craigslist

import (
	"context"
	"fmt"
	"strconv"

	"merchant/config"
	"merchant/models"
	"merchant/scraper"
	"merchant/utils"
)

// PageSize is the number of ads the site serves per result page.
const PageSize = 120

// ErrUnknownCategory is returned for a category missing from the code map.
var ErrUnknownCategory = config.ErrUnknownCategory

// PageCount returns how many result pages hold total ads.
func PageCount(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + PageSize - 1) / PageSize
}

// PageResult is one successfully fetched and parsed result page.
type PageResult struct {
	Number    int
	Offset    int
	URL       string
	Listings  []*models.RawListing
	Malformed []MalformedRow
}

// PageFailure is a result page that could not be fetched or parsed.
type PageFailure struct {
	Number int
	Offset int
	URL    string
	Err    error
}

// CategoryScrape is the outcome of scraping every page of one category.
type CategoryScrape struct {
	Category   string
	TotalCount int
	// Pages holds the successful pages in offset order.
	Pages    []PageResult
	Failures []PageFailure
	// Duplicates counts ads seen again on a later page of the same run.
	Duplicates int
}

// PageCount is the number of pages attempted.
func (s *CategoryScrape) PageCount() int {
	return len(s.Pages) + len(s.Failures)
}

// MalformedCount is the number of dropped rows over all pages.
func (s *CategoryScrape) MalformedCount() int {
	n := 0
	for _, p := range s.Pages {
		n += len(p.Malformed)
	}
	return n
}

// Listings concatenates the records of all successful pages in page order.
func (s *CategoryScrape) Listings() []*models.RawListing {
	var out []*models.RawListing
	for _, p := range s.Pages {
		out = append(out, p.Listings...)
	}
	return out
}

// Paginator drives the Extractor across every result page of a category.
type Paginator struct {
	fetcher     scraper.Fetcher
	codes       *config.CategoryCodes
	baseURL     string
	area        string
	maxWorkers  int
	rateLimitMs int
	logger      *utils.Logger
}

// NewPaginator creates a Paginator from the process configuration.
func NewPaginator(cfg *config.Config, codes *config.CategoryCodes, fetcher scraper.Fetcher, logger *utils.Logger) *Paginator {
	return &Paginator{
		fetcher:     fetcher,
		codes:       codes,
		baseURL:     cfg.BaseURL,
		area:        cfg.Area,
		maxWorkers:  cfg.MaxConcurrency,
		rateLimitMs: cfg.RateLimitMs,
		logger:      logger,
	}
}

// PageFunc receives each successful result page, in page order, as soon as
// it and every page before it have been fetched. A non-nil error stops the
// scrape.
type PageFunc func(ctx context.Context, page PageResult) error

// ScrapeCategory fetches the landing page of category to learn the ad
// count, then fetches and extracts every result page. A failing result
// page is recorded in Failures and does not stop the others; only an
// unknown category or an unusable landing page is returned as an error.
func (p *Paginator) ScrapeCategory(ctx context.Context, category string) (*CategoryScrape, error) {
	return p.StreamCategory(ctx, category, nil)
}

// StreamCategory is ScrapeCategory with emit called for each page while the
// remaining pages are still being fetched. When emit fails, pages not yet
// started are abandoned and the partial scrape is returned with emit's
// error. A nil scrape means the category itself could not be scraped.
func (p *Paginator) StreamCategory(ctx context.Context, category string, emit PageFunc) (*CategoryScrape, error) {
	path, err := p.codes.Path(category)
	if err != nil {
		return nil, err
	}
	extractor, err := NewExtractor(p.baseURL, p.area, category)
	if err != nil {
		return nil, err
	}

	pool := utils.NewWorkerPool(p.maxWorkers, p.rateLimitMs)
	categoryURL := p.baseURL + path

	var (
		landing    []byte
		landingErr error
	)
	if !pool.Submit(ctx, func(ctx context.Context) {
		landing, landingErr = p.fetcher.Fetch(ctx, categoryURL)
	}) {
		return nil, ctx.Err()
	}
	pool.Wait()
	if landingErr != nil {
		return nil, fmt.Errorf("landing page %s: %w", categoryURL, landingErr)
	}

	total, err := TotalCount(landing)
	if err != nil {
		return nil, fmt.Errorf("landing page %s: %w", categoryURL, err)
	}
	pages := PageCount(total)
	p.logger.Info("[paginator] %s: %d ads across %d pages", category, total, pages)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each index is written by exactly one job and read only after it
	// arrives on done.
	results := make([]*PageResult, pages)
	failures := make([]*PageFailure, pages)
	done := make(chan int, pages)

	go func() {
		for i := 0; i < pages; i++ {
			num, offset := i+1, i*PageSize
			pageURL := categoryURL + "?s=" + strconv.Itoa(offset)

			submitted := pool.Submit(ctx, func(ctx context.Context) {
				res, err := p.scrapePage(ctx, extractor, pageURL)
				if err != nil {
					p.logger.Warn("[paginator] %s page %d (%s) skipped: %v", category, num, pageURL, err)
					failures[i] = &PageFailure{Number: num, Offset: offset, URL: pageURL, Err: err}
				} else {
					res.Number, res.Offset = num, offset
					results[i] = res
				}
				done <- i
			})
			if !submitted {
				failures[i] = &PageFailure{Number: num, Offset: offset, URL: pageURL, Err: ctx.Err()}
				done <- i
			}
		}
		pool.Wait()
		close(done)
	}()

	out := &CategoryScrape{Category: category, TotalCount: total}
	seen := utils.NewCIDSet()
	ready := make([]bool, pages)
	next := 0
	var emitErr error

	for i := range done {
		ready[i] = true
		for ; next < pages && ready[next]; next++ {
			if f := failures[next]; f != nil {
				out.Failures = append(out.Failures, *f)
				continue
			}
			res := results[next]
			unique := res.Listings[:0]
			for _, l := range res.Listings {
				if !seen.Add(l.CID) {
					out.Duplicates++
					continue
				}
				unique = append(unique, l)
			}
			res.Listings = unique
			out.Pages = append(out.Pages, *res)

			if emit == nil || emitErr != nil {
				continue
			}
			if err := emit(ctx, *res); err != nil {
				p.logger.Warn("[paginator] %s: stopping after page %d: %v", category, res.Number, err)
				emitErr = err
				cancel()
			}
		}
	}

	p.logger.Info("[paginator] %s done: %d listings, %d pages failed, %d rows malformed, %d repeats",
		category, seen.Size(), len(out.Failures), out.MalformedCount(), out.Duplicates)
	return out, emitErr
}

func (p *Paginator) scrapePage(ctx context.Context, extractor *Extractor, pageURL string) (*PageResult, error) {
	body, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	listings, malformed, err := extractor.Extract(body)
	if err != nil {
		return nil, err
	}
	for _, m := range malformed {
		p.logger.Warn("[paginator] %s: dropped %s", pageURL, m)
	}
	return &PageResult{URL: pageURL, Listings: listings, Malformed: malformed}, nil
}
