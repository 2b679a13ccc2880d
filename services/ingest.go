package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"merchant/models"
	"merchant/scraper/craigslist"
	"merchant/storage"
	"merchant/utils"
)

// CategoryScraper collects every result page of one category, handing each
// page to emit in page order as soon as it is available.
type CategoryScraper interface {
	StreamCategory(ctx context.Context, category string, emit craigslist.PageFunc) (*craigslist.CategoryScrape, error)
}

// Ingester runs one scrape of a category into the listing store.
type Ingester struct {
	scraper CategoryScraper
	store   storage.ListingUpserter
	runs    storage.RunRecorder
	locker  storage.Locker
	raw     storage.RawListingWriter
	logger  *utils.Logger
	now     func() time.Time
}

// NewIngester creates an Ingester. runs may be nil when run summaries are
// not persisted.
func NewIngester(scraper CategoryScraper, store storage.ListingUpserter, runs storage.RunRecorder, logger *utils.Logger) *Ingester {
	return &Ingester{
		scraper: scraper,
		store:   store,
		runs:    runs,
		locker:  storage.NopLocker{},
		logger:  logger,
		now:     time.Now,
	}
}

// WithLocker guards every run with l.
func (in *Ingester) WithLocker(l storage.Locker) *Ingester {
	in.locker = l
	return in
}

// WithRawWriter appends every committed page's records to w.
func (in *Ingester) WithRawWriter(w storage.RawListingWriter) *Ingester {
	in.raw = w
	return in
}

// Run scrapes category and upserts each successful page as its own
// transaction, in page order, while later pages are still being fetched.
// The whole run shares one observation time. A store error or cancellation
// stops the run; the returned summary then covers the pages committed so far.
func (in *Ingester) Run(ctx context.Context, category string) (*models.RunSummary, error) {
	release, err := in.locker.Acquire(ctx, category)
	if err != nil {
		return nil, err
	}
	defer release()

	// PostgreSQL keeps microseconds; truncating keeps replays comparable.
	started := in.now().UTC().Truncate(time.Microsecond)
	run := models.NewRunSummary(category, started)
	in.logger.Info("[ingest] Run %s: %s", run.ID, category)

	scrape, runErr := in.scraper.StreamCategory(ctx, category, func(ctx context.Context, page craigslist.PageResult) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := in.store.Upsert(ctx, page.Listings, started)
		if err != nil {
			return fmt.Errorf("upsert page %d: %w", page.Number, err)
		}
		run.Add(res)
		in.logger.Debug("[ingest] %s page %d: %d inserted, %d updated, %d rejected",
			category, page.Number, res.Inserted, res.Updated, res.Rejected)

		if in.raw != nil {
			if err := in.raw.WriteRaw(page.Listings, started); err != nil {
				in.logger.Warn("[ingest] Raw export of page %d failed: %v", page.Number, err)
			}
		}
		return nil
	})
	if scrape == nil {
		return nil, fmt.Errorf("scrape %s: %w", category, runErr)
	}
	if runErr == nil {
		// Pages cut short by cancellation are failures, not an error.
		runErr = ctx.Err()
	}
	run.TotalCount = scrape.TotalCount
	run.Pages = scrape.PageCount()
	run.PagesFailed = len(scrape.Failures)
	run.RowsMalformed = scrape.MalformedCount()
	run.FinishedAt = in.now().UTC().Truncate(time.Microsecond)

	if in.runs != nil {
		if err := in.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			in.logger.Warn("[ingest] Could not record run %s: %v", run.ID, err)
		}
	}

	in.logger.Info("[ingest] %s: %d pages (%d failed), %d inserted, %d updated, %d rejected, %d malformed rows",
		category, run.Pages, run.PagesFailed, run.Inserted, run.Updated, run.Rejected, run.RowsMalformed)
	return run, runErr
}

// RunAll ingests each category in turn. A failing category is logged and
// does not stop the others; cancellation does.
func (in *Ingester) RunAll(ctx context.Context, categories []string) ([]*models.RunSummary, error) {
	var (
		runs []*models.RunSummary
		errs []error
	)
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		run, err := in.Run(ctx, category)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			in.logger.Error("[ingest] %s failed: %v", category, err)
			errs = append(errs, fmt.Errorf("%s: %w", category, err))
		}
	}
	return runs, errors.Join(errs...)
}
