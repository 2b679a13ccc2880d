package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"merchant/classifier"
	"merchant/config"
	"merchant/models"
	"merchant/scheduler"
	"merchant/scraper"
	"merchant/scraper/craigslist"
	"merchant/services"
	"merchant/storage"
	"merchant/utils"
)

const usage = `usage: merchant <command> [flags]

commands:
  init      create the schema, sentinel items and categories
  scrape    scrape categories into the store
  classify  propose new item types from unclassified titles
  link      assign listings to items by title
  report    print a market report for one category and item
  daemon    scrape and link on SCRAPE_SCHEDULE until interrupted
`

// runLockTTL bounds how long a crashed run can block its category.
const runLockTTL = 2 * time.Hour

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "init":
		err = runInit(ctx, cfg, logger)
	case "scrape":
		err = runScrape(ctx, cfg, logger, args)
	case "classify":
		err = runClassify(ctx, cfg, logger, args)
	case "link":
		err = runLink(ctx, cfg, logger)
	case "report":
		err = runReport(ctx, cfg, logger, args)
	case "daemon":
		err = runDaemon(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		stop()
		os.Exit(2)
	}
	stop()

	if err != nil {
		logger.Error("%s failed: %v", os.Args[1], err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *utils.Logger) (*storage.PostgresStore, error) {
	store, err := storage.Open(cfg.DSN(), 5, logger)
	if err != nil {
		logger.Error("Make sure PostgreSQL is running: docker compose up -d")
		return nil, err
	}
	return store, nil
}

func runInit(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	codes, err := config.LoadCategoryCodes(cfg.CategoryCodesPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Initialize(ctx, codes); err != nil {
		if errors.Is(err, storage.ErrAlreadyInitialized) {
			logger.Warn("Database already initialized, nothing to do")
		}
		return err
	}
	logger.Info("Database initialized with %d categories", len(codes.Categories))
	return nil
}

// pipeline holds everything a scrape run needs; close releases it.
type pipeline struct {
	ingester   *services.Ingester
	store      *storage.PostgresStore
	categories []string
	close      func()
}

func newPipeline(ctx context.Context, cfg *config.Config, logger *utils.Logger, categories []string) (*pipeline, error) {
	codes, err := config.LoadCategoryCodes(cfg.CategoryCodesPath)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		categories = cfg.ScrapeCategories
	}
	if len(categories) == 0 {
		categories = codes.Names()
	}
	for _, c := range categories {
		if _, err := codes.Path(c); err != nil {
			return nil, err
		}
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	closers := []func(){func() { store.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	fetcher, err := scraper.NewFromConfig(cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	if c, ok := fetcher.(scraper.Closer); ok {
		closers = append(closers, func() { c.Close() })
	}

	paginator := craigslist.NewPaginator(cfg, codes, fetcher, logger)
	ingester := services.NewIngester(paginator, store, store, logger)

	if cfg.RedisURL != "" {
		rdb, err := storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { rdb.Close() })
		ingester.WithLocker(storage.NewRunLock(rdb, runLockTTL))
		logger.Info("Run lock enabled via Redis")
	}

	if cfg.CSVOutputPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { csvWriter.Close() })
		ingester.WithRawWriter(csvWriter)
		logger.Info("Raw listings will be appended to %s", cfg.CSVOutputPath)
	}

	return &pipeline{ingester: ingester, store: store, categories: categories, close: closeAll}, nil
}

func runScrape(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	categories := fs.String("categories", "", "comma-separated categories (default SCRAPE_CATEGORIES or all)")
	link := fs.Bool("link", false, "link listings to items after scraping")
	fs.Parse(args)

	p, err := newPipeline(ctx, cfg, logger, splitList(*categories))
	if err != nil {
		return err
	}
	defer p.close()

	logger.Info("=== Merchant scrape starting ===")
	logger.Info("Config: base %s | area %s | concurrency %d | rate %dms | fetch %s",
		cfg.BaseURL, cfg.Area, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.FetchMode)

	runs, err := p.ingester.RunAll(ctx, p.categories)
	printRuns(runs)

	if *link && ctx.Err() == nil {
		if _, lerr := services.NewLinker(p.store, logger).Link(ctx); lerr != nil {
			err = errors.Join(err, lerr)
		}
	}
	return err
}

func runClassify(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	accept := fs.String("accept", "", "comma-separated names to accept without prompting")
	limit := fs.Int("limit", 0, "maximum number of titles to read (0 = all)")
	fs.Parse(args)

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	titles, err := store.UnclassifiedTitles(ctx, *limit)
	if err != nil {
		return err
	}
	if len(titles) == 0 {
		logger.Info("No unclassified listings")
		return nil
	}

	var decider classifier.Decider = classifier.NewPromptDecider(os.Stdin, os.Stdout)
	if *accept != "" {
		decider = classifier.AcceptOnly(splitList(*accept)...)
	}

	logger.Info("Tokenizing %d title strings...", len(titles))
	c := classifier.New(classifier.NewProseTagger(), store, logger)
	accepted, err := c.ProposeItems(ctx, titles, decider)
	if err != nil {
		return err
	}
	logger.Info("Item table updated: %v", accepted)
	logger.Info("Run 'merchant link' to assign listings to the new items")
	return nil
}

func runLink(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = services.NewLinker(store, logger).Link(ctx)
	return err
}

func runReport(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	category := fs.String("category", "", "category name (required)")
	item := fs.String("item", "", "item name (required)")
	minPrice := fs.Int("min-price", cfg.MinPrice, "ignore asks below this price")
	fs.Parse(args)

	if *category == "" || *item == "" {
		fs.Usage()
		return errors.New("report: -category and -item are required")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := services.NewInsightService(store, logger)
	report, err := svc.Report(ctx, *category, *item, *minPrice)
	if err != nil {
		return err
	}
	svc.Print(os.Stdout, report)
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	p, err := newPipeline(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer p.close()

	sched := scheduler.New(cfg.ScrapeSchedule, p.categories, p.ingester, services.NewLinker(p.store, logger), logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	sched.Stop()
	return nil
}

func printRuns(runs []*models.RunSummary) {
	if len(runs) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("  %-14s %6s %6s %7s %8s %8s %9s\n", "category", "ads", "pages", "failed", "inserted", "updated", "malformed")
	for _, r := range runs {
		fmt.Printf("  %-14s %6d %6d %7d %8d %8d %9d\n",
			r.Category, r.TotalCount, r.Pages, r.PagesFailed, r.Inserted, r.Updated, r.RowsMalformed)
	}
	fmt.Println()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
