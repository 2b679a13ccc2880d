// Package scheduler runs ingestion and linking on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"merchant/models"
	"merchant/services"
	"merchant/utils"
)

// Ingester scrapes a list of categories into the store.
type Ingester interface {
	RunAll(ctx context.Context, categories []string) ([]*models.RunSummary, error)
}

// Linker re-links listings to items after new ads arrive.
type Linker interface {
	Link(ctx context.Context) (services.LinkResult, error)
}

// Scheduler wraps robfig/cron and manages the scrape cycle.
type Scheduler struct {
	cron       *cron.Cron
	ingester   Ingester
	linker     Linker
	categories []string
	spec       string
	logger     *utils.Logger
	wg         sync.WaitGroup
}

// New creates a Scheduler that fires on spec, e.g. "@every 6h". linker may
// be nil.
func New(spec string, categories []string, ingester Ingester, linker Linker, logger *utils.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ingester:   ingester,
		linker:     linker,
		categories: categories,
		spec:       spec,
		logger:     logger,
	}
}

// Start registers the job and starts the scheduler. One cycle also runs
// immediately so the store is filled without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.categories) == 0 {
		return fmt.Errorf("scheduler: no categories to scrape")
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("[scheduler] Cron started, spec: %s, categories: %v", s.spec, s.categories)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
	}()
	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("[scheduler] Cron stopped")
}

// RunOnce ingests every category, then links listings to items.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Info("[scheduler] Cycle started")

	runs, err := s.ingester.RunAll(ctx, s.categories)
	if err != nil {
		s.logger.Warn("[scheduler] Ingestion finished with errors: %v", err)
	}
	if ctx.Err() != nil {
		s.logger.Warn("[scheduler] Cycle cancelled after %d runs", len(runs))
		return
	}

	if s.linker != nil {
		if _, err := s.linker.Link(ctx); err != nil {
			s.logger.Error("[scheduler] Linking failed: %v", err)
		}
	}

	s.logger.Info("[scheduler] Cycle complete: %d runs", len(runs))
}
