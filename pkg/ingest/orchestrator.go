package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/Sternrassler/whatsnews-mirror/pkg/pagination"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Run modes recorded in reports.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Fetcher reads the upstream feed.
type Fetcher interface {
	Count(ctx context.Context, p feed.Partition) (int, error)
	FetchPage(ctx context.Context, d feed.PageDescriptor) (*feed.Page, error)
}

// Config holds orchestrator configuration.
type Config struct {
	// Partitions are mirrored by Run.
	Partitions []feed.Partition

	// PageSize is the number of items per page.
	PageSize int

	// MaxConcurrentPages bounds in-flight page fetches.
	MaxConcurrentPages int

	// MaxConcurrentItems bounds in-flight item upserts. Size it to the
	// connection pool, since every upsert holds one connection.
	MaxConcurrentItems int

	// ErrorMode selects fail-fast or settle-all joins.
	ErrorMode ErrorMode

	// MaxCatchUpPages stops CatchUp after this many pages. 0 means no limit.
	MaxCatchUpPages int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:           100,
		MaxConcurrentPages: 8,
		MaxConcurrentItems: 10,
		ErrorMode:          ErrorModeFailFast,
		MaxCatchUpPages:    50,
	}
}

// Orchestrator fans out partitions, pages and items and joins them bottom-up.
type Orchestrator struct {
	fetcher  Fetcher
	planner  *pagination.Planner
	executor *Executor
	config   Config
	pages    *semaphore.Weighted
	items    *semaphore.Weighted
	logger   zerolog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(fetcher Fetcher, executor *Executor, cfg Config, logger zerolog.Logger) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	defaults := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.MaxConcurrentPages <= 0 {
		cfg.MaxConcurrentPages = defaults.MaxConcurrentPages
	}
	if cfg.MaxConcurrentItems <= 0 {
		cfg.MaxConcurrentItems = defaults.MaxConcurrentItems
	}
	mode, err := ParseErrorMode(string(cfg.ErrorMode))
	if err != nil {
		return nil, err
	}
	cfg.ErrorMode = mode

	planCfg := pagination.DefaultConfig()
	planCfg.PageSize = cfg.PageSize
	planner, err := pagination.NewPlanner(fetcher, planCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create planner: %w", err)
	}

	return &Orchestrator{
		fetcher:  fetcher,
		planner:  planner,
		executor: executor,
		config:   cfg,
		pages:    semaphore.NewWeighted(int64(cfg.MaxConcurrentPages)),
		items:    semaphore.NewWeighted(int64(cfg.MaxConcurrentItems)),
		logger:   logger,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Run mirrors every configured partition. It succeeds only if every
// partition, page and item completes. Items committed before a failure stay
// committed. In fail-fast mode a failure stops new fetches and upserts, while
// upserts already holding a connection run to completion under ctx.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	runID := runIDFrom(ctx)
	startedAt := time.Now()
	logger := o.logger.With().Str("run_id", runID).Logger()
	counts := &tally{}

	logger.Info().
		Int("partitions", len(o.config.Partitions)).
		Str("error_mode", string(o.config.ErrorMode)).
		Msg("Run started")

	g, gctx := newGroup(ctx, o.config.ErrorMode)
	for _, partition := range o.config.Partitions {
		g.Go(func() error {
			return o.runPartition(gctx, ctx, runID, partition, counts, logger)
		})
	}
	err := g.Wait()

	report := counts.report(runID, ModeFull, startedAt)
	o.finish(report, err, logger)
	return report, err
}

func (o *Orchestrator) runPartition(ctx, commitCtx context.Context, runID string, partition feed.Partition, counts *tally, logger zerolog.Logger) error {
	plan, err := o.planner.Plan(ctx, partition)
	if err != nil {
		return fmt.Errorf("partition %s: %w", partition, err)
	}
	if plan.Empty() {
		counts.partitions.Add(1)
		return nil
	}

	g, gctx := newGroup(ctx, o.config.ErrorMode)
	for _, d := range plan.Pages {
		g.Go(func() error {
			return o.runPage(gctx, commitCtx, runID, d, counts, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("partition %s: %w", partition, err)
	}

	counts.partitions.Add(1)
	logger.Info().
		Str("partition", partition.String()).
		Int("total_hits", plan.TotalHits).
		Msg("Partition complete")
	return nil
}

func (o *Orchestrator) runPage(ctx, commitCtx context.Context, runID string, d feed.PageDescriptor, counts *tally, logger zerolog.Logger) error {
	page, err := o.fetchPage(ctx, d)
	if err != nil {
		return fmt.Errorf("page %d: %w", d.Index, err)
	}

	if err := o.upsertAll(ctx, commitCtx, runID, page.Entries, counts); err != nil {
		return fmt.Errorf("page %d: %w", d.Index, err)
	}

	counts.pages.Add(1)
	logger.Debug().
		Str("partition", d.Partition.String()).
		Int("page", d.Index).
		Int("items", len(page.Entries)).
		Msg("Page complete")
	return nil
}

// fetchPage fetches under the page limiter. The slot is released before any
// item is written.
func (o *Orchestrator) fetchPage(ctx context.Context, d feed.PageDescriptor) (*feed.Page, error) {
	if err := o.pages.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.pages.Release(1)

	page, err := o.fetcher.FetchPage(ctx, d)
	if err != nil {
		return nil, err
	}
	pagesFetchedTotal.Inc()
	return page, nil
}

// upsertAll writes entries concurrently under the item limiter. ctx gates
// the start of each upsert; commitCtx is handed to the store.
func (o *Orchestrator) upsertAll(ctx, commitCtx context.Context, runID string, entries []feed.Entry, counts *tally) error {
	g, gctx := newGroup(ctx, o.config.ErrorMode)
	for _, entry := range entries {
		g.Go(func() error {
			res, err := o.upsert(gctx, commitCtx, runID, entry)
			if err != nil {
				return err
			}
			counts.record(res)
			return nil
		})
	}
	return g.Wait()
}

// upsert starts no new write once ctx is done. A started write uses commitCtx
// so a sibling failure cannot abort its transaction halfway.
func (o *Orchestrator) upsert(ctx, commitCtx context.Context, runID string, entry feed.Entry) (Result, error) {
	if err := o.items.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		o.items.Release(1)
		return Result{}, err
	}
	itemsInFlight.Inc()
	defer func() {
		itemsInFlight.Dec()
		o.items.Release(1)
	}()

	return o.executor.Upsert(commitCtx, runID, entry)
}

func (o *Orchestrator) finish(report *Report, err error, logger zerolog.Logger) {
	outcome := "success"
	logEvent := logger.Info()
	if err != nil {
		outcome = "failure"
		logEvent = logger.Error().Err(err)
	}
	runDuration.WithLabelValues(report.Mode, outcome).Observe(report.Duration.Seconds())

	logEvent.
		Str("mode", report.Mode).
		Int("partitions", report.Partitions).
		Int("pages", report.Pages).
		Int("items", report.Items).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Run finished")
}
