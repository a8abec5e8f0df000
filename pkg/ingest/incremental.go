package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/samber/lo"
)

// Index reports which source ids are already stored.
type Index interface {
	ExistingSourceIDs(ctx context.Context, sourceIDs []string) (map[string]bool, error)
}

// CatchUp walks a partition newest first and writes entries until it reaches
// the first source id that is already stored, a short page, or the page
// limit. Pages are read one at a time; the entries of a page are written
// concurrently.
func (o *Orchestrator) CatchUp(ctx context.Context, index Index, partition feed.Partition) (*Report, error) {
	runID := runIDFrom(ctx)
	startedAt := time.Now()
	logger := o.logger.With().Str("run_id", runID).Str("partition", partition.String()).Logger()
	counts := &tally{}

	logger.Info().Msg("Catch-up started")

	err := func() error {
		for pageIndex := 0; o.config.MaxCatchUpPages == 0 || pageIndex < o.config.MaxCatchUpPages; pageIndex++ {
			d := feed.PageDescriptor{
				Partition: partition,
				Size:      o.config.PageSize,
				Index:     pageIndex,
				Sort:      feed.PublishedDesc,
			}
			page, err := o.fetchPage(ctx, d)
			if err != nil {
				return fmt.Errorf("page %d: %w", d.Index, err)
			}

			fresh, reachedKnown, err := unseenPrefix(ctx, index, page.Entries)
			if err != nil {
				return fmt.Errorf("page %d: lookup: %w", d.Index, err)
			}
			if err := o.upsertAll(ctx, ctx, runID, fresh, counts); err != nil {
				return fmt.Errorf("page %d: %w", d.Index, err)
			}
			counts.pages.Add(1)

			logger.Debug().
				Int("page", d.Index).
				Int("new_items", len(fresh)).
				Bool("reached_known", reachedKnown).
				Msg("Catch-up page complete")

			if reachedKnown || len(page.Entries) < d.Size {
				return nil
			}
		}
		logger.Warn().Int("max_pages", o.config.MaxCatchUpPages).Msg("Catch-up page limit reached")
		return nil
	}()
	if err == nil {
		counts.partitions.Add(1)
	}

	report := counts.report(runID, ModeIncremental, startedAt)
	o.finish(report, err, logger)
	return report, err
}

// unseenPrefix returns the entries before the first stored one and whether a
// stored entry was found.
func unseenPrefix(ctx context.Context, index Index, entries []feed.Entry) ([]feed.Entry, bool, error) {
	ids := lo.Map(entries, func(e feed.Entry, _ int) string {
		return e.Item.ID
	})
	existing, err := index.ExistingSourceIDs(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	for i, e := range entries {
		if existing[e.Item.ID] {
			return entries[:i], true, nil
		}
	}
	return entries, false, nil
}
