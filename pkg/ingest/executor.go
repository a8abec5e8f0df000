// Package ingest mirrors feed partitions into the store: it drives the
// planner and fetcher and writes every item through the upsert executor.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/checkpoint"
	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/Sternrassler/whatsnews-mirror/pkg/retry"
	"github.com/Sternrassler/whatsnews-mirror/pkg/store"
	"github.com/rs/zerolog"
)

// ErrMissingSourceID is returned for entries without an upstream id.
var ErrMissingSourceID = errors.New("entry has no source id")

// Writer performs one transactional item write.
type Writer interface {
	UpsertItem(ctx context.Context, item store.NewsItem, tags []string) (int64, error)
}

// Checkpointer records committed writes so unchanged items can be skipped.
type Checkpointer interface {
	Lookup(ctx context.Context, sourceID string, tags []string) (int64, bool, error)
	Record(ctx context.Context, sourceID string, entry *checkpoint.Entry) error
}

// Verifier confirms that a checkpointed write is present in the store: the
// item exists and carries every tag.
type Verifier interface {
	Stored(ctx context.Context, sourceID string, tags []string) (int64, bool, error)
}

// Result is the outcome of one successful upsert.
type Result struct {
	ItemID  int64
	Skipped bool
}

// Executor writes items under the contention retry policy.
type Executor struct {
	writer      Writer
	verifier    Verifier
	retrier     *retry.Retrier
	checkpoints Checkpointer
	logger      zerolog.Logger
}

// NewExecutor creates an executor. A nil classify uses store.ClassifyError.
// Checkpoints only skip writes when writer also implements Verifier.
func NewExecutor(writer Writer, cfg retry.Config, classify retry.Classifier, logger zerolog.Logger) *Executor {
	if classify == nil {
		classify = store.ClassifyError
	}
	verifier, _ := writer.(Verifier)
	return &Executor{
		writer:   writer,
		verifier: verifier,
		retrier:  retry.New(cfg, classify, logger),
		logger:   logger,
	}
}

// SetCheckpoints enables checkpoint skipping.
func (e *Executor) SetCheckpoints(c Checkpointer) {
	e.checkpoints = c
}

// Retrier returns the retry policy in use.
func (e *Executor) Retrier() *retry.Retrier {
	return e.retrier
}

// Upsert writes one entry: the item, its tags and the associations. On
// success every one of them exists exactly once in the store.
func (e *Executor) Upsert(ctx context.Context, runID string, entry feed.Entry) (Result, error) {
	item := toNewsItem(entry.ToItem())
	tags := entry.TagNames()

	if item.SourceID == "" {
		itemFailuresTotal.WithLabelValues("fatal").Inc()
		return Result{}, ErrMissingSourceID
	}

	if id, ok := e.skippable(ctx, item.SourceID, tags); ok {
		itemsSkippedTotal.Inc()
		return Result{ItemID: id, Skipped: true}, nil
	}

	startTime := time.Now()
	var itemID int64
	err := e.retrier.Do(ctx, "upsert "+item.SourceID, func(ctx context.Context) error {
		id, err := e.writer.UpsertItem(ctx, item, tags)
		if err != nil {
			return err
		}
		itemID = id
		return nil
	})
	upsertDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		itemFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return Result{}, fmt.Errorf("item %s: %w", item.SourceID, err)
	}
	itemsUpsertedTotal.Inc()

	if e.checkpoints != nil {
		if err := e.checkpoints.Record(ctx, item.SourceID, checkpoint.NewEntry(itemID, tags, runID)); err != nil {
			e.logger.Warn().Err(err).Str("source_id", item.SourceID).Msg("Checkpoint record failed")
		}
	}

	return Result{ItemID: itemID}, nil
}

// skippable reports whether a checkpoint matches the tag set and the store
// still holds the item with every tag. Any failure means the write happens.
func (e *Executor) skippable(ctx context.Context, sourceID string, tags []string) (int64, bool) {
	if e.checkpoints == nil || e.verifier == nil {
		return 0, false
	}

	logger := e.logger.With().Str("source_id", sourceID).Logger()

	_, ok, err := e.checkpoints.Lookup(ctx, sourceID, tags)
	if err != nil {
		logger.Warn().Err(err).Msg("Checkpoint lookup failed")
		return 0, false
	}
	if !ok {
		return 0, false
	}

	id, ok, err := e.verifier.Stored(ctx, sourceID, tags)
	if err != nil {
		logger.Warn().Err(err).Msg("Checkpoint verification failed")
		return 0, false
	}
	if !ok {
		logger.Warn().Msg("Checkpoint does not match the store, writing again")
		return 0, false
	}
	return id, true
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, retry.ErrRetryExhausted):
		return "exhausted"
	case errors.Is(err, retry.ErrContextCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fatal"
	}
}

func toNewsItem(item feed.Item) store.NewsItem {
	return store.NewsItem{
		SourceID:        item.SourceID,
		Title:           item.Title,
		Content:         item.Body,
		SourceURL:       item.SourceURL,
		SourceCreatedAt: item.PublishedAt,
	}
}
