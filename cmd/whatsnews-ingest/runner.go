package main

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/internal/config"
	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/Sternrassler/whatsnews-mirror/pkg/ingest"
	"github.com/Sternrassler/whatsnews-mirror/pkg/runstate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// trackerTimeout bounds run state writes after the run context is gone.
const trackerTimeout = 5 * time.Second

// runner executes ingest runs, once or on an interval. tracker may be nil.
type runner struct {
	orchestrator *ingest.Orchestrator
	index        ingest.Index
	tracker      *runstate.Tracker
	mode         string
	catchUp      feed.Partition
	interval     time.Duration
	logger       zerolog.Logger
}

// loop performs a single run when no interval is set and returns its error.
// Otherwise it runs immediately and then on every tick until ctx is done;
// failed runs are logged and the loop continues.
func (r *runner) loop(ctx context.Context) error {
	if r.interval <= 0 {
		_, err := r.once(ctx)
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if r.shouldRun(ctx) {
			if _, err := r.once(ctx); err != nil {
				r.logger.Error().Err(err).Dur("next_in", r.interval).Msg("Scheduled run failed")
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// shouldRun asks the tracker whether another process ran recently. Without
// a tracker, or when it cannot answer, the run proceeds.
func (r *runner) shouldRun(ctx context.Context) bool {
	if r.tracker == nil {
		return true
	}
	ok, err := r.tracker.ShouldRun(ctx, r.interval/2, 2*r.interval)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Run state unavailable, running anyway")
		return true
	}
	return ok
}

// once performs one run in the configured mode and records it with the
// tracker. It returns runstate.ErrRunActive without running when the
// tracker reports another active run.
func (r *runner) once(ctx context.Context) (*ingest.Report, error) {
	runID := uuid.NewString()
	ctx = ingest.WithRunID(ctx, runID)

	tracked := false
	if r.tracker != nil {
		err := r.tracker.Start(ctx, runID, r.mode)
		switch {
		case errors.Is(err, runstate.ErrRunActive):
			return nil, err
		case err != nil:
			r.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run start")
		default:
			tracked = true
		}
	}

	var (
		report *ingest.Report
		err    error
	)
	switch r.mode {
	case config.ModeIncremental:
		report, err = r.orchestrator.CatchUp(ctx, r.index, r.catchUp)
	default:
		report, err = r.orchestrator.Run(ctx)
	}

	if tracked {
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackerTimeout)
		defer cancel()
		if ferr := r.tracker.Finish(finishCtx, runID, report.Counters(), err); ferr != nil {
			r.logger.Warn().Err(ferr).Str("run_id", runID).Msg("Failed to record run outcome")
		}
	}

	return report, err
}
